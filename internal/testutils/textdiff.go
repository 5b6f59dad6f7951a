// Package testutils holds a small assertion helper: a unified-diff text
// comparator for multi-line text such as game program/state dumps, whose
// failures are easier to read as a diff than as two long strings side by
// side.
package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	defaults "github.com/mcuadros/go-defaults"
)

// DiffOptions controls how two texts are normalized before comparison.
type DiffOptions struct {
	IgnoreEmptyLines bool `default:"false"`
	TrimSpace        bool `default:"true"`
	EnableColors     bool `default:"false"`
}

// DiffAsserter compares expected/actual text and reports a unified diff
// on mismatch instead of testify's default side-by-side dump, which gets
// unreadable once a game program or transition table spans more than a
// couple of lines.
type DiffAsserter struct {
	t       *testing.T
	options DiffOptions
}

// NewDiffAsserter returns a DiffAsserter with defaults applied from the
// DiffOptions struct tags.
func NewDiffAsserter(t *testing.T) *DiffAsserter {
	opts := DiffOptions{}
	defaults.SetDefaults(&opts)
	return &DiffAsserter{t: t, options: opts}
}

// WithColors turns on ANSI coloring of the diff output (useful when
// running a single test interactively; left off by default so CI logs
// stay plain).
func (d *DiffAsserter) WithColors(enable bool) *DiffAsserter {
	d.options.EnableColors = enable
	return d
}

// Equal fails the test with a unified diff if expected and actual differ
// after normalization.
func (d *DiffAsserter) Equal(expected, actual string) {
	d.t.Helper()
	diff := d.diff(expected, actual)
	if diff != "" {
		d.t.Errorf("text mismatch:\n%s", diff)
	}
}

func (d *DiffAsserter) diff(expected, actual string) string {
	ne, na := d.normalize(expected), d.normalize(actual)
	if ne == na {
		return ""
	}
	edits := myers.ComputeEdits("", ne, na)
	unified := gotextdiff.ToUnified("expected", "actual", ne, edits)
	return d.colorize(fmt.Sprint(unified))
}

func (d *DiffAsserter) normalize(text string) string {
	if d.options.TrimSpace {
		text = strings.TrimSpace(text)
	}
	if !d.options.IgnoreEmptyLines {
		return text
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func (d *DiffAsserter) colorize(diff string) string {
	if !d.options.EnableColors {
		return diff
	}
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}
