package testutils

import "testing"

func TestDiffAsserterAcceptsIdenticalText(t *testing.T) {
	inner := &testing.T{}
	NewDiffAsserter(inner).Equal("abc\ndef", "abc\ndef")
	if inner.Failed() {
		t.Fatal("expected no failure for identical text")
	}
}

func TestDiffAsserterIgnoresSurroundingWhitespaceByDefault(t *testing.T) {
	inner := &testing.T{}
	NewDiffAsserter(inner).Equal("abc", "  abc  ")
	if inner.Failed() {
		t.Fatal("expected TrimSpace default to absorb surrounding whitespace")
	}
}

func TestDiffAsserterReportsMismatch(t *testing.T) {
	inner := &testing.T{}
	NewDiffAsserter(inner).Equal("abc", "xyz")
	if !inner.Failed() {
		t.Fatal("expected a failure for differing text")
	}
}
