package scheduler

import (
	"time"

	"github.com/mcuadros/go-defaults"
)

// Config carries every knob the scheduling loop consults. Populate it with
// defaults.SetDefaults(&cfg) and override only the fields the caller cares
// about.
type Config struct {
	// PortPattern matches the serial device path (or, where available, its
	// vendor:product sysfs identity) the adapter should be opened against.
	PortPattern string `default:"ttyACM"`

	// SuccessDelay is how long a badge is left alone after a clean task
	// completion before it is eligible to be scheduled again.
	SuccessDelay time.Duration `default:"30s"`
	// AttemptDelay is the shorter cooldown applied after any attempt,
	// successful or not, to avoid hammering a badge that just failed.
	AttemptDelay time.Duration `default:"0s"`
	// LoopDelay is the sleep between scheduling passes.
	LoopDelay time.Duration `default:"100ms"`
	// MaximumAge is how stale a scan advertisement may be (relative to
	// now) before the badge is treated as out of range. The loop itself
	// tolerates 2x this before dropping a candidate from consideration
	// entirely.
	MaximumAge time.Duration `default:"5s"`
	// MinimumRSSI is the signal-strength floor: a badge reporting this
	// RSSI or weaker is classified as a weak signal and not connected.
	MinimumRSSI int `default:"-80"`
	// TaskTimeout bounds how long a spawned per-badge task may run before
	// it is cancelled.
	TaskTimeout time.Duration `default:"30s"`
	// StatusInterval is the minimum spacing between unforced status line
	// emissions.
	StatusInterval time.Duration `default:"500ms"`

	// DiscoveryBackoff is the pause between failed attempts to locate and
	// open the adapter's serial device.
	DiscoveryBackoff time.Duration `default:"100ms"`

	// EventLogCapacity sizes the bounded recent-task-outcome backlog
	// exposed to external observers.
	EventLogCapacity uint32 `default:"64"`
}

// DefaultConfig returns a Config with every documented knob set from its
// struct tag, ready for a caller to override selectively.
func DefaultConfig() Config {
	var cfg Config
	defaults.SetDefaults(&cfg)
	return cfg
}
