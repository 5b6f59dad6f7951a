package scheduler

import (
	"sort"
	"time"

	"github.com/eastside-lobby/nametag-fleet/internal/adapter"
)

// Disposition is why a badge was or wasn't spawned on a given pass. The
// scheduler evaluates them in declaration order and stops at the first
// one that applies.
type Disposition int

const (
	DispositionConnected Disposition = iota
	DispositionHandlePending
	DispositionTaskRunning
	DispositionCoolingDownSuccess
	DispositionCoolingDownAttempt
	DispositionStale
	DispositionWeakSignal
	DispositionAdapterBusy
	DispositionQueued
)

func (d Disposition) String() string {
	switch d {
	case DispositionConnected:
		return "connected"
	case DispositionHandlePending:
		return "pending"
	case DispositionTaskRunning:
		return "in-task"
	case DispositionCoolingDownSuccess:
		return "cooling down"
	case DispositionCoolingDownAttempt:
		return "cooling down"
	case DispositionStale:
		return "out of range"
	case DispositionWeakSignal:
		return "weak signal"
	case DispositionAdapterBusy:
		return "queued"
	case DispositionQueued:
		return "queued"
	default:
		return "unknown"
	}
}

// history is the scheduler's per-badge memory of its own activity; it has
// no counterpart in DeviceRecord because the adapter doesn't know about
// task outcomes.
type history struct {
	lastSuccess time.Time
	lastAttempt time.Time
}

// candidate pairs a device snapshot with the scheduler's own bookkeeping
// for it, for the purposes of ordering and classification.
type candidate struct {
	snap adapter.Snapshot
	hist history
}

// classify determines a badge's disposition for the current pass. taskRunning
// and readyToConnect are pre-computed by the caller (they depend on
// scheduler/adapter state outside what a Snapshot carries).
func classify(cfg Config, now time.Time, c candidate, taskRunning, readyToConnect bool) Disposition {
	switch c.snap.HandleState {
	case adapter.HandleConnected:
		return DispositionConnected
	case adapter.HandlePending:
		return DispositionHandlePending
	}

	if taskRunning {
		return DispositionTaskRunning
	}

	if !c.hist.lastSuccess.IsZero() && now.Sub(c.hist.lastSuccess) < cfg.SuccessDelay {
		return DispositionCoolingDownSuccess
	}
	if !c.hist.lastAttempt.IsZero() && now.Sub(c.hist.lastAttempt) < cfg.AttemptDelay {
		return DispositionCoolingDownAttempt
	}

	if now.Sub(c.snap.LastSeenMonotonic) > cfg.MaximumAge {
		return DispositionStale
	}
	if c.snap.RSSI <= cfg.MinimumRSSI {
		return DispositionWeakSignal
	}
	if !readyToConnect {
		return DispositionAdapterBusy
	}
	return DispositionQueued
}

// orderCandidates sorts badges least-recently-acted-upon first:
// ascending by (last_success, last_attempt, id), all ties broken on id.
func orderCandidates(cs []candidate) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if !a.hist.lastSuccess.Equal(b.hist.lastSuccess) {
			return a.hist.lastSuccess.Before(b.hist.lastSuccess)
		}
		if !a.hist.lastAttempt.Equal(b.hist.lastAttempt) {
			return a.hist.lastAttempt.Before(b.hist.lastAttempt)
		}
		return a.snap.BadgeID < b.snap.BadgeID
	})
}
