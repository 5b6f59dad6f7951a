package scheduler

import (
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Event is one completed badge task outcome, kept for external observers
// (a status endpoint, a log tailer) that want recent history without
// polling the scheduler's live state on every tick.
type Event struct {
	BadgeID string
	Err     error
	At      time.Time
}

// EventLog is a bounded, overwrite-on-full backlog of recent scheduler
// events. The oldest entry is silently dropped once the ring fills; the
// log does not report how many entries were dropped.
type EventLog struct {
	buf mpmc.RichOverlappedRingBuffer[Event]
}

// NewEventLog allocates a log that holds at most capacity events.
func NewEventLog(capacity uint32) *EventLog {
	if capacity == 0 {
		capacity = 1
	}
	return &EventLog{buf: mpmc.NewOverlappedRingBuffer[Event](capacity)}
}

// Record appends ev, overwriting the oldest entry if the log is full.
func (l *EventLog) Record(ev Event) {
	_, _ = l.buf.EnqueueM(ev)
}

// Drain removes and returns every currently buffered event, oldest first.
func (l *EventLog) Drain() []Event {
	var out []Event
	for !l.buf.IsEmpty() {
		ev, err := l.buf.Dequeue()
		if err != nil {
			break
		}
		out = append(out, ev)
	}
	return out
}
