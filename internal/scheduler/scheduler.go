// Package scheduler runs the single-connection-at-a-time polling loop
// that turns the adapter's raw scan table into bounded-lifetime per-badge
// tasks: it ages out stale advertisements, orders candidates by how long
// they've been left alone, applies cooldown/RSSI/capacity gates, and
// hands each eligible badge's connection to a caller-supplied task body.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/eastside-lobby/nametag-fleet/internal/adapter"
	"github.com/eastside-lobby/nametag-fleet/internal/badge"
	"github.com/eastside-lobby/nametag-fleet/internal/serialport"
	"github.com/eastside-lobby/nametag-fleet/internal/task"
)

// TaskBody is the caller-supplied per-badge routine. It receives a
// wrapper around an already-connected badge and runs under task_timeout;
// returning nil counts as a success for SuccessDelay purposes.
type TaskBody func(ctx context.Context, b *badge.Badge) error

// Scheduler owns the adapter lifecycle and the per-badge task group built
// on top of it.
type Scheduler struct {
	cfg    Config
	logger *logrus.Logger
	backup *badge.BackupCache
	body   TaskBody
	events *EventLog

	tasks *task.Group

	mu         sync.Mutex
	history    map[string]history
	lastStatus time.Time
}

// New creates a Scheduler. backup is typically shared across scheduler
// restarts so stash contents survive an adapter drop/rediscover cycle.
func New(cfg Config, logger *logrus.Logger, backup *badge.BackupCache, body TaskBody) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		cfg:     cfg,
		logger:  logger,
		backup:  backup,
		body:    body,
		events:  NewEventLog(cfg.EventLogCapacity),
		tasks:   task.NewGroup(),
		history: make(map[string]history),
	}
}

// Events returns the bounded recent-outcome backlog for external
// observers.
func (s *Scheduler) Events() *EventLog { return s.events }

// Run is the adapter lifecycle outer loop: discover the serial device,
// open it, drive one adapter session's scheduling loop until it ends with
// a *serialport.PortError, and retry after DiscoveryBackoff. Returns only
// once ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		path, err := discoverPort(s.cfg.PortPattern)
		if err != nil {
			s.logger.WithError(err).Debug("no adapter found yet")
			if !sleepOrDone(ctx, s.cfg.DiscoveryBackoff) {
				return ctx.Err()
			}
			continue
		}

		port, err := serialport.Open(path, s.logger)
		if err != nil {
			s.logger.WithError(err).WithField("port", path).Warn("failed to open adapter")
			if !sleepOrDone(ctx, s.cfg.DiscoveryBackoff) {
				return ctx.Err()
			}
			continue
		}

		err = s.runSession(ctx, port)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.WithError(err).Warn("adapter session ended, rediscovering")
		}
		if !sleepOrDone(ctx, s.cfg.DiscoveryBackoff) {
			return ctx.Err()
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

// runSession drives one adapter instance's scheduling loop until the
// adapter's own Run returns, then cancels and awaits every outstanding
// per-badge task before handing control back to Run.
func (s *Scheduler) runSession(ctx context.Context, port serialport.Port) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := adapter.New(port, s.logger)

	runDone := make(chan error, 1)
	task.Go(sessionCtx, "adapter-run", func(ctx context.Context) {
		runDone <- a.Run(ctx)
	})

	loopErr := s.pollLoop(sessionCtx, a, runDone)
	cancel()
	s.tasks.CancelAndWaitAll()
	<-runDone
	return loopErr
}

// pollLoop is the cooperative scan/classify/spawn cycle.
func (s *Scheduler) pollLoop(ctx context.Context, a *adapter.Adapter, runDone <-chan error) error {
	for {
		select {
		case err := <-runDone:
			return err
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		spawned, statuses := s.pass(ctx, a)
		s.maybeEmitStatus(spawned, statuses)

		select {
		case err := <-runDone:
			return err
		case <-time.After(s.cfg.LoopDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

type statusEntry struct {
	badgeID string
	d       Disposition
}

// pass polls the device table once, orders candidates least-recently
// acted-upon first, classifies each, and spawns every one whose status
// comes out Queued.
func (s *Scheduler) pass(ctx context.Context, a *adapter.Adapter) (bool, []statusEntry) {
	now := time.Now()
	snaps := a.Devices()

	candidates := make([]candidate, 0, len(snaps))
	for _, snap := range snaps {
		if !snap.IsBadge || snap.BadgeID == "" {
			continue
		}
		// A badge not seen in over twice the maximum age is dropped from
		// consideration (and the status line) entirely, rather than merely
		// classified Stale: it is old enough to be considered gone, not
		// just out of range.
		if now.Sub(snap.LastSeenMonotonic) > 2*s.cfg.MaximumAge {
			continue
		}
		candidates = append(candidates, candidate{snap: snap, hist: s.historyFor(snap.BadgeID)})
	}
	orderCandidates(candidates)

	spawned := false
	statuses := make([]statusEntry, 0, len(candidates))
	for _, c := range candidates {
		taskRunning := s.tasks.Running(c.snap.BadgeID)
		ready := a.ReadyToConnect(c.snap.Address)
		d := classify(s.cfg, now, c, taskRunning, ready)
		statuses = append(statuses, statusEntry{badgeID: c.snap.BadgeID, d: d})

		if d == DispositionQueued {
			s.spawn(ctx, a, c.snap)
			spawned = true
		}
	}
	return spawned, statuses
}

func (s *Scheduler) historyFor(badgeID string) history {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history[badgeID]
}

func (s *Scheduler) recordAttempt(badgeID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[badgeID]
	h.lastAttempt = at
	s.history[badgeID] = h
}

func (s *Scheduler) recordSuccess(badgeID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[badgeID]
	h.lastSuccess = at
	s.history[badgeID] = h
}

// spawn reserves the badge id in the task group and starts its bounded
// task. The adapter-wide "busy connecting" slot is reserved and released
// inside Adapter.Connect itself; by the time it resolves the per-device
// task already holds the connection, which is the hand-off the design
// calls for.
func (s *Scheduler) spawn(parent context.Context, a *adapter.Adapter, snap adapter.Snapshot) {
	now := time.Now()
	s.recordAttempt(snap.BadgeID, now)

	h := task.Spawn(parent, "badge-"+snap.BadgeID, func(ctx context.Context) error {
		taskCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
		defer cancel()
		return s.runOne(taskCtx, a, snap)
	})

	if !s.tasks.TryAdd(snap.BadgeID, h) {
		h.Cancel()
		return
	}

	go s.watchCompletion(snap.BadgeID, h)
}

// watchCompletion classifies a finished task's outcome: a clean return
// records a success; connection/protocol/adapter errors are expected
// operational noise and are warned; cancellation is never an error;
// anything else is logged as a failure.
func (s *Scheduler) watchCompletion(badgeID string, h *task.Handle) {
	err := h.Wait()
	s.tasks.Remove(badgeID)

	switch {
	case err == nil:
		s.recordSuccess(badgeID, time.Now())
	case errors.Is(err, context.Canceled):
		s.logger.WithField("badge", badgeID).Debug("badge task cancelled")
	case isExpectedOperationalError(err):
		s.logger.WithFields(logrus.Fields{"badge": badgeID, "err": err}).Warn("badge task ended")
	default:
		s.logger.WithFields(logrus.Fields{"badge": badgeID, "err": err}).Error("badge task failed")
	}

	s.events.Record(Event{BadgeID: badgeID, Err: err, At: time.Now()})
}

func isExpectedOperationalError(err error) bool {
	var connErr *adapter.ConnectionError
	var protoErr *badge.ProtocolError
	var adapterErr *adapter.AdapterError
	if errors.As(err, &connErr) || errors.As(err, &protoErr) || errors.As(err, &adapterErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// runOne is the scoped connection: connect, hand the caller's body a
// Badge, flush, and disconnect on every exit path.
func (s *Scheduler) runOne(ctx context.Context, a *adapter.Adapter, snap adapter.Snapshot) error {
	if err := a.Connect(ctx, snap.Address); err != nil {
		return err
	}
	defer func() { _ = a.Disconnect(snap.Address) }()

	b := badge.New(a, snap.Address, snap.BadgeID, s.backup)
	if err := s.body(ctx, b); err != nil {
		return err
	}
	return a.Flush(ctx, snap.Address)
}

// maybeEmitStatus logs a colorized per-badge summary line at most every
// StatusInterval, or immediately whenever a task was just spawned.
func (s *Scheduler) maybeEmitStatus(spawned bool, statuses []statusEntry) {
	now := time.Now()

	s.mu.Lock()
	due := spawned || now.Sub(s.lastStatus) >= s.cfg.StatusInterval
	if due {
		s.lastStatus = now
	}
	s.mu.Unlock()

	if !due || len(statuses) == 0 {
		return
	}

	parts := make([]string, 0, len(statuses))
	for _, st := range statuses {
		parts = append(parts, dispositionColor(st.d).Sprintf("%s:%s", st.badgeID, st.d))
	}
	s.logger.Info(strings.Join(parts, "  "))
}

func dispositionColor(d Disposition) *color.Color {
	switch d {
	case DispositionConnected:
		return color.New(color.FgGreen)
	case DispositionTaskRunning:
		return color.New(color.FgCyan)
	case DispositionQueued:
		return color.New(color.FgYellow)
	case DispositionStale, DispositionWeakSignal:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgWhite)
	}
}
