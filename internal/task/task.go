// Package task starts and tracks the bounded-lifetime goroutines the
// scheduler spawns, one per badge encounter.
package task

import (
	"bytes"
	"context"
	"runtime"
	"runtime/pprof"
	"strconv"
	"sync"
)

type ctxKey string

const nameKey ctxKey = "task_name"

// Go starts a labeled goroutine under parentCtx (context.Background() if
// nil). The label shows up in pprof goroutine dumps and is retrievable from
// the context via GetName.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("task_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, nameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the task name stashed in the context by Go.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(nameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetGID returns the numeric goroutine ID (for debug logging only).
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	gid, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return gid
}

// Handle tracks one spawned, cancellable, awaitable task.
type Handle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Spawn runs fn(ctx) under a context derived from parent with cancel
// wired up, and returns a Handle the caller can Cancel or Wait on.
// fn's return value becomes the error observed by Wait.
func Spawn(parent context.Context, name string, fn func(ctx context.Context) error) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{name: name, cancel: cancel, done: make(chan struct{})}

	Go(ctx, name, func(ctx context.Context) {
		defer close(h.done)
		h.err = fn(ctx)
	})

	return h
}

// Cancel requests early termination. It does not block for completion.
func (h *Handle) Cancel() {
	h.cancel()
}

// Wait blocks until the task finishes and returns its error.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}

// Done reports whether the task has finished.
func (h *Handle) Done() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Name returns the task's label.
func (h *Handle) Name() string {
	return h.name
}

// Group tracks a set of in-flight task handles keyed by an arbitrary id
// (in this module, the badge id), so the scheduler can tell whether a
// badge already has a task running and can cancel-and-await everything
// on shutdown.
type Group struct {
	mu    sync.Mutex
	tasks map[string]*Handle
}

// NewGroup returns an empty task group.
func NewGroup() *Group {
	return &Group{tasks: make(map[string]*Handle)}
}

// TryAdd registers h under id if no task is already registered there.
// It reports whether the registration succeeded.
func (g *Group) TryAdd(id string, h *Handle) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.tasks[id]; busy {
		return false
	}
	g.tasks[id] = h
	return true
}

// Running reports whether id currently has a registered, unfinished task.
// A finished task is reaped and reported as not running.
func (g *Group) Running(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.tasks[id]
	if !ok {
		return false
	}
	if h.Done() {
		delete(g.tasks, id)
		return false
	}
	return true
}

// Remove unregisters id regardless of completion state.
func (g *Group) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tasks, id)
}

// CancelAndWaitAll cancels every registered task and blocks until all of
// them have returned, then clears the group.
func (g *Group) CancelAndWaitAll() {
	g.mu.Lock()
	handles := make([]*Handle, 0, len(g.tasks))
	for _, h := range g.tasks {
		handles = append(handles, h)
	}
	g.tasks = make(map[string]*Handle)
	g.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	for _, h := range handles {
		_ = h.Wait()
	}
}
