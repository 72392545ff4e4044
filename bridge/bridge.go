// Package bridge implements the thread-to-loop shim described in the
// spec's "Thread→Loop Bridge" component: it lets code running on an
// arbitrary goroutine (an OS signal handler, a worker pool, a desktop input
// thread) hand a callable to whichever goroutine is pumping the bridge,
// without that goroutine needing to synchronize directly with the
// submitter.
//
// Grounded on eventloop.Loop.Submit's external-queue-mutex-then-wakeup
// pattern (teacher repo) and on original_source's
// utils/anyio_bridge.AnyioBridge: a bounded (1000) channel once started, a
// thread-locked staging slice before started, drop-with-warning on
// overflow, idempotent Start.
package bridge

import (
	"context"
	"sync"

	"github.com/hotherio/cancelable-go/internal/obslog"
)

// DefaultCapacity is the buffered queue size used when Option WithCapacity
// is not given, matching the spec's "capacity 1000".
const DefaultCapacity = 1000

// Task is a callable submitted across goroutines. Tasks run sequentially,
// in submission order, on whichever goroutine is executing Run. A Task that
// needs to do its own asynchronous work should spawn and manage that work
// itself; Run does not wait on anything beyond the Task call itself.
type Task func()

// Bridge is a thread-safe callable queue bridging arbitrary goroutines to a
// single consumer goroutine. The zero value is not usable; use New.
type Bridge struct {
	capacity int
	logger   obslog.Logger

	mu      sync.Mutex
	started bool
	pending []Task // pre-start staging, unbounded (thread-locked, drained on Run)

	ch chan Task
}

// Option configures a Bridge constructed by New.
type Option func(*Bridge)

// WithCapacity overrides DefaultCapacity.
func WithCapacity(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithLogger attaches a structured logger. Defaults to a discard logger.
func WithLogger(l obslog.Logger) Option {
	return func(b *Bridge) { b.logger = obslog.Or(l) }
}

// New constructs a Bridge. Call Run on the goroutine that should execute
// submitted tasks before relying on CallSoonThreadsafe to have any effect
// beyond staging.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		capacity: DefaultCapacity,
		logger:   obslog.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.ch = make(chan Task, b.capacity)
	return b
}

var (
	defaultOnce   sync.Once
	defaultBridge *Bridge
)

// Default returns the process-wide singleton Bridge, constructing it on
// first use. Most applications only need one Bridge; tests that need
// isolation should use New directly.
func Default() *Bridge {
	defaultOnce.Do(func() { defaultBridge = New() })
	return defaultBridge
}

// CallSoonThreadsafe schedules task to run on whichever goroutine is
// executing Run, in submission order, exactly once. Safe to call from any
// goroutine, including one not managed by this package (an OS signal
// handler, a third-party thread pool).
//
// If Run hasn't been called yet, task is staged and will run once it is. If
// the bridge is already running and its queue is full, task is dropped and
// a warning is logged - callers must treat this as best-effort, matching
// the spec's bridge-overflow semantics.
func (b *Bridge) CallSoonThreadsafe(task Task) {
	if task == nil {
		return
	}

	b.mu.Lock()
	if !b.started {
		b.pending = append(b.pending, task)
		b.mu.Unlock()
		b.logger.Debug("bridge: staged callable before start", obslog.F("pending", len(b.pending)))
		return
	}
	b.mu.Unlock()

	select {
	case b.ch <- task:
	default:
		b.logger.Warn("bridge: queue full, dropping callable", obslog.F("capacity", b.capacity))
	}
}

// Run drains staged callables and then executes submitted tasks, in
// submission order, until ctx is done. Run is idempotent: calling it again
// while already running is a no-op that returns immediately. It is the
// caller's responsibility to run Run as a long-lived task on the goroutine
// that should own submitted callables, per the spec's "must be invoked as a
// long-running task on the target event loop" contract.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	staged := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, task := range staged {
		select {
		case b.ch <- task:
		default:
			b.logger.Warn("bridge: queue full draining staged callables, dropping", obslog.F("capacity", b.capacity))
		}
	}

	b.logger.Info("bridge started", obslog.F("staged", len(staged)))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-b.ch:
			b.safeRun(task)
		}
	}
}

func (b *Bridge) safeRun(task Task) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bridge: callable panicked", obslog.F("panic", r))
		}
	}()
	task()
}

// Started reports whether Run has been called at least once.
func (b *Bridge) Started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}
