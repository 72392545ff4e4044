// Package registry implements the process-wide operation index described
// in the spec's Registry component: a live map of in-flight operations plus
// a bounded FIFO history of terminal snapshots, filtered listing, bulk
// cancel, cleanup, and statistics.
//
// Grounded on original_source's hother/cancelable/core/registry.py
// (single-lock live+history table, deep-copied snapshots on eviction) and on
// joeycumines-go-utilpkg's general preference for golang.org/x/sync
// primitives over hand-rolled sync.WaitGroup fan-out, as seen in
// microbatch.Batcher's concurrency-limited dispatch.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hotherio/cancelable-go/internal/obslog"
	"github.com/hotherio/cancelable-go/token"
)

// Status is the lifecycle state of a registered operation.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusShielded
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusShielded:
		return "shielded"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// terminal reports whether s is one of the three terminal statuses.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Context is a point-in-time, deep-copied snapshot of an operation - the
// spec's OperationContext. Registry history is a slice of these, never of
// live Entry references.
type Context struct {
	ID       string
	Name     string
	ParentID string
	Metadata map[string]any

	Status    Status
	StartTime time.Time
	EndTime   time.Time

	CancelReason  token.Reason
	CancelMessage string
	Err           string
	PartialResult any
}

// Duration is EndTime - StartTime, or zero if either is unset.
func (c Context) Duration() time.Duration {
	if c.StartTime.IsZero() || c.EndTime.IsZero() {
		return 0
	}
	return c.EndTime.Sub(c.StartTime)
}

// Entry is anything the registry can track: Scope implements this.
// Snapshot must return a deep, independent copy - the registry never
// assumes it can safely alias a live operation's mutable state.
type Entry interface {
	ID() string
	ParentID() string
	Snapshot() Context
	Cancel(reason token.Reason, message string, propagate bool)
}

// DefaultHistoryCap matches the spec's "default cap 1000".
const DefaultHistoryCap = 1000

// Registry is a concurrency-safe index of live operations plus a bounded
// history of terminal snapshots. The zero value is not usable; use New.
type Registry struct {
	mu         sync.Mutex
	live       map[string]Entry
	history    []Context
	historyCap int
	logger     obslog.Logger
}

// Option configures a Registry constructed by New.
type Option func(*Registry)

// WithHistoryCap overrides DefaultHistoryCap.
func WithHistoryCap(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.historyCap = n
		}
	}
}

// WithLogger attaches a structured logger. Defaults to a discard logger.
func WithLogger(l obslog.Logger) Option {
	return func(r *Registry) { r.logger = obslog.Or(l) }
}

// New constructs a Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		live:       make(map[string]Entry),
		historyCap: DefaultHistoryCap,
		logger:     obslog.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide singleton Registry, constructing it on
// first use.
func Default() *Registry {
	defaultOnce.Do(func() { defaultReg = New() })
	return defaultReg
}

// Register adds e to the live table.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[e.ID()] = e
	r.logger.Debug("registry: registered", obslog.F("id", e.ID()))
}

// Unregister removes e from the live table and pushes a snapshot of it into
// history, evicting the oldest entry if at capacity. A no-op if id isn't
// live.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.live[id]
	if !ok {
		return
	}
	delete(r.live, id)
	r.pushHistoryLocked(e.Snapshot())
}

func (r *Registry) pushHistoryLocked(c Context) {
	r.history = append(r.history, c)
	if over := len(r.history) - r.historyCap; over > 0 {
		r.history = r.history[over:]
	}
}

// Get returns the live entry for id, if any.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.live[id]
	return e, ok
}

// Filter narrows List/CancelAll to a subset of live entries. A nil/empty
// field is unconstrained.
type Filter struct {
	Status        *Status
	ParentID      string
	NameSubstring string
}

func (f Filter) matches(c Context) bool {
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if f.ParentID != "" && c.ParentID != f.ParentID {
		return false
	}
	if f.NameSubstring != "" && !strings.Contains(c.Name, f.NameSubstring) {
		return false
	}
	return true
}

// List returns every live entry matching filter, snapshot-ordered by id for
// determinism. The live table is copied under the lock, then filtered
// outside it.
func (r *Registry) List(filter Filter) []Entry {
	r.mu.Lock()
	copied := make([]Entry, 0, len(r.live))
	for _, e := range r.live {
		copied = append(copied, e)
	}
	r.mu.Unlock()

	out := make([]Entry, 0, len(copied))
	for _, e := range copied {
		if filter.matches(e.Snapshot()) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// CancelOne resolves id and cancels it, returning false if id isn't live.
func (r *Registry) CancelOne(id string, reason token.Reason, message string) bool {
	e, ok := r.Get(id)
	if !ok {
		return false
	}
	e.Cancel(reason, message, true)
	return true
}

// CancelAll cancels every live entry matching filter concurrently, via
// errgroup - modeled on microbatch.Batcher's concurrency-limited fan-out -
// and returns how many were attempted. Per-entry panics are recovered and
// logged so one bad entry cannot abort the sweep.
func (r *Registry) CancelAll(filter Filter, reason token.Reason, message string) int {
	entries := r.List(filter)
	if len(entries) == 0 {
		return 0
	}

	var g errgroup.Group
	for _, e := range entries {
		e := e
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("registry: cancel_all entry panicked",
						obslog.F("id", e.ID()), obslog.F("panic", rec))
				}
			}()
			e.Cancel(reason, message, true)
			return nil
		})
	}
	_ = g.Wait()
	return len(entries)
}

// History returns up to limit history entries (most recent last), optionally
// filtered by status and/or a minimum EndTime. limit <= 0 means unbounded.
func (r *Registry) History(limit int, status *Status, since time.Time) []Context {
	r.mu.Lock()
	copied := make([]Context, len(r.history))
	copy(copied, r.history)
	r.mu.Unlock()

	out := make([]Context, 0, len(copied))
	for _, c := range copied {
		if status != nil && c.Status != *status {
			continue
		}
		if !since.IsZero() && c.EndTime.Before(since) {
			continue
		}
		out = append(out, c)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// CleanupCompleted moves terminal live entries into history. If an entry's
// EndTime is older than olderThan (0 means "any age"), it's eligible. If
// keepFailed is true, FAILED entries are left live rather than swept.
// Returns the number of entries moved.
func (r *Registry) CleanupCompleted(olderThan time.Duration, keepFailed bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	moved := 0
	for id, e := range r.live {
		snap := e.Snapshot()
		if !snap.Status.terminal() {
			continue
		}
		if keepFailed && snap.Status == StatusFailed {
			continue
		}
		if olderThan > 0 && time.Since(snap.EndTime) < olderThan {
			continue
		}
		delete(r.live, id)
		r.pushHistoryLocked(snap)
		moved++
	}
	return moved
}

// Statistics summarizes the registry's current state.
type Statistics struct {
	ActiveByStatus     map[Status]int
	HistoryByStatus    map[Status]int
	AvgSuccessDuration time.Duration
	TotalSuccesses     int
}

// Statistics computes a fresh summary of live and history state.
func (r *Registry) Statistics() Statistics {
	r.mu.Lock()
	liveSnaps := make([]Context, 0, len(r.live))
	for _, e := range r.live {
		liveSnaps = append(liveSnaps, e.Snapshot())
	}
	history := make([]Context, len(r.history))
	copy(history, r.history)
	r.mu.Unlock()

	stats := Statistics{
		ActiveByStatus:  make(map[Status]int),
		HistoryByStatus: make(map[Status]int),
	}
	for _, c := range liveSnaps {
		stats.ActiveByStatus[c.Status]++
	}
	var total time.Duration
	for _, c := range history {
		stats.HistoryByStatus[c.Status]++
		if c.Status == StatusCompleted {
			stats.TotalSuccesses++
			total += c.Duration()
		}
	}
	if stats.TotalSuccesses > 0 {
		stats.AvgSuccessDuration = total / time.Duration(stats.TotalSuccesses)
	}
	return stats
}

// ClearAll empties the live table and history. For tests only.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = make(map[string]Entry)
	r.history = nil
}
