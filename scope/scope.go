// Package scope implements the spec's Scope component: a hierarchical,
// lifecycled operation that owns a Token, a set of cancellation Sources,
// children, callback tables, and a terminal OperationContext snapshot.
//
// Grounded on original_source's hother/cancelable/core/cancellable.py
// (Cancellable.__aenter__/__aexit__ terminal-status derivation, combine())
// and on joeycumines-go-utilpkg's microbatch.Batcher for its
// functional-options construction style and context.Context-based
// lifecycle plumbing.
package scope

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hotherio/cancelable-go/internal/obslog"
	"github.com/hotherio/cancelable-go/registry"
	"github.com/hotherio/cancelable-go/source"
	"github.com/hotherio/cancelable-go/stream"
	"github.com/hotherio/cancelable-go/token"
)

// Status mirrors registry.Status; re-exported here so callers working
// exclusively with scope don't need to import registry for the type.
type Status = registry.Status

const (
	StatusPending   = registry.StatusPending
	StatusRunning   = registry.StatusRunning
	StatusShielded  = registry.StatusShielded
	StatusCompleted = registry.StatusCompleted
	StatusFailed    = registry.StatusFailed
	StatusCancelled = registry.StatusCancelled
)

// Context is a snapshot of a Scope's OperationContext. Alias of
// registry.Context so Scope.Snapshot satisfies registry.Entry directly.
type Context = registry.Context

// Callback receives a terminal or start Context snapshot.
type Callback func(Context)

// ProgressCallback receives a progress event.
type ProgressCallback func(message string, metadata map[string]any)

type ctxKey struct{}

// FromContext returns the Scope published by the nearest enclosing Run
// call, if any.
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Scope)
	return s, ok
}

// Scope is a bounded, lifecycled operation: the library's user-facing type.
// The zero value is not usable; use New or one of the With* factories.
type Scope struct {
	mu sync.Mutex

	id       string
	name     string
	parent   *Scope
	metadata map[string]any

	status    Status
	startTime time.Time
	endTime   time.Time

	cancelReason  token.Reason
	cancelMessage string
	err           error
	partialResult any

	tok      *token.Token
	sources  []source.Source
	children map[string]*Scope

	registerGlobally bool
	registry         *registry.Registry

	onStart, onComplete, onCancel, onError []Callback
	onProgress                             []ProgressCallback

	logger obslog.Logger

	combined bool
}

// Option configures a Scope constructed by New or one of the With*
// factories.
type Option func(*Scope)

// WithName sets the scope's diagnostic name.
func WithName(name string) Option { return func(s *Scope) { s.name = name } }

// WithMetadata attaches free-form metadata, copied into the scope.
func WithMetadata(md map[string]any) Option {
	return func(s *Scope) {
		s.metadata = make(map[string]any, len(md))
		for k, v := range md {
			s.metadata[k] = v
		}
	}
}

// WithParentScope sets the parent scope for lifecycle propagation.
func WithParentScope(p *Scope) Option { return func(s *Scope) { s.parent = p } }

// WithRegister flags the scope for registry membership across Run.
func WithRegister(register bool) Option { return func(s *Scope) { s.registerGlobally = register } }

// WithRegistry overrides the Registry used when WithRegister(true). Defaults
// to registry.Default().
func WithRegistry(r *registry.Registry) Option { return func(s *Scope) { s.registry = r } }

// WithLogger attaches a structured logger. Defaults to a discard logger.
func WithLogger(l obslog.Logger) Option { return func(s *Scope) { s.logger = obslog.Or(l) } }

// WithSource attaches an additional cancellation source, armed on Run.
func WithSource(src source.Source) Option {
	return func(s *Scope) { s.sources = append(s.sources, src) }
}

// New constructs a Scope with a fresh Token and no attached sources.
func New(opts ...Option) *Scope {
	s := &Scope{
		id:       uuid.NewString(),
		status:   StatusPending,
		children: make(map[string]*Scope),
		registry: registry.Default(),
		logger:   obslog.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tok = token.New(token.WithID(s.id), token.WithLogger(s.logger))
	return s
}

// NewWithTimeout constructs a Scope bound to a Timeout source. d must be
// strictly positive.
func NewWithTimeout(d time.Duration, opts ...Option) (*Scope, error) {
	s := New(opts...)
	src, err := source.NewTimeout(d, source.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.sources = append(s.sources, src)
	return s, nil
}

// NewWithToken constructs a Scope whose Token is tok rather than a freshly
// generated one (the spec's "with_token replaces the scope's default
// token").
func NewWithToken(tok *token.Token, opts ...Option) *Scope {
	s := New(opts...)
	s.tok = tok
	return s
}

// NewWithSignal constructs a Scope bound to a Signal source. An empty
// signals list defaults to {SIGINT, SIGTERM}.
func NewWithSignal(signals []os.Signal, opts ...Option) *Scope {
	s := New(opts...)
	src := source.NewSignal(signals, source.WithSignalLogger(s.logger))
	s.sources = append(s.sources, src)
	return s
}

// NewWithCondition constructs a Scope bound to a Predicate source. interval
// must be strictly positive.
func NewWithCondition(cond source.Condition, interval time.Duration, conditionName string, opts ...Option) (*Scope, error) {
	s := New(opts...)
	src, err := source.NewPredicate(cond, interval, conditionName, source.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.sources = append(s.sources, src)
	return s, nil
}

// ID returns the scope's opaque identifier. Satisfies registry.Entry.
func (s *Scope) ID() string { return s.id }

// ParentID returns the parent scope's id, or "" if there is none. Satisfies
// registry.Entry.
func (s *Scope) ParentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parent == nil {
		return ""
	}
	return s.parent.id
}

// Token returns the scope's bound cancellation Token.
func (s *Scope) Token() *token.Token { return s.tok }

// StatusValue is a non-blocking snapshot of the scope's lifecycle status.
func (s *Scope) StatusValue() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns a deep, independent copy of the scope's current
// OperationContext. Satisfies registry.Entry.
func (s *Scope) Snapshot() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	md := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		md[k] = v
	}
	errStr := ""
	if s.err != nil {
		errStr = s.err.Error()
	}
	return Context{
		ID:            s.id,
		Name:          s.name,
		ParentID:      s.parentIDLocked(),
		Metadata:      md,
		Status:        s.status,
		StartTime:     s.startTime,
		EndTime:       s.endTime,
		CancelReason:  s.cancelReason,
		CancelMessage: s.cancelMessage,
		Err:           errStr,
		PartialResult: s.partialResult,
	}
}

func (s *Scope) parentIDLocked() string {
	if s.parent == nil {
		return ""
	}
	return s.parent.id
}

// On* registration helpers return the Scope for chaining.

func (s *Scope) OnStart(cb Callback) *Scope {
	s.mu.Lock()
	s.onStart = append(s.onStart, cb)
	s.mu.Unlock()
	return s
}

func (s *Scope) OnComplete(cb Callback) *Scope {
	s.mu.Lock()
	s.onComplete = append(s.onComplete, cb)
	s.mu.Unlock()
	return s
}

func (s *Scope) OnCancel(cb Callback) *Scope {
	s.mu.Lock()
	s.onCancel = append(s.onCancel, cb)
	s.mu.Unlock()
	return s
}

func (s *Scope) OnError(cb Callback) *Scope {
	s.mu.Lock()
	s.onError = append(s.onError, cb)
	s.mu.Unlock()
	return s
}

func (s *Scope) OnProgress(cb ProgressCallback) *Scope {
	s.mu.Lock()
	s.onProgress = append(s.onProgress, cb)
	s.mu.Unlock()
	return s
}

// ReportProgress fans out to every registered progress callback. Callback
// panics are recovered and logged so one bad observer can't break the
// operation.
func (s *Scope) ReportProgress(message string, metadata map[string]any) {
	s.mu.Lock()
	cbs := append([]ProgressCallback(nil), s.onProgress...)
	s.mu.Unlock()

	for _, cb := range cbs {
		s.safeCallProgress(cb, message, metadata)
	}
}

func (s *Scope) safeCallProgress(cb ProgressCallback, message string, metadata map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scope: progress callback panicked", obslog.F("scope_id", s.id), obslog.F("panic", r))
		}
	}()
	cb(message, metadata)
}

// StreamProgress adapts ReportProgress to stream.ProgressFunc, for passing
// directly to stream.New.
func (s *Scope) StreamProgress() stream.ProgressFunc {
	return func(p stream.Progress) {
		msg := fmt.Sprintf("processed %d items", p.Count)
		if p.Final {
			msg = fmt.Sprintf("final chunk, %d items total", p.Count)
		}
		s.ReportProgress(msg, map[string]any{"count": p.Count, "latest_item": p.LatestItem})
	}
}

// SetPartialResult adapts the scope's partial-result slot to
// stream.PartialResultFunc, for passing directly to stream.New.
func (s *Scope) SetPartialResult() stream.PartialResultFunc {
	return func(p stream.PartialResult) {
		s.mu.Lock()
		s.partialResult = p
		s.mu.Unlock()
	}
}

func (s *Scope) addChild(c *Scope) {
	s.mu.Lock()
	s.children[c.id] = c
	s.mu.Unlock()
}

func (s *Scope) removeChild(id string) {
	s.mu.Lock()
	delete(s.children, id)
	s.mu.Unlock()
}

func (s *Scope) childSnapshot() []*Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Scope, 0, len(s.children))
	for _, c := range s.children {
		out = append(out, c)
	}
	return out
}

// Cancel cancels the scope's token. If propagate is true, every current
// child is also explicitly cancelled with reason PARENT - though children
// are unconditionally token-linked to their parent at Run (preserve_reason
// = false), so they observe the parent's cancellation regardless; propagate
// = false only suppresses this explicit walk (and the per-child log lines
// and callback timing it drives), not the token-level propagation itself.
func (s *Scope) Cancel(reason token.Reason, message string, propagate bool) {
	if reason == token.ReasonUnspecified {
		reason = token.ReasonManual
	}
	s.tok.Cancel(reason, message)
	if !propagate {
		return
	}
	for _, c := range s.childSnapshot() {
		c.Cancel(token.ReasonParent, fmt.Sprintf("parent scope %s cancelled", shortID(s.id)), true)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run enters the scope, runs fn, and derives terminal status from its
// return value - the Go-idiom equivalent of the spec's enter()/exit()
// scoped-acquisition pair, since Go has no context-manager protocol. fn
// receives a context carrying this Scope (retrievable via FromContext) and
// cancelled when the scope's token fires.
//
// Terminal-status derivation follows §4.D of the design: a
// *token.CancelError (or any error satisfying errors.Is(err,
// context.Canceled)) from fn yields CANCELLED with the firing source's
// reason; any other non-nil error yields FAILED; nil yields COMPLETED.
func (s *Scope) Run(ctx context.Context, fn func(ctx context.Context, sc *Scope) error) error {
	s.enter(ctx)
	runCtx, cancel := s.deriveContext(ctx)
	defer cancel()

	err := runOrRecover(runCtx, s, fn)
	s.exit(err)
	return err
}

func runOrRecover(ctx context.Context, s *Scope, fn func(context.Context, *Scope) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scope %s: panic: %v", s.id, r)
		}
	}()
	return fn(ctx, s)
}

func (s *Scope) deriveContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ctx = context.WithValue(ctx, ctxKey{}, s)
	stop := make(chan struct{})
	go func() {
		select {
		case <-s.tok.Done():
			cancel()
		case <-stop:
		}
	}()
	return ctx, func() { close(stop); cancel() }
}

func (s *Scope) enter(ctx context.Context) {
	s.mu.Lock()
	s.status = StatusRunning
	s.startTime = time.Now()
	parent := s.parent
	sources := append([]source.Source(nil), s.sources...)
	reg := s.registry
	registerGlobally := s.registerGlobally
	s.mu.Unlock()

	if parent != nil {
		s.tok.Link(parent.tok, false)
		parent.addChild(s)
	}

	if registerGlobally {
		if reg == nil {
			reg = registry.Default()
		}
		reg.Register(s)
	}

	for _, src := range sources {
		src.StartMonitoring(s.tok)
	}

	s.logger.Info("scope entered", obslog.F("scope_id", s.id), obslog.F("name", s.name))
	s.fireCallbacks(s.startCallbacks(), s.Snapshot())
}

func (s *Scope) startCallbacks() []Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Callback(nil), s.onStart...)
}

// exit stops sources in reverse of their registration, unregisters from the
// registry, removes this scope from its parent's children, and fires
// terminal callbacks. Panics from a source's StopMonitoring and from
// lifecycle callbacks are caught and logged so the primary exit status
// isn't masked; the registry Unregister call is not guarded.
func (s *Scope) exit(runErr error) {
	s.mu.Lock()
	sources := append([]source.Source(nil), s.sources...)
	parent := s.parent
	registerGlobally := s.registerGlobally
	reg := s.registry
	s.mu.Unlock()

	for i := len(sources) - 1; i >= 0; i-- {
		s.safeStop(sources[i])
	}

	if parent != nil {
		parent.removeChild(s.id)
	}

	status, reason, message := s.deriveTerminalStatus(runErr)

	s.mu.Lock()
	s.status = status
	s.endTime = time.Now()
	s.cancelReason = reason
	s.cancelMessage = message
	if status == StatusFailed {
		s.err = runErr
	}
	s.mu.Unlock()

	if registerGlobally {
		if reg == nil {
			reg = registry.Default()
		}
		reg.Unregister(s.id)
	}

	snap := s.Snapshot()
	switch status {
	case StatusCancelled:
		s.fireCallbacks(s.cancelCallbacks(), snap)
	case StatusFailed:
		s.fireCallbacks(s.errorCallbacks(), snap)
	case StatusCompleted:
		s.fireCallbacks(s.completeCallbacks(), snap)
	}

	s.logger.Info("scope exited",
		obslog.F("scope_id", s.id),
		obslog.F("status", status.String()),
		obslog.F("duration", snap.Duration().String()),
	)
}

func (s *Scope) safeStop(src source.Source) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scope: source StopMonitoring panicked", obslog.F("scope_id", s.id), obslog.F("panic", r))
		}
	}()
	src.StopMonitoring()
}

// deriveTerminalStatus implements the §4.D terminal-status contract.
func (s *Scope) deriveTerminalStatus(runErr error) (Status, token.Reason, string) {
	if runErr == nil {
		return StatusCompleted, token.ReasonUnspecified, ""
	}

	if isCancellation(runErr) {
		if s.tok.IsCancelled() {
			return StatusCancelled, s.tok.ReasonValue(), s.tok.Message()
		}
		for _, src := range s.sourceSnapshot() {
			if src.Triggered() {
				return StatusCancelled, src.Reason(), "source triggered without token observation"
			}
		}
		return StatusCancelled, token.ReasonManual, runErr.Error()
	}

	return StatusFailed, token.ReasonUnspecified, ""
}

func (s *Scope) sourceSnapshot() []source.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]source.Source(nil), s.sources...)
}

func isCancellation(err error) bool {
	if err == nil {
		return false
	}
	var cancelErr *token.CancelError
	if asCancelError(err, &cancelErr) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func asCancelError(err error, target **token.CancelError) bool {
	for err != nil {
		if ce, ok := err.(*token.CancelError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (s *Scope) cancelCallbacks() []Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Callback(nil), s.onCancel...)
}

func (s *Scope) errorCallbacks() []Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Callback(nil), s.onError...)
}

func (s *Scope) completeCallbacks() []Callback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Callback(nil), s.onComplete...)
}

func (s *Scope) fireCallbacks(cbs []Callback, snap Context) {
	for _, cb := range cbs {
		s.safeCallTerminal(cb, snap)
	}
}

func (s *Scope) safeCallTerminal(cb Callback, snap Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scope: lifecycle callback panicked", obslog.F("scope_id", s.id), obslog.F("panic", r))
		}
	}()
	cb(snap)
}

// Wrap returns a function that runs fn inside a fresh Run call when
// invoked - the spec's "wrap(fn)" ergonomic façade.
func (s *Scope) Wrap(fn func(ctx context.Context, sc *Scope) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return s.Run(ctx, fn)
	}
}
