// Package token implements the one-shot, thread-safe cancellation latch
// that everything else in this module is built on: [Token]. A Token
// transitions at most once from live to cancelled, carries the reason and
// message of that transition, and notifies every registered [Listener]
// exactly once.
//
// Grounded on eventloop.AbortSignal (copy-handlers-then-unlock-then-invoke
// dispatch) from the teacher repo, and on the reason/message/cancelled_at
// triple in original_source's CancellationToken.
package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hotherio/cancelable-go/internal/obslog"
)

// Reason classifies why a Token was cancelled.
type Reason int

const (
	// ReasonUnspecified is the zero value; never observed on a cancelled Token.
	ReasonUnspecified Reason = iota
	// ReasonTimeout means a timeout source's deadline elapsed.
	ReasonTimeout
	// ReasonManual means explicit user code called Cancel.
	ReasonManual
	// ReasonSignal means an OS signal fired a signal source.
	ReasonSignal
	// ReasonCondition means a predicate source's condition became true.
	ReasonCondition
	// ReasonParent means an enclosing scope's token cancelled first.
	ReasonParent
)

func (r Reason) String() string {
	switch r {
	case ReasonTimeout:
		return "timeout"
	case ReasonManual:
		return "manual"
	case ReasonSignal:
		return "signal"
	case ReasonCondition:
		return "condition"
	case ReasonParent:
		return "parent"
	default:
		return "unspecified"
	}
}

// Listener is invoked exactly once, either when the Token it's registered
// on transitions to cancelled, or immediately (synchronously, within the
// RegisterListener call) if it was already cancelled.
type Listener func(*Token)

// CancelError is the error returned by RaiseIfCancelled and wrapped into any
// checkpoint failure surfaced by a Scope. It satisfies errors.Is against
// context.Canceled, so callers that only care about "was this a
// cancellation" can use the stdlib idiom without importing this package.
type CancelError struct {
	Reason  Reason
	Message string
}

func (e *CancelError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cancelled: %s", e.Reason)
	}
	return fmt.Sprintf("cancelled: %s: %s", e.Reason, e.Message)
}

// Is reports whether target is context.Canceled, so that code written
// against the stdlib cancellation idiom (errors.Is(err, context.Canceled))
// keeps working against errors produced by this module.
func (e *CancelError) Is(target error) bool {
	return target == context.Canceled
}

// Token is a one-shot cancellation latch. The zero value is not usable; use
// New.
type Token struct {
	mu sync.Mutex

	id          string
	cancelled   bool
	reason      Reason
	message     string
	cancelledAt time.Time

	listeners []Listener
	done      chan struct{}

	logger obslog.Logger
}

// Option configures a Token constructed by New.
type Option func(*Token)

// WithID overrides the generated id. Mainly useful for tests and for
// Scope, which shares its own id scheme with its Token.
func WithID(id string) Option {
	return func(t *Token) { t.id = id }
}

// WithLogger attaches a structured logger. Defaults to a discard logger.
func WithLogger(l obslog.Logger) Option {
	return func(t *Token) { t.logger = obslog.Or(l) }
}

// New constructs a live (not cancelled) Token.
func New(opts ...Option) *Token {
	t := &Token{
		id:     uuid.NewString(),
		done:   make(chan struct{}),
		logger: obslog.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger.Debug("token created", obslog.F("token_id", t.id))
	return t
}

// ID returns the Token's opaque, stable identifier.
func (t *Token) ID() string { return t.id }

// IsCancelled is a non-blocking snapshot of cancellation state.
func (t *Token) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// ReasonValue returns the cancellation reason, or ReasonUnspecified if not yet
// cancelled.
func (t *Token) ReasonValue() Reason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Message returns the cancellation message, or "" if not yet cancelled.
func (t *Token) Message() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.message
}

// CancelledAt returns the transition timestamp, or the zero Time if not yet
// cancelled.
func (t *Token) CancelledAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelledAt
}

// Done returns a channel that's closed exactly once, at the moment of
// cancellation. Safe to select on from any goroutine.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the Token is cancelled or ctx is done, whichever first.
// Returns immediately (nil error, if already cancelled) - this is the
// "awaitable, returns immediately if already cancelled" checkpoint from the
// spec.
func (t *Token) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	default:
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RaiseIfCancelled returns a *CancelError if the Token is cancelled, else
// nil. This is the primary checkpoint primitive: call it anywhere execution
// should observe pending cancellation.
func (t *Token) RaiseIfCancelled() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cancelled {
		return nil
	}
	return &CancelError{Reason: t.reason, Message: t.message}
}

// Cancel atomically transitions the Token to cancelled, returning true on
// the first call and false on every subsequent call. Every listener
// registered at the time of the first call is invoked exactly once, in
// registration order; a listener's panic or nothing (listeners don't return
// errors) is caught and logged so the remaining listeners still run.
func (t *Token) Cancel(reason Reason, message string) bool {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return false
	}
	t.cancelled = true
	t.reason = reason
	t.message = message
	t.cancelledAt = time.Now()
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	close(t.done)
	t.mu.Unlock()

	t.logger.Info("token cancelled",
		obslog.F("token_id", t.id),
		obslog.F("reason", reason.String()),
		obslog.F("message", message),
		obslog.F("listener_count", len(listeners)),
	)

	for i, l := range listeners {
		t.invokeListener(i, l)
	}
	return true
}

func (t *Token) invokeListener(index int, l Listener) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("cancellation listener panicked",
				obslog.F("token_id", t.id),
				obslog.F("listener_index", index),
				obslog.F("panic", r),
			)
		}
	}()
	l(t)
}

// RegisterListener appends l to the listener set. If the Token is already
// cancelled, l is invoked immediately (synchronously, before
// RegisterListener returns) instead of being appended.
func (t *Token) RegisterListener(l Listener) {
	if l == nil {
		return
	}
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		t.invokeListener(-1, l)
		return
	}
	t.listeners = append(t.listeners, l)
	t.mu.Unlock()
}

// Link arranges that when other is cancelled, t is also cancelled.
// Linking is one-way: call Link twice, on both tokens, for a bidirectional
// link.
//
// When preserveReason is true, t adopts other's reason and message (used by
// Scope.Combine, so the real firing component is visible on the combined
// scope's token). When false, t cancels with ReasonParent and a message
// naming other's id (used for ordinary parent/child propagation).
func (t *Token) Link(other *Token, preserveReason bool) {
	if other == nil {
		return
	}
	other.RegisterListener(func(o *Token) {
		if preserveReason {
			t.Cancel(o.reasonUnsafe(), o.messageUnsafe())
		} else {
			t.Cancel(ReasonParent, fmt.Sprintf("linked token %s was cancelled", shortID(o.id)))
		}
	})
}

// reasonUnsafe/messageUnsafe read fields without locking, valid only from
// within a listener callback invoked after the other token's cancel() has
// already completed its state transition (listeners run after fields are
// set, per Cancel's ordering).
func (t *Token) reasonUnsafe() Reason  { return t.reason }
func (t *Token) messageUnsafe() string { return t.message }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
