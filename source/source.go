// Package source implements the spec's four concrete cancellation sources
// (timeout, signal, predicate, composite) plus the resource-predicate
// specialization, all satisfying the common Source contract: watch an
// external condition, and when it fires, cancel the Token a Scope bound to
// it via StartMonitoring.
//
// Grounded on original_source's hother/cancelable/sources/base.py
// (CancellationSource ABC: reason, name, scope, triggered flag,
// trigger_cancellation) and on eventloop's use of context.Context-scoped
// background goroutines for monitoring loops.
package source

import (
	"errors"
	"sync"

	"github.com/hotherio/cancelable-go/internal/obslog"
	"github.com/hotherio/cancelable-go/token"
)

// ErrInvalidDuration is returned by source constructors that require a
// strictly positive duration (Timeout's timeout, Predicate's interval).
var ErrInvalidDuration = errors.New("source: duration must be strictly positive")

// ErrNoChildren is returned by NewComposite when given an empty child list.
var ErrNoChildren = errors.New("source: composite requires at least one child source")

// Source watches an external condition and, when it fires, cancels the
// Token it was bound to by StartMonitoring.
type Source interface {
	// Reason is the cancellation reason this source uses when it fires.
	Reason() token.Reason
	// Name identifies the source for diagnostics and log lines.
	Name() string
	// StartMonitoring begins watching, binding tok as the target of any
	// future TriggerCancellation. A Source is started once; a second call
	// is not a no-op: Timeout, Predicate and Composite arm again, and
	// Signal rebinds tok without arming a second watcher.
	StartMonitoring(tok *token.Token)
	// StopMonitoring shuts the source down; after it returns, no further
	// trigger from this source will reach the bound token. Safe to call
	// more than once.
	StopMonitoring()
	// TriggerCancellation cancels the bound token with this source's
	// reason. Idempotent; only the first call has any effect.
	TriggerCancellation(message string)
	// Triggered reports whether this source has fired.
	Triggered() bool
}

// base implements the bookkeeping shared by every concrete Source: the
// reason/name pair, the bound token, the triggered flag, and a
// mutex-guarded copy-then-invoke trigger path.
type base struct {
	mu        sync.Mutex
	reason    token.Reason
	name      string
	tok       *token.Token
	triggered bool
	logger    obslog.Logger
}

func newBase(reason token.Reason, name string, logger obslog.Logger) base {
	return base{reason: reason, name: name, logger: obslog.Or(logger)}
}

func (b *base) Reason() token.Reason { return b.reason }
func (b *base) Name() string         { return b.name }

func (b *base) bind(tok *token.Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tok = tok
}

func (b *base) boundToken() *token.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tok
}

func (b *base) Triggered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.triggered
}

// TriggerCancellation marks the source triggered (first call only) and
// cancels the bound token with the source's reason. Safe to call from any
// goroutine.
func (b *base) TriggerCancellation(message string) {
	b.mu.Lock()
	if b.triggered {
		b.mu.Unlock()
		return
	}
	b.triggered = true
	tok := b.tok
	b.mu.Unlock()

	b.logger.Info("source triggered",
		obslog.F("source", b.name),
		obslog.F("reason", b.reason.String()),
		obslog.F("message", message),
	)

	if tok != nil {
		tok.Cancel(b.reason, message)
	}
}

// overrideReason lets Composite adopt a child's reason dynamically; no
// other source needs this.
func (b *base) overrideReason(r token.Reason) {
	b.mu.Lock()
	b.reason = r
	b.mu.Unlock()
}
