package source

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hotherio/cancelable-go/internal/obslog"
	"github.com/hotherio/cancelable-go/token"
)

// Condition is the function a Predicate source polls. It returns true when
// cancellation should occur. Implementations that need to block should
// still honor ctx, but a Condition that ignores ctx and returns quickly
// (the common case - checking a flag, a gauge, a counter) is fine too: the
// poll loop itself is what runs on its own goroutine, matching the spec's
// "sync predicates are executed on a worker thread" by construction.
type Condition func(ctx context.Context) (bool, error)

// Predicate cancels its bound token once Condition returns true, or logs
// and continues polling if Condition returns an error.
//
// Grounded on hother/cancelable/sources/condition.ConditionSource: poll on
// an interval, track a check count for diagnostics, swallow predicate
// errors (log and continue).
type Predicate struct {
	base
	condition Condition
	interval  time.Duration
	checks    atomic.Int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPredicate constructs a Predicate source. interval must be strictly
// positive. conditionName is used for diagnostics and surfaces in the
// cancellation message.
func NewPredicate(condition Condition, interval time.Duration, conditionName string, opts ...Option) (*Predicate, error) {
	if interval <= 0 {
		return nil, ErrInvalidDuration
	}
	cfg := newConfig(opts)
	return &Predicate{
		base:      newBase(token.ReasonCondition, cfg.name(conditionName), cfg.logger),
		condition: condition,
		interval:  interval,
	}, nil
}

// Checks returns the number of times the condition has been evaluated.
func (p *Predicate) Checks() int64 { return p.checks.Load() }

func (p *Predicate) StartMonitoring(tok *token.Token) {
	p.bind(tok)
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.run()
}

func (p *Predicate) run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			n := p.checks.Add(1)
			ok, err := p.safeEval(ctx)
			if err != nil {
				p.logger.Error("predicate evaluation failed",
					obslog.F("source", p.name),
					obslog.F("check", n),
					obslog.F("error", err.Error()),
				)
				continue
			}
			if ok {
				p.TriggerCancellation(conditionMessage(p.name, n))
				return
			}
		}
	}
}

func (p *Predicate) safeEval(ctx context.Context) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = recoveredError(r)
		}
	}()
	return p.condition(ctx)
}

func (p *Predicate) StopMonitoring() {
	if p.stopCh == nil {
		return
	}
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	if p.doneCh != nil {
		<-p.doneCh
	}
}
