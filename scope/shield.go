package scope

import (
	"context"
	"time"
)

// Shield runs fn inside a nested sub-scope that suppresses propagation of
// s's cancellation for the duration of fn's execution, then forces a
// cooperative checkpoint against s's token once fn returns - so any
// cancellation that arrived while shielded materialises immediately
// afterward rather than being silently lost.
//
// The sub-scope's own terminal status (COMPLETED/FAILED/CANCELLED) is
// derived independently of s's and is unaffected by shielding; only the
// forced checkpoint after fn returns can surface s's cancellation, and only
// as this call's return value, not as a mutation of the sub-scope's status.
//
// Per the spec's open question on shielding plus an already-pending
// cancellation: multiple cancellations that arrived while shielded collapse
// to one checkpoint failure, carrying whichever source fired first (the
// reason already latched on s's one-shot token).
func (s *Scope) Shield(ctx context.Context, fn func(ctx context.Context, sc *Scope) error) error {
	sub := New(WithName(s.name+"/shield"), WithLogger(s.logger))

	sub.mu.Lock()
	sub.status = StatusShielded
	sub.startTime = time.Now()
	sub.mu.Unlock()

	// Deliberately not linked to s's token: this is what suppresses
	// propagation into the shielded body.
	runCtx, cancel := sub.deriveContext(ctx)
	defer cancel()

	bodyErr := runOrRecover(runCtx, sub, fn)
	sub.exit(bodyErr)

	if bodyErr != nil {
		return bodyErr
	}
	return s.tok.RaiseIfCancelled()
}
