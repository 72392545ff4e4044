package scope

import (
	"sync"

	"github.com/hotherio/cancelable-go/source"
	"github.com/hotherio/cancelable-go/token"
)

// Combine returns a new Scope whose cancellation fires as soon as any of s,
// other, and more fire (ANY mode, the canonical combination), adopting the
// firing component's reason and message.
//
// Combine consumes its inputs rather than leaving them independently
// runnable: see combine's doc comment for why. Run the returned Scope, not
// s/other/more, once they've been combined.
//
// Grounded on original_source's Cancellable.combine(), which exposes both
// an ANY and an ALL composition mode as a flagged "combined" scope rather
// than silently picking one - both are explicit, separate constructors here
// (Combine / CombineAll) rather than a boolean flag, matching
// original_source's AnyOf/AllOf naming split.
func (s *Scope) Combine(other *Scope, more ...*Scope) *Scope {
	return combine(source.ModeAny, append([]*Scope{s, other}, more...))
}

// CombineAll returns a new Scope whose cancellation fires only once every
// one of s, other, and more has independently fired (ALL mode). See
// Combine's and combine's doc comments for the same consumes-its-inputs
// caveat.
func (s *Scope) CombineAll(other *Scope, more ...*Scope) *Scope {
	return combine(source.ModeAll, append([]*Scope{s, other}, more...))
}

// combine builds the merged Scope by collecting each component's own Source
// objects into merged.sources, so merged.Run's enter arms them against
// merged's own token - mirroring original_source's
// Cancellable.combine()/_setup_monitoring(), which re-arms monitoring on
// the combined object itself rather than delegating to the components'
// already-running loops.
//
// This rebinds each component Source's bound token (StartMonitoring's
// "exactly-once" contract is per Source, not per token: a Source started
// twice double-arms, e.g. a second timer.AfterFunc, and leaves whichever
// Run armed it last as the one whose TriggerCancellation actually lands).
// A Scope given to Combine/CombineAll must therefore not also be Run
// independently afterward - treat it as consumed by the combination, and
// run only the merged result. The token.Link calls below are a second,
// independent propagation path (covering a component cancelled directly,
// e.g. via Cancel, without ever being Run) and are unaffected by this
// caveat since Link only registers a listener, it doesn't touch Sources.
func combine(mode source.Mode, scopes []*Scope, opts ...Option) *Scope {
	merged := New(append(opts, WithName("combined("+mode.String()+")"))...)
	merged.combined = true

	for _, sc := range scopes {
		merged.sources = append(merged.sources, sc.sourceSnapshot()...)
	}

	switch mode {
	case source.ModeAny:
		for _, sc := range scopes {
			merged.tok.Link(sc.tok, true)
		}
	case source.ModeAll:
		linkAll(merged.tok, scopes)
	}

	return merged
}

// linkAll cancels target only once every scope in scopes has had its token
// cancelled, adopting the reason/message of whichever fires last (the one
// that completes the quorum) - mirroring Composite's ModeAll in the source
// package, at the Scope level instead of the Source level.
func linkAll(target *token.Token, scopes []*Scope) {
	var mu sync.Mutex
	fired := 0
	total := len(scopes)

	for _, sc := range scopes {
		sc.tok.RegisterListener(func(o *token.Token) {
			mu.Lock()
			fired++
			n := fired
			mu.Unlock()

			if n >= total {
				target.Cancel(o.ReasonValue(), o.Message())
			}
		})
	}
}
