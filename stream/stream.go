// Package stream implements the spec's cancellable stream wrapper: a
// checkpointed iteration adaptor that raises cancellation between items,
// buffers a bounded tail of recently-seen items for partial-result capture,
// and emits periodic progress events.
//
// Grounded on original_source's hother/cancelable/utils/streams.py (both a
// generator-based and a callback-sink consumption style over the same
// underlying cancellable loop) and on eventloop's checkpoint-per-iteration
// style seen in its ChunkedIngress helper.
package stream

import (
	"context"
	"errors"
	"iter"

	"github.com/hotherio/cancelable-go/token"
)

// ErrDone is returned by Iterator.Next once the underlying sequence is
// exhausted. It is a sentinel, not a cancellation-kind error.
var ErrDone = errors.New("stream: iterator exhausted")

// Iterator is a pull-style source of items. Implementations that need to
// block should honor ctx.
type Iterator[T any] interface {
	Next(ctx context.Context) (T, error)
}

// IteratorFunc adapts a plain function to Iterator.
type IteratorFunc[T any] func(ctx context.Context) (T, error)

func (f IteratorFunc[T]) Next(ctx context.Context) (T, error) { return f(ctx) }

// FromSlice returns an Iterator over a fixed slice of items.
func FromSlice[T any](items []T) Iterator[T] {
	i := 0
	return IteratorFunc[T](func(context.Context) (T, error) {
		var zero T
		if i >= len(items) {
			return zero, ErrDone
		}
		v := items[i]
		i++
		return v, nil
	})
}

// DefaultBufferCap matches the spec's "bounded buffer (cap 1000, tail-kept)".
const DefaultBufferCap = 1000

// Options configures a Stream.
type Options struct {
	// ReportEvery, if > 0, emits a progress event every ReportEvery items.
	ReportEvery int
	// BufferPartial, if true, retains a tail-kept buffer of recent items
	// for inclusion in the partial result.
	BufferPartial bool
	// BufferCap overrides DefaultBufferCap when BufferPartial is set.
	BufferCap int
}

// Progress describes one progress event.
type Progress struct {
	Count      int
	LatestItem any
	Final      bool
}

// PartialResult is the snapshot written back on cancellation, error, or
// normal completion.
type PartialResult struct {
	Count     int
	Buffer    []any
	Completed bool
}

// ProgressFunc receives Stream progress events.
type ProgressFunc func(Progress)

// PartialResultFunc receives the terminal PartialResult snapshot.
type PartialResultFunc func(PartialResult)

// Stream wraps an Iterator with checkpointing against a Token, periodic
// progress, and partial-result capture. Not restartable: once exhausted,
// cancelled, or errored, a Stream must not be reused.
type Stream[T any] struct {
	it       Iterator[T]
	tok      *token.Token
	opts     Options
	progress ProgressFunc
	partial  PartialResultFunc

	count  int
	buffer []any
	done   bool
}

// New wraps it with checkpointing against tok. progress and partial may be
// nil (treated as no-ops) - callers that don't need one or the other, e.g.
// stream.New(sc.Token(), sc.StreamProgress(), nil, it, opts), may omit
// it freely.
func New[T any](tok *token.Token, progress ProgressFunc, partial PartialResultFunc, it Iterator[T], opts Options) *Stream[T] {
	if opts.BufferPartial && opts.BufferCap <= 0 {
		opts.BufferCap = DefaultBufferCap
	}
	if progress == nil {
		progress = func(Progress) {}
	}
	if partial == nil {
		partial = func(PartialResult) {}
	}
	return &Stream[T]{it: it, tok: tok, opts: opts, progress: progress, partial: partial}
}

// Next pulls the next item, checkpointing against the bound Token first. It
// returns ErrDone when the sequence is exhausted (not an error condition),
// and a *token.CancelError if the Token fired. Either terminal outcome
// writes the PartialResult snapshot exactly once before returning.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if s.done {
		return zero, ErrDone
	}

	if err := s.tok.RaiseIfCancelled(); err != nil {
		s.finish(false)
		return zero, err
	}

	v, err := s.it.Next(ctx)
	if err != nil {
		completed := errors.Is(err, ErrDone)
		s.finish(completed)
		return zero, err
	}

	s.count++
	if s.opts.BufferPartial {
		s.buffer = append(s.buffer, v)
		if over := len(s.buffer) - s.opts.BufferCap; over > 0 {
			s.buffer = s.buffer[over:]
		}
	}
	if s.opts.ReportEvery > 0 && s.count%s.opts.ReportEvery == 0 {
		s.progress(Progress{Count: s.count, LatestItem: v})
	}
	return v, nil
}

func (s *Stream[T]) finish(completed bool) {
	if s.done {
		return
	}
	s.done = true
	s.partial(PartialResult{Count: s.count, Buffer: s.buffer, Completed: completed})
}

// All returns a Go range-over-func sequence pairing each item with an
// error, the push-style counterpart to Next. Exhaustion (ErrDone) ends
// ranging without the loop body seeing it; any other error from Next, such
// as a cancellation, is yielded once as the final pair (with a zero value)
// and then ranging stops.
func (s *Stream[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		ctx := context.Background()
		for {
			v, err := s.Next(ctx)
			if err != nil {
				if !errors.Is(err, ErrDone) {
					yield(v, err)
				}
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// Channel spawns a goroutine draining the Stream into a returned channel,
// the second of the spec's dual consumption styles (push iterator +
// channel). The channel is closed once the Stream is exhausted, cancelled,
// errors, or ctx is done.
func (s *Stream[T]) Channel(ctx context.Context) <-chan Result[T] {
	out := make(chan Result[T])
	go func() {
		defer close(out)
		for {
			v, err := s.Next(ctx)
			if err != nil {
				if !errors.Is(err, ErrDone) {
					select {
					case out <- Result[T]{Err: err}:
					case <-ctx.Done():
					}
				}
				return
			}
			select {
			case out <- Result[T]{Value: v}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Result is one item (or terminal error) delivered over a Stream's Channel.
type Result[T any] struct {
	Value T
	Err   error
}
