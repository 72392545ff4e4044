package stream

import "context"

// Chunked groups a Stream's items into fixed-size slices; the final slice
// may be shorter. Its last progress emission - whether that final slice is
// shorter or an exact multiple of size - includes "final" in the message,
// surfaced here as Progress.Final.
type Chunked[T any] struct {
	s    *Stream[T]
	size int

	hasPending bool
	pending    T
	done       bool
	pendingErr error
}

// NewChunked wraps s, grouping items into slices of size. size must be > 0;
// neither NewChunked nor stream.New validates it.
func NewChunked[T any](s *Stream[T], size int) *Chunked[T] {
	return &Chunked[T]{s: s, size: size}
}

// Next returns the next chunk, or ErrDone (possibly with a non-empty final
// partial chunk returned alongside nil error on the call that drains it). A
// full-size chunk that exactly exhausts the underlying Stream is detected by
// a one-item lookahead, so it is marked final too, not just a short one.
func (c *Chunked[T]) Next(ctx context.Context) ([]T, error) {
	if c.done {
		if c.pendingErr != nil {
			return nil, c.pendingErr
		}
		return nil, ErrDone
	}

	chunk := make([]T, 0, c.size)
	if c.hasPending {
		chunk = append(chunk, c.pending)
		c.hasPending = false
		var zero T
		c.pending = zero
	}

	for len(chunk) < c.size {
		v, err := c.s.Next(ctx)
		if err != nil {
			c.done = true
			c.pendingErr = err
			if len(chunk) > 0 {
				c.s.progress(Progress{Count: c.s.count, LatestItem: chunk[len(chunk)-1], Final: true})
				return chunk, nil
			}
			return nil, err
		}
		chunk = append(chunk, v)
	}

	v, err := c.s.Next(ctx)
	if err != nil {
		c.done = true
		c.pendingErr = err
		c.s.progress(Progress{Count: c.s.count, LatestItem: chunk[len(chunk)-1], Final: true})
		return chunk, nil
	}
	c.pending = v
	c.hasPending = true
	return chunk, nil
}
