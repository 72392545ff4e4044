// Package adapter declares the contracts external collaborators are
// expected to satisfy when consuming this module's core - HTTP clients, SQL
// sessions, web middleware, LLM streaming glue. Per the spec's explicit
// non-goals, none of these are implemented here: they're "wrappers that
// merely consult the core's token and scope," external to the concurrency
// and coordination engine this module provides.
//
// Grounded on original_source's examples/03_integrations/ (httpx, SQL
// session, and streaming LLM adaptors, each just threading a token/scope
// check into an existing client's call sites) - this package exists so
// those integration points have a named Go contract to implement against,
// without this module taking on any of their dependencies.
package adapter

import (
	"context"

	"github.com/hotherio/cancelable-go/scope"
	"github.com/hotherio/cancelable-go/token"
)

// HTTPClient is the shape an HTTP client adaptor exposes once wired to a
// Scope: every call checkpoints the bound token before issuing the
// request, and the request's own context is expected to be derived from
// the Scope (see scope.Scope.Run's ctx).
type HTTPClient interface {
	// Do issues req (opaque to this package - the real adaptor package
	// will use *http.Request) under sc, checkpointing before and
	// propagating sc's context for in-flight cancellation.
	Do(ctx context.Context, sc *scope.Scope, req any) (resp any, err error)
}

// SQLSession is the shape a database session adaptor exposes: queries and
// transactions run bound to a Scope so a cancelled scope aborts
// in-flight work at the driver level rather than only at the next
// checkpoint.
type SQLSession interface {
	// Query runs a parameterized query under sc.
	Query(ctx context.Context, sc *scope.Scope, query string, args ...any) (rows any, err error)
	// WithTransaction runs fn inside a transaction bound to sc; fn's
	// error (including a cancellation) rolls back.
	WithTransaction(ctx context.Context, sc *scope.Scope, fn func(ctx context.Context, tx any) error) error
}

// Middleware is the shape a web framework integration exposes: it derives
// a per-request Scope (typically via scope.NewWithTimeout or
// scope.New(scope.WithParentScope(...))) and makes it available to
// downstream handlers via scope.FromContext.
type Middleware interface {
	// Wrap returns a handler that runs next inside a request-scoped Scope.
	Wrap(next any) any
}

// TokenStream is the shape an LLM (or other chunked) streaming client
// exposes once wired to a Token: each chunk delivery checkpoints the token,
// so a cancelled generation stops consuming chunks at the next checkpoint
// rather than running to completion.
type TokenStream interface {
	// Next returns the next chunk, checkpointing tok first.
	Next(ctx context.Context, tok *token.Token) (chunk string, done bool, err error)
}
