// Package logadapter bridges this module's internal obslog.Logger interface
// to a github.com/joeycumines/go-utilpkg/logiface.Logger, so real
// applications can wire structured logging (e.g. via a zerolog-backed
// logiface logger) without the core packages taking a generic type
// parameter.
package logadapter

import (
	"github.com/joeycumines/go-utilpkg/logiface"

	"github.com/hotherio/cancelable-go/internal/obslog"
)

// Adapter implements obslog.Logger on top of any logiface.Logger[E].
type Adapter[E logiface.Event] struct {
	L *logiface.Logger[E]
}

// New wraps a logiface logger for use anywhere this module wants an
// obslog.Logger, e.g. scope.WithLogger(logadapter.New(zl)).
func New[E logiface.Event](l *logiface.Logger[E]) Adapter[E] {
	return Adapter[E]{L: l}
}

func (a Adapter[E]) log(b *logiface.Builder[E], msg string, fields []obslog.Field) {
	for _, f := range fields {
		b = b.Field(f.Key, f.Value)
	}
	b.Log(msg)
}

func (a Adapter[E]) Debug(msg string, fields ...obslog.Field) { a.log(a.L.Debug(), msg, fields) }
func (a Adapter[E]) Info(msg string, fields ...obslog.Field)  { a.log(a.L.Info(), msg, fields) }
func (a Adapter[E]) Warn(msg string, fields ...obslog.Field)  { a.log(a.L.Warning(), msg, fields) }
func (a Adapter[E]) Error(msg string, fields ...obslog.Field) { a.log(a.L.Err(), msg, fields) }
