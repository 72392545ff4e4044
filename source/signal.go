package source

import (
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/hotherio/cancelable-go/bridge"
	"github.com/hotherio/cancelable-go/internal/obslog"
	"github.com/hotherio/cancelable-go/token"
)

// Signal cancels its bound token when the process receives one of a set of
// OS signals. Defaults to SIGINT and SIGTERM (os.Interrupt on windows,
// where SIGTERM has no meaningful equivalent).
//
// Unlike the spec's description of a process-level handler table with
// save/restore of "the previous handler", Go's os/signal package already
// multiplexes OS signal delivery to any number of independent Notify
// subscribers - the runtime owns the actual OS-level handler, not user
// code - so each Signal source simply registers and deregisters its own
// channel; there is no prior handler to preserve or restore. See
// DESIGN.md for this adaptation.
//
// Signal delivery happens on a runtime-managed goroutine outside of
// whatever goroutine is driving the owning Scope, so cancellation is
// dispatched through a Bridge rather than calling TriggerCancellation
// directly from the delivery goroutine.
type Signal struct {
	base
	signals []os.Signal
	bridge  *bridge.Bridge

	mu     sync.Mutex
	ch     chan os.Signal
	stopCh chan struct{}
	stopOk bool
}

// SignalOption configures a Signal source.
type SignalOption func(*Signal)

// WithBridge overrides the Bridge used to marshal signal delivery onto the
// loop goroutine. Defaults to bridge.Default().
func WithBridge(b *bridge.Bridge) SignalOption {
	return func(s *Signal) { s.bridge = b }
}

// WithSignalLogger attaches a structured logger. Defaults to a discard
// logger.
func WithSignalLogger(l obslog.Logger) SignalOption {
	return func(s *Signal) { s.logger = obslog.Or(l) }
}

// NewSignal constructs a Signal source. With no signals given, it defaults
// to SIGINT and SIGTERM (spec: "empty set defaults to {SIGINT, SIGTERM}").
func NewSignal(signals []os.Signal, opts ...SignalOption) *Signal {
	if len(signals) == 0 {
		signals = defaultSignals()
	}
	s := &Signal{
		base:    newBase(token.ReasonSignal, "signal", nil),
		signals: signals,
		bridge:  bridge.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Signal) StartMonitoring(tok *token.Token) {
	s.bind(tok)

	s.mu.Lock()
	if s.ch != nil {
		s.mu.Unlock()
		return // already started
	}
	s.ch = make(chan os.Signal, 1)
	s.stopCh = make(chan struct{})
	ch, stopCh := s.ch, s.stopCh
	s.mu.Unlock()

	signal.Notify(ch, s.signals...)

	go func() {
		select {
		case sig := <-ch:
			// Runs on a runtime signal-delivery goroutine: never do
			// blocking work here, hand off via the bridge instead.
			s.bridge.CallSoonThreadsafe(func() {
				s.TriggerCancellation(fmt.Sprintf("received signal %s", sig))
			})
		case <-stopCh:
		}
	}()
}

func (s *Signal) StopMonitoring() {
	s.mu.Lock()
	if s.ch == nil || s.stopOk {
		s.mu.Unlock()
		return
	}
	s.stopOk = true
	ch := s.ch
	stopCh := s.stopCh
	s.mu.Unlock()

	signal.Stop(ch)
	close(stopCh)
}
