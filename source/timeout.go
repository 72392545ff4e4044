package source

import (
	"time"

	"github.com/hotherio/cancelable-go/internal/obslog"
	"github.com/hotherio/cancelable-go/token"
)

// Timeout cancels its bound token after a fixed duration elapses.
//
// Grounded on hother/cancelable/sources/timeout.py (anyio.move_on_after
// deadline arming) and eventloop's timer-heap-backed ScheduleTimer.
type Timeout struct {
	base
	duration time.Duration
	timer    *time.Timer
}

// NewTimeout constructs a Timeout source. d must be strictly positive.
func NewTimeout(d time.Duration, opts ...Option) (*Timeout, error) {
	if d <= 0 {
		return nil, ErrInvalidDuration
	}
	cfg := newConfig(opts)
	return &Timeout{
		base:     newBase(token.ReasonTimeout, cfg.name("timeout"), cfg.logger),
		duration: d,
	}, nil
}

// Duration returns the configured timeout.
func (t *Timeout) Duration() time.Duration { return t.duration }

func (t *Timeout) StartMonitoring(tok *token.Token) {
	t.bind(tok)
	t.timer = time.AfterFunc(t.duration, func() {
		t.TriggerCancellation("operation timed out")
	})
}

func (t *Timeout) StopMonitoring() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Option configures any concrete Source constructor in this package.
type Option func(*config)

type config struct {
	baseName string
	logger   obslog.Logger
}

func newConfig(opts []Option) config {
	c := config{logger: obslog.Discard()}
	for _, o := range opts {
		o(&c)
	}
	return c
}

func (c config) name(def string) string {
	if c.baseName != "" {
		return c.baseName
	}
	return def
}

// WithName overrides the source's diagnostic name.
func WithName(name string) Option {
	return func(c *config) { c.baseName = name }
}

// WithLogger attaches a structured logger. Defaults to a discard logger.
func WithLogger(l obslog.Logger) Option {
	return func(c *config) { c.logger = obslog.Or(l) }
}
