package source

import (
	"sync"

	"github.com/hotherio/cancelable-go/token"
)

// Mode selects how a Composite source combines its children.
type Mode int

const (
	// ModeAny fires as soon as any one child fires (logical OR).
	ModeAny Mode = iota
	// ModeAll fires only once every child has fired (logical AND).
	ModeAll
)

func (m Mode) String() string {
	if m == ModeAll {
		return "all"
	}
	return "any"
}

// Composite combines several child Sources into one. It binds each child
// to a private "shadow" token instead of the real bound token, so it can
// observe which child fired - and with what reason/message - before
// deciding whether (and how) to cancel the token it was itself bound to.
//
// Grounded on original_source's sources/composite.py CompositeSource,
// which monkey-patches each child's trigger_cancellation to intercept the
// firing child before forwarding to the parent token; a shadow token
// registered as a listener is the Go-idiomatic equivalent of that
// interception, since Source.TriggerCancellation here is not a method
// value callers can swap out from under a struct.
type Composite struct {
	base
	mode     Mode
	children []Source

	mu      sync.Mutex
	fired   int
	stopped bool
	shadows []*token.Token
}

// NewComposite builds a Composite over children, combined per mode.
// Returns ErrNoChildren if children is empty.
func NewComposite(mode Mode, children ...Source) (*Composite, error) {
	if len(children) == 0 {
		return nil, ErrNoChildren
	}
	name := "composite(" + mode.String() + ")"
	return &Composite{
		base:     newBase(token.ReasonManual, name, nil),
		mode:     mode,
		children: children,
	}, nil
}

func (c *Composite) StartMonitoring(tok *token.Token) {
	c.bind(tok)

	c.mu.Lock()
	c.shadows = make([]*token.Token, len(c.children))
	c.mu.Unlock()

	for i, child := range c.children {
		shadow := token.New()
		c.mu.Lock()
		c.shadows[i] = shadow
		c.mu.Unlock()

		shadow.RegisterListener(c.onChildFired(child))
		child.StartMonitoring(shadow)
	}
}

// onChildFired returns the listener bound to one child's shadow token. It
// adopts the firing child's reason for ModeAny (the composite becomes that
// reason, so the real bound token carries the genuine cause rather than a
// generic "composite" one), and counts firings toward quorum for ModeAll.
func (c *Composite) onChildFired(child Source) token.Listener {
	return func(shadow *token.Token) {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		c.fired++
		fired := c.fired
		total := len(c.children)
		c.mu.Unlock()

		message := shadow.Message()
		if message == "" {
			message = "child source " + child.Name() + " fired"
		}

		switch c.mode {
		case ModeAny:
			c.overrideReason(child.Reason())
			c.TriggerCancellation(message)
		case ModeAll:
			if fired >= total {
				c.overrideReason(child.Reason())
				c.TriggerCancellation("all child sources fired: " + message)
			}
		}
	}
}

func (c *Composite) StopMonitoring() {
	c.mu.Lock()
	c.stopped = true
	children := append([]Source(nil), c.children...)
	c.mu.Unlock()

	for _, child := range children {
		child.StopMonitoring()
	}
}
