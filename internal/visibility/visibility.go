// Package visibility turns a host UI's lifecycle into the three ordered events
// a session consumes: Visible, Hidden, Destroyed.
package visibility

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrUnknownEvent = errors.New("visibility: unknown event")

type Event int

const (
	Visible Event = iota + 1
	Hidden
	Destroyed
)

func (e Event) String() string {
	switch e {
	case Visible:
		return "visible"
	case Hidden:
		return "hidden"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

func Parse(raw string) (Event, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "visible", "resume", "resumed":
		return Visible, nil
	case "hidden", "pause", "paused":
		return Hidden, nil
	case "destroyed", "destroy":
		return Destroyed, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownEvent, raw)
	}
}

// Sink consumes visibility events. Implementations must not block.
type Sink interface {
	OnVisible()
	OnHidden()
	OnDestroyed()
}

// Sequencer is the single driver for one host window. It forwards events to
// the sink one at a time and goes quiet after Destroyed. Repeated Hidden is
// dropped. Visible always reaches the sink: a repeat is how a host retries a
// failed start or a denied prompt.
type Sequencer struct {
	mu   sync.Mutex
	sink Sink
	last Event
	dead bool
}

func NewSequencer(sink Sink) *Sequencer {
	return &Sequencer{sink: sink}
}

// Send forwards e and reports whether it reached the sink.
func (s *Sequencer) Send(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return false
	}
	switch e {
	case Visible:
		s.sink.OnVisible()
	case Hidden:
		if s.last != Visible {
			// Never shown, or already hidden.
			return false
		}
		s.sink.OnHidden()
	case Destroyed:
		s.dead = true
		s.sink.OnDestroyed()
	default:
		return false
	}
	s.last = e
	return true
}

// Current is the last forwarded event, zero before the first.
func (s *Sequencer) Current() Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
