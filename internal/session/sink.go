package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// Outcome is the single terminal result of a session. Scanned is false when
// the session ended without a value.
type Outcome struct {
	SessionID string    `json:"session_id"`
	Scanned   bool      `json:"scanned"`
	Value     string    `json:"value,omitempty"`
	EndedAt   time.Time `json:"ended_at"`
}

// ResultSink hands exactly one Outcome to the host. Later emits are ignored.
type ResultSink struct {
	emitted atomic.Bool
	ch      chan Outcome
	deliver func(Outcome)

	mu     sync.RWMutex
	last   Outcome
	stored bool
}

// NewResultSink creates a sink. deliver, when set, is called once with the
// outcome in addition to the Outcome channel.
func NewResultSink(deliver func(Outcome)) *ResultSink {
	return &ResultSink{ch: make(chan Outcome, 1), deliver: deliver}
}

// Emit records o if nothing was emitted before and reports whether it did.
func (s *ResultSink) Emit(o Outcome) bool {
	if !s.emitted.CompareAndSwap(false, true) {
		return false
	}
	if o.EndedAt.IsZero() {
		o.EndedAt = time.Now()
	}
	s.mu.Lock()
	s.last = o
	s.stored = true
	s.mu.Unlock()

	s.ch <- o
	close(s.ch)
	if s.deliver != nil {
		s.deliver(o)
	}
	return true
}

// Outcome yields the terminal outcome once, then is closed.
func (s *ResultSink) Outcome() <-chan Outcome {
	return s.ch
}

// Result returns the emitted outcome, if any.
func (s *ResultSink) Result() (Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.stored
}

func (s *ResultSink) Emitted() bool {
	return s.emitted.Load()
}
