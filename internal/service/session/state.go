package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a provider session.
type State int

const (
	// StateIdle - Session created, transport not opened.
	StateIdle State = iota
	// StateConnecting - Transport opening; audio may already be sent.
	StateConnecting
	// StateStreaming - Backend accepted the stream parameters.
	StateStreaming
	// StateDraining - Stop requested; buffered results still delivered.
	StateDraining
	// StateClosed - Normal terminal state.
	StateClosed
	// StateFailed - Terminal state after a transport, protocol or backend error.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or FAILED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateFailed
}

// ErrInvalidTransition is returned when a transition is not allowed from the current state.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Lifecycle manages the state machine for a single provider session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → CONNECTING → STREAMING → DRAINING → CLOSED
//	  │         │           │           │
//	  └─────────┴───────────┴───────────┴──→ FAILED (once)
//
// Rules:
//   - CONNECTING and STREAMING accept audio
//   - DRAINING accepts no audio but still delivers results
//   - CLOSED and FAILED are terminal; exactly one of them is ever reached
type Lifecycle struct {
	mu      sync.RWMutex
	state   State
	started bool
	reason  error
}

// NewLifecycle creates a new session lifecycle in IDLE state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateIdle}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Reason returns the failure reason, or nil unless FAILED.
func (l *Lifecycle) Reason() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reason
}

// AcceptsAudio reports whether audio may be sent in the current state.
func (l *Lifecycle) AcceptsAudio() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateConnecting || l.state == StateStreaming
}

// Connect transitions IDLE → CONNECTING.
func (l *Lifecycle) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateIdle {
		return fmt.Errorf("%w: connect from %s", ErrInvalidTransition, l.state)
	}
	l.state = StateConnecting
	return nil
}

// MarkStarted records that the backend accepted the stream parameters and
// moves CONNECTING → STREAMING. It returns true only for the first call on a
// non-terminal session.
func (l *Lifecycle) MarkStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.state.IsTerminal() || l.state == StateIdle {
		return false
	}
	l.started = true
	if l.state == StateConnecting {
		l.state = StateStreaming
	}
	return true
}

// Drain transitions CONNECTING or STREAMING → DRAINING.
// Returns false if the session is in any other state.
func (l *Lifecycle) Drain() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateConnecting && l.state != StateStreaming {
		return false
	}
	l.state = StateDraining
	return true
}

// Close transitions any non-terminal state → CLOSED.
// Returns true if the session was closed, false if already terminal.
func (l *Lifecycle) Close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateClosed
	return true
}

// Fail transitions any non-terminal state → FAILED, recording reason.
// Returns true if the session was failed, false if already terminal.
func (l *Lifecycle) Fail(reason error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateFailed
	l.reason = reason
	return true
}
