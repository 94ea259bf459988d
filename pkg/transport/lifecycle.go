package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrSessionEnded reports an event fired after the session reached a
// terminal state.
var ErrSessionEnded = errors.New("session ended")

// Events is the four-slot contract a transport fires over the life of one
// physical session. Exactly one implementation is bound per session and
// invocations are synchronous: the transport continues only after the slot
// returns.
type Events interface {
	// Connected is fired once when the transport has established its
	// session, before any Received.
	Connected(ctx context.Context) error

	// Received is fired once per inbound application message.
	Received(ctx context.Context, payload []byte) error

	// Errored is fired when the session fails.
	Errored(ctx context.Context, err error)

	// Disconnected is fired when the session ends.
	Disconnected(ctx context.Context)
}

// State is the session state guarded by a Lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnected
	StateDisconnected
	StateErrored
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// Lifecycle guards an Events implementation with the session state machine:
// Connected is idempotent, the terminal transitions fire at most once and
// exclude each other, and no slot runs after a terminal state. Slots are
// invoked under the lifecycle's lock, so events are strictly serialized.
//
// Received is permitted in the Idle state: a send-only request, as issued
// by polling clients, carries inbound messages without establishing a
// session of its own.
type Lifecycle struct {
	mu     sync.Mutex
	state  State
	events Events
}

// NewLifecycle binds the state machine to the given event slots.
func NewLifecycle(events Events) *Lifecycle {
	return &Lifecycle{events: events}
}

// State returns the current session state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connected transitions Idle to Connected and fires the slot. Repeated
// calls are no-ops; calls after a terminal state fail with ErrSessionEnded.
func (l *Lifecycle) Connected(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateConnected:
		return nil
	case StateDisconnected, StateErrored:
		return ErrSessionEnded
	}
	l.state = StateConnected
	return l.events.Connected(ctx)
}

// Received fires the slot for one inbound message. It fails with
// ErrSessionEnded after a terminal state.
func (l *Lifecycle) Received(ctx context.Context, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateDisconnected || l.state == StateErrored {
		return ErrSessionEnded
	}
	return l.events.Received(ctx, payload)
}

// Errored transitions to the Errored terminal state and fires the slot,
// unless a terminal state was already reached.
func (l *Lifecycle) Errored(ctx context.Context, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateDisconnected || l.state == StateErrored {
		return
	}
	l.state = StateErrored
	l.events.Errored(ctx, err)
}

// Disconnected transitions to the Disconnected terminal state and fires the
// slot, unless a terminal state was already reached.
func (l *Lifecycle) Disconnected(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateDisconnected || l.state == StateErrored {
		return
	}
	l.state = StateDisconnected
	l.events.Disconnected(ctx)
}
