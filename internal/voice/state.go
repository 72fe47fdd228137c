package voice

import (
	"sync"

	"github.com/MrWong99/troupe/pkg/chat"
)

// State is the lifecycle stage of one enqueued message.
type State int

const (
	// StateQueued: accepted, waiting for a render slot.
	StateQueued State = iota
	// StateRendering: the actor is synthesising audio.
	StateRendering
	// StatePlaying: audio is being played.
	StatePlaying
	// StateDone: playback finished, or no actor claimed the message.
	StateDone
	// StateFailed: rendering or playback failed, or was cancelled.
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRendering:
		return "rendering"
	case StatePlaying:
		return "playing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Event describes one state change, delivered to the manager's observer.
type Event struct {
	Message chat.Message
	// Actor is the claiming actor's name, or "" for unvoiced messages.
	Actor string
	State State
	Err   error
}

// Ticket tracks one message handed to [Manager.Enqueue].
type Ticket struct {
	msg  chat.Message
	done chan struct{}

	mu    sync.Mutex
	actor string
	state State
	err   error
}

func newTicket(msg chat.Message) *Ticket {
	return &Ticket{msg: msg, done: make(chan struct{}), state: StateQueued}
}

// Message returns the enqueued message.
func (t *Ticket) Message() chat.Message { return t.msg }

// Done is closed once the ticket reaches a terminal state.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// State returns the current state.
func (t *Ticket) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the failure cause once the ticket is StateFailed.
func (t *Ticket) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Actor returns the name of the claiming actor, or "" if none claimed it.
func (t *Ticket) Actor() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.actor
}

// update applies a transition. Transitions out of a terminal state are
// ignored and reported as false.
func (t *Ticket) update(s State, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false
	}
	t.state = s
	t.err = err
	return true
}
