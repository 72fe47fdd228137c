package chat

// Turn is one entry of the LLM-facing view of the log. Role is one of
// "system", "user", or "assistant".
type Turn struct {
	Role    string
	Name    string
	Content string
}

// LLM roles used in [Turn].
const (
	TurnSystem    = "system"
	TurnUser      = "user"
	TurnAssistant = "assistant"
)

// View is the read-only window onto a session log that agents receive.
// Implementations return copies; callers may not mutate the log through it.
type View interface {
	// Messages returns every logged message in order.
	Messages() []Message
	// Turns returns the cached LLM view, one turn per message.
	Turns() []Turn
	// Len returns the number of logged messages.
	Len() int
}

// TurnFor maps a message to its LLM turn. Agent speech becomes an assistant
// turn, narration and player speech become user turns, and system messages
// stay system turns. Non-system content is prefixed with the speaker so that
// multi-character conversations keep attribution.
func TurnFor(m Message) Turn {
	switch m.Role {
	case RoleSystem:
		return Turn{Role: TurnSystem, Content: m.Content}
	case RoleAgent:
		return Turn{Role: TurnAssistant, Name: m.Speaker, Content: m.String()}
	default:
		return Turn{Role: TurnUser, Name: m.Speaker, Content: m.String()}
	}
}

// StaticView is a fixed, in-memory [View], useful for tests and one-shot
// prompts.
type StaticView []Message

// Messages implements [View].
func (v StaticView) Messages() []Message {
	out := make([]Message, len(v))
	copy(out, v)
	return out
}

// Turns implements [View].
func (v StaticView) Turns() []Turn {
	out := make([]Turn, len(v))
	for i, m := range v {
		out[i] = TurnFor(m)
	}
	return out
}

// Len implements [View].
func (v StaticView) Len() int { return len(v) }
