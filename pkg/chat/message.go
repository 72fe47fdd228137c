// Package chat defines the session's chat messages and the append-only
// session log that persists them.
//
// A [Message] is immutable once appended to a [Log]; the only field that may
// be attached afterwards is AudioPath. The [Log] is the single source of truth
// handed to agents, which read it through the [View] interface.
package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role classifies who produced a message.
type Role string

const (
	// RoleSystem carries instructions addressed to every agent.
	RoleSystem Role = "system"
	// RoleNarration is scene-setting text from the session's narrator.
	RoleNarration Role = "narration"
	// RoleAgent is speech generated by an agent.
	RoleAgent Role = "agent"
	// RolePlayer is speech from a human participant.
	RolePlayer Role = "player"
)

// NarrationSpeaker is the reserved speaker of narration lines that have no
// named narrator.
const NarrationSpeaker = "narration"

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleNarration, RoleAgent, RolePlayer:
		return true
	}
	return false
}

// Spoken reports whether messages with this role are speech that a voice can
// perform.
func (r Role) Spoken() bool {
	return r == RoleAgent || r == RolePlayer
}

// ParseRole converts a string to a Role, rejecting unknown values.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("chat: unknown role %q", s)
	}
	return r, nil
}

// Message is a single utterance in a session.
type Message struct {
	ID        uuid.UUID
	Speaker   string
	Role      Role
	Content   string
	Timestamp time.Time

	// AudioPath optionally points at the rendered audio for this message.
	// It is a hint only; the file may no longer exist.
	AudioPath string
}

// NewMessage creates a message with a fresh ID and the current time.
func NewMessage(speaker string, role Role, content string) Message {
	return Message{
		ID:        uuid.New(),
		Speaker:   speaker,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Validate checks that the message can be appended to a log.
func (m Message) Validate() error {
	if !m.Role.IsValid() {
		return fmt.Errorf("chat: message %s: unknown role %q", m.ID, m.Role)
	}
	if m.Speaker == "" && m.Role != RoleSystem {
		return fmt.Errorf("chat: message %s: speaker must not be empty", m.ID)
	}
	return nil
}

// String renders the message as "speaker: content", the form used in logs
// and in the LLM view.
func (m Message) String() string {
	if m.Speaker == "" {
		return m.Content
	}
	return m.Speaker + ": " + m.Content
}
