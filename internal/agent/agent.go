// Package agent defines the Agent interface and its implementations.
//
// An [Agent] reads the session log through a [chat.View] and produces the
// next line for one character. Agents never append to the log themselves:
// the session appends the returned message, so a failed or cancelled reply
// leaves the log untouched. Agents hold no per-log state and may be shared
// between sessions.
//
// Two implementations are provided:
//
//   - [Fixed] always says the same line. It backs offline configs and tests.
//   - [LLM] prompts an [llm.Provider] with the log's cached LLM view.
//
// Replies may be post-processed by a [transform.Transformer] chain before
// they are returned.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/troupe/internal/agent/transform"
	"github.com/MrWong99/troupe/pkg/chat"
)

// ErrEmptyReply is wrapped by [GenerationError] when an agent produced only
// whitespace.
var ErrEmptyReply = errors.New("agent: empty reply")

// ErrEmptyView is wrapped by [GenerationError] when an LLM agent is asked to
// respond to a log with nothing in it.
var ErrEmptyView = errors.New("agent: nothing to respond to")

// Agent produces replies for one character.
//
// Implementations must be safe for concurrent use.
type Agent interface {
	// Name is the speaker name stamped on every reply.
	Name() string

	// Respond returns a new message with role [chat.RoleAgent] and speaker
	// Name(). It does not append the message anywhere. Failures are returned
	// as *GenerationError.
	Respond(ctx context.Context, view chat.View) (chat.Message, error)
}

// GenerationError reports a failed reply.
type GenerationError struct {
	Agent string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// finish wraps content as a reply from name, runs tr on it and rejects blank
// results.
func finish(ctx context.Context, name, content string, tr transform.Transformer) (chat.Message, error) {
	msg := chat.NewMessage(name, chat.RoleAgent, strings.TrimSpace(content))
	if tr != nil {
		var err error
		msg, err = tr.Transform(ctx, msg)
		if err != nil {
			return chat.Message{}, &GenerationError{Agent: name, Err: fmt.Errorf("transform: %w", err)}
		}
		msg.Content = strings.TrimSpace(msg.Content)
	}
	if msg.Content == "" {
		return chat.Message{}, &GenerationError{Agent: name, Err: ErrEmptyReply}
	}
	return msg, nil
}
