// Package mock provides an in-memory mock implementation of [agent.Agent] for
// use in unit tests.
//
// The mock is safe for concurrent use, records every call, and exposes
// exported fields for configuring return values.
//
// Example:
//
//	vex := &mock.Agent{NameResult: "Vex", Replies: []string{"Quiet.", "Still quiet."}}
//	msg, err := vex.Respond(ctx, log)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/troupe/internal/agent"
	"github.com/MrWong99/troupe/pkg/chat"
)

// RespondCall records the arguments of a single [Agent.Respond] invocation.
type RespondCall struct {
	// Messages is a snapshot of the view at call time.
	Messages []chat.Message
}

// Agent is a mock implementation of [agent.Agent].
type Agent struct {
	mu sync.Mutex

	// NameResult is returned by [Agent.Name].
	NameResult string

	// Replies are returned in order, one per successful Respond call. The
	// last reply repeats once the list is exhausted.
	Replies []string

	// RespondError, if set, is wrapped in an [agent.GenerationError] and
	// returned by [Agent.Respond].
	RespondError error

	// Delay makes Respond block for the given time or until ctx is done.
	Delay time.Duration

	// RespondCalls records all Respond invocations.
	RespondCalls []RespondCall

	next int
}

var _ agent.Agent = (*Agent)(nil)

// Name implements [agent.Agent].
func (a *Agent) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.NameResult
}

// Respond implements [agent.Agent].
func (a *Agent) Respond(ctx context.Context, view chat.View) (chat.Message, error) {
	a.mu.Lock()
	a.RespondCalls = append(a.RespondCalls, RespondCall{Messages: view.Messages()})
	name, delay, rerr := a.NameResult, a.Delay, a.RespondError
	a.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return chat.Message{}, &agent.GenerationError{Agent: name, Err: ctx.Err()}
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return chat.Message{}, &agent.GenerationError{Agent: name, Err: err}
	}
	if rerr != nil {
		return chat.Message{}, &agent.GenerationError{Agent: name, Err: rerr}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.Replies) == 0 {
		return chat.Message{}, &agent.GenerationError{Agent: name, Err: agent.ErrEmptyReply}
	}
	reply := a.Replies[min(a.next, len(a.Replies)-1)]
	a.next++
	return chat.NewMessage(name, chat.RoleAgent, reply), nil
}

// Calls returns a copy of the recorded Respond invocations.
func (a *Agent) Calls() []RespondCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]RespondCall, len(a.RespondCalls))
	copy(out, a.RespondCalls)
	return out
}
