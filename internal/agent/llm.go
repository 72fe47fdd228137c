package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/MrWong99/troupe/internal/agent/transform"
	"github.com/MrWong99/troupe/internal/observe"
	"github.com/MrWong99/troupe/pkg/chat"
	"github.com/MrWong99/troupe/pkg/provider/llm"
)

// LLMConfig holds everything needed to create an [LLM] agent. Name and
// Provider are required.
type LLMConfig struct {
	// Name is the character name stamped on replies and told to the model.
	Name string

	// Provider generates the replies.
	Provider llm.Provider

	// SystemPrompt is the rendered character prompt. The name reminder is
	// appended automatically.
	SystemPrompt string

	// Temperature and MaxTokens are passed through; zero keeps provider
	// defaults.
	Temperature float64
	MaxTokens   int

	// TokenBudget caps the prompt size in tokens. The oldest turns are
	// dropped until the prompt fits. Zero uses the model's context window
	// minus MaxTokens.
	TokenBudget int

	// Limiter, if set, is waited on before every request.
	Limiter *rate.Limiter

	// Transformer post-processes replies. Nil leaves them unchanged.
	Transformer transform.Transformer

	// Metrics records reply latency. Nil means [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// LLM is an [Agent] backed by a language model.
type LLM struct {
	cfg    LLMConfig
	system string
}

var _ Agent = (*LLM)(nil)

// NewLLM validates cfg and returns the agent.
func NewLLM(cfg LLMConfig) (*LLM, error) {
	if cfg.Name == "" {
		return nil, errors.New("agent: Name must not be empty")
	}
	if cfg.Provider == nil {
		return nil, errors.New("agent: Provider must not be nil")
	}
	if cfg.TokenBudget < 0 || cfg.MaxTokens < 0 {
		return nil, errors.New("agent: TokenBudget and MaxTokens must not be negative")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &LLM{cfg: cfg, system: withNameReminder(cfg.SystemPrompt, cfg.Name)}, nil
}

// Name implements Agent.
func (a *LLM) Name() string { return a.cfg.Name }

// SystemPrompt returns the full system prompt including the name reminder.
func (a *LLM) SystemPrompt() string { return a.system }

// Respond implements Agent.
func (a *LLM) Respond(ctx context.Context, view chat.View) (msg chat.Message, err error) {
	ctx, span := observe.StartSpan(ctx, "agent.respond",
		trace.WithAttributes(attribute.String("agent", a.cfg.Name)))
	start := time.Now()
	defer func() {
		observe.ObserveSince(ctx, a.cfg.Metrics.AgentDuration, start, observe.Attr("agent", a.cfg.Name))
		observe.EndSpan(span, err)
	}()

	if a.cfg.Limiter != nil {
		if err := a.cfg.Limiter.Wait(ctx); err != nil {
			return chat.Message{}, &GenerationError{Agent: a.cfg.Name, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	messages := toLLMMessages(view.Turns())
	if len(messages) == 0 {
		return chat.Message{}, &GenerationError{Agent: a.cfg.Name, Err: ErrEmptyView}
	}
	messages = a.fit(ctx, messages)
	span.SetAttributes(attribute.Int("agent.messages", len(messages)))

	resp, err := a.cfg.Provider.Complete(ctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: a.system,
		Temperature:  a.cfg.Temperature,
		MaxTokens:    a.cfg.MaxTokens,
	})
	if err != nil {
		return chat.Message{}, &GenerationError{Agent: a.cfg.Name, Err: err}
	}
	if resp == nil {
		resp = &llm.CompletionResponse{}
	}
	observe.Logger(ctx).Debug("agent replied",
		"agent", a.cfg.Name,
		"finish_reason", resp.FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	return finish(ctx, a.cfg.Name, resp.Content, a.cfg.Transformer)
}

// budget returns the prompt token limit, or 0 for no limit.
func (a *LLM) budget() int {
	if a.cfg.TokenBudget > 0 {
		return a.cfg.TokenBudget
	}
	window := a.cfg.Provider.Capabilities().ContextWindow
	if window <= 0 {
		return 0
	}
	return max(window-a.cfg.MaxTokens, 1)
}

// fit drops the oldest messages until the prompt fits the budget. The most
// recent message is always kept. Token counting failures leave the history
// untouched.
func (a *LLM) fit(ctx context.Context, messages []llm.Message) []llm.Message {
	limit := a.budget()
	if limit == 0 {
		return messages
	}
	system := llm.Message{Role: llm.RoleSystem, Content: a.system}

	var countErr error
	fits := func(start int) bool {
		if countErr != nil {
			return true
		}
		n, err := a.cfg.Provider.CountTokens(append([]llm.Message{system}, messages[start:]...))
		if err != nil {
			countErr = err
			return true
		}
		return n <= limit
	}

	if fits(0) {
		return messages
	}
	// Suffixes only shrink as start grows, so the first fitting start is
	// found by binary search.
	last := len(messages) - 1
	start := sort.Search(last, func(i int) bool { return fits(i) })
	if countErr != nil {
		observe.Logger(ctx).Warn("agent: token count failed, sending full history",
			"agent", a.cfg.Name, "err", countErr)
		return messages
	}
	observe.Logger(ctx).Debug("agent: trimmed history",
		"agent", a.cfg.Name, "dropped", start, "kept", len(messages)-start, "budget", limit)
	return messages[start:]
}

func toLLMMessages(turns []chat.Turn) []llm.Message {
	out := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleUser
		switch t.Role {
		case chat.TurnSystem:
			role = llm.RoleSystem
		case chat.TurnAssistant:
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: t.Content, Name: t.Name})
	}
	return out
}
