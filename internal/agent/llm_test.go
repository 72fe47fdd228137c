package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/troupe/internal/agent/transform"
	"github.com/MrWong99/troupe/pkg/chat"
	"github.com/MrWong99/troupe/pkg/provider/llm"
	"github.com/MrWong99/troupe/pkg/provider/llm/mock"
)

func history(n int) chat.StaticView {
	v := chat.StaticView{chat.NewMessage("", chat.RoleNarration, "The tavern is loud.")}
	for i := 1; i < n; i++ {
		v = append(v, chat.NewMessage("Garry", chat.RoleAgent, fmt.Sprintf("line %d", i)))
	}
	return v
}

func newLLM(t *testing.T, cfg LLMConfig) *LLM {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "Vex"
	}
	a, err := NewLLM(cfg)
	if err != nil {
		t.Fatalf("NewLLM: %v", err)
	}
	return a
}

func TestNewLLM_Validation(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	tests := []struct {
		name string
		cfg  LLMConfig
	}{
		{name: "no name", cfg: LLMConfig{Provider: p}},
		{name: "no provider", cfg: LLMConfig{Name: "Vex"}},
		{name: "negative budget", cfg: LLMConfig{Name: "Vex", Provider: p, TokenBudget: -1}},
	}
	for _, tt := range tests {
		if _, err := NewLLM(tt.cfg); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestLLM_Respond(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Vex: Keep your voice down.", FinishReason: "stop"}}
	a := newLLM(t, LLMConfig{
		Provider:     p,
		SystemPrompt: "You are a sly rogue.",
		Temperature:  0.7,
		MaxTokens:    300,
		Transformer:  transform.StripPrefix{},
	})

	view := chat.StaticView{
		chat.NewMessage("", chat.RoleSystem, "Stay in character."),
		chat.NewMessage("", chat.RoleNarration, "A guard walks in."),
		chat.NewMessage("Garry", chat.RoleAgent, "Evening, officer!"),
		chat.NewMessage("Ana", chat.RolePlayer, "Vex, what now?"),
	}
	msg, err := a.Respond(context.Background(), view)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if msg.Content != "Keep your voice down." || msg.Speaker != "Vex" || msg.Role != chat.RoleAgent {
		t.Errorf("msg = %+v", msg)
	}

	calls := p.CompleteCalls()
	if len(calls) != 1 {
		t.Fatalf("Complete called %d times", len(calls))
	}
	req := calls[0]
	if req.SystemPrompt != "You are a sly rogue.\n\nYour name will show up in messages as: Vex" {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if req.Temperature != 0.7 || req.MaxTokens != 300 {
		t.Errorf("Temperature/MaxTokens = %v/%d", req.Temperature, req.MaxTokens)
	}
	wantRoles := []string{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
	if len(req.Messages) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d", len(req.Messages), len(wantRoles))
	}
	for i, role := range wantRoles {
		if req.Messages[i].Role != role {
			t.Errorf("message %d role = %q, want %q", i, req.Messages[i].Role, role)
		}
	}
	if req.Messages[2].Content != "Garry: Evening, officer!" || req.Messages[2].Name != "Garry" {
		t.Errorf("assistant turn = %+v", req.Messages[2])
	}
}

func TestLLM_Respond_Errors(t *testing.T) {
	t.Parallel()

	t.Run("empty view", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi"}}
		_, err := newLLM(t, LLMConfig{Provider: p}).Respond(context.Background(), chat.StaticView{})
		if !errors.Is(err, ErrEmptyView) {
			t.Errorf("err = %v, want ErrEmptyView", err)
		}
		if len(p.CompleteCalls()) != 0 {
			t.Error("provider called for empty view")
		}
	})

	t.Run("provider error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("upstream down")
		_, err := newLLM(t, LLMConfig{Provider: &mock.Provider{CompleteErr: boom}}).Respond(context.Background(), history(2))
		var gerr *GenerationError
		if !errors.As(err, &gerr) || gerr.Agent != "Vex" || !errors.Is(err, boom) {
			t.Errorf("err = %v, want GenerationError wrapping boom", err)
		}
	})

	t.Run("blank reply", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "\n \t"}}
		_, err := newLLM(t, LLMConfig{Provider: p}).Respond(context.Background(), history(2))
		if !errors.Is(err, ErrEmptyReply) {
			t.Errorf("err = %v, want ErrEmptyReply", err)
		}
	})

	t.Run("rate limited past deadline", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "hi"}}
		a := newLLM(t, LLMConfig{Provider: p, Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)})
		if _, err := a.Respond(context.Background(), history(2)); err != nil {
			t.Fatalf("first Respond: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if _, err := a.Respond(ctx, history(2)); err == nil {
			t.Fatal("expected rate limit error")
		}
		if n := len(p.CompleteCalls()); n != 1 {
			t.Errorf("Complete called %d times, want 1", n)
		}
	})
}

func TestLLM_TrimsHistory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      LLMConfig
		messages int
		wantKept int
		wantLast string
	}{
		// Every message, including the system prompt, counts 10 tokens.
		{name: "fits", cfg: LLMConfig{TokenBudget: 100}, messages: 5, wantKept: 5},
		{name: "budget drops oldest", cfg: LLMConfig{TokenBudget: 35}, messages: 5, wantKept: 2},
		{name: "last message always kept", cfg: LLMConfig{TokenBudget: 5}, messages: 5, wantKept: 1},
		{name: "context window minus output", cfg: LLMConfig{MaxTokens: 40}, messages: 8, wantKept: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &mock.Provider{
				CompleteResponse:  &llm.CompletionResponse{Content: "ok"},
				TokensPerMessage:  10,
				ModelCapabilities: llm.ModelCapabilities{ContextWindow: 100},
			}
			cfg := tt.cfg
			cfg.Provider = p
			if _, err := newLLM(t, cfg).Respond(context.Background(), history(tt.messages)); err != nil {
				t.Fatalf("Respond: %v", err)
			}
			got := p.CompleteCalls()[0].Messages
			if len(got) != tt.wantKept {
				t.Fatalf("kept %d messages, want %d", len(got), tt.wantKept)
			}
			if want := fmt.Sprintf("Garry: line %d", tt.messages-1); got[len(got)-1].Content != want {
				t.Errorf("last message = %q, want %q", got[len(got)-1].Content, want)
			}
		})
	}
}

func TestLLM_CountTokensFailureSendsFullHistory(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "ok"},
		CountTokensErr:   errors.New("no tokenizer"),
	}
	if _, err := newLLM(t, LLMConfig{Provider: p, TokenBudget: 1}).Respond(context.Background(), history(6)); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if n := len(p.CompleteCalls()[0].Messages); n != 6 {
		t.Errorf("sent %d messages, want 6", n)
	}
}

func TestLLM_CountTokensFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "ok"},
		CountTokensErr:   errors.New("no tokenizer"),
	}
	if _, err := newLLM(t, LLMConfig{Provider: p, TokenBudget: 1}).Respond(context.Background(), history(3)); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	dec := json.NewDecoder(&buf)
	for dec.More() {
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			t.Fatalf("decode log record: %v", err)
		}
		if rec["msg"] != "agent: token count failed, sending full history" {
			continue
		}
		if rec["err"] != "no tokenizer" || rec["agent"] != "Vex" {
			t.Errorf("record = %v, want err and agent keys", rec)
		}
		return
	}
	t.Fatalf("no token count warning logged:\n%s", buf.String())
}
