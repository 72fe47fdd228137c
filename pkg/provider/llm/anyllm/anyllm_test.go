package anyllm

import (
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/troupe/pkg/provider/llm"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name, backend, model string
	}{
		{"empty backend", "", "gpt-4o"},
		{"empty model", "openai", ""},
		{"unsupported backend", "fakecloud", "some-model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.backend, tt.model, anyllmlib.WithAPIKey("dummy")); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		backend string
		model   string
		opts    []anyllmlib.Option
	}{
		{"openai", "gpt-4o", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"Anthropic", "claude-3-5-haiku-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"ollama", "llama3", nil},
		{"llamacpp", "llama3", nil},
		{"llamafile", "llama3", nil},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.model != tt.model {
				t.Errorf("model = %q, want %q", p.model, tt.model)
			}
		})
	}
}

func TestNew_OpenAIMissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestBackends_Sorted(t *testing.T) {
	names := Backends()
	if !slices.IsSorted(names) || !slices.Contains(names, "ollama") || len(names) != 9 {
		t.Errorf("Backends() = %v", names)
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are Garry.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Vex: hello", Name: "Vex"},
			{Role: llm.RoleAssistant, Content: "hi"},
		},
		Temperature: 0.4,
		MaxTokens:   64,
	})
	if params.Model != "llama3" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 3 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("Messages = %+v, want system prompt first", params.Messages)
	}
	if params.Messages[1].Name != "Vex" {
		t.Errorf("Name = %q, want Vex", params.Messages[1].Name)
	}
	if params.Temperature == nil || *params.Temperature != 0.4 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 64 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}

	bare := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if bare.Temperature != nil || bare.MaxTokens != nil || len(bare.Messages) != 1 {
		t.Errorf("zero options must be left unset: %+v", bare)
	}
}

func TestCapabilities(t *testing.T) {
	p, err := New("anthropic", "claude-3-opus-20240229", anyllmlib.WithAPIKey("k"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := p.Capabilities(); got.ContextWindow != 200_000 || got.MaxOutputTokens != 4_096 {
		t.Errorf("Capabilities() = %+v", got)
	}
}
