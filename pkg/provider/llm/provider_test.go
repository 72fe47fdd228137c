package llm

import (
	"errors"
	"testing"

	"github.com/pkoukk/tiktoken-go"
)

func TestCapabilitiesFor(t *testing.T) {
	tests := []struct {
		model string
		want  ModelCapabilities
	}{
		{"gpt-4o-mini", ModelCapabilities{128_000, 16_384}},
		{"GPT-4o", ModelCapabilities{128_000, 16_384}},
		{"gpt-4", ModelCapabilities{8_192, 4_096}},
		{"gpt-4-turbo-preview", ModelCapabilities{128_000, 4_096}},
		{"o1-mini", ModelCapabilities{128_000, 65_536}},
		{"claude-3-opus-latest", ModelCapabilities{200_000, 4_096}},
		{"claude-sonnet-4", ModelCapabilities{200_000, 8_192}},
		{"gemini-1.5-pro", ModelCapabilities{2_097_152, 8_192}},
		{"mistral-small", ModelCapabilities{32_768, 4_096}},
		{"something-new", defaultCapabilities},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := CapabilitiesFor(tt.model); got != tt.want {
				t.Errorf("CapabilitiesFor(%q) = %+v, want %+v", tt.model, got, tt.want)
			}
		})
	}
}

func TestEncodingFor(t *testing.T) {
	tests := map[string]string{
		"gpt-4o":        "o200k_base",
		"o3-mini":       "o200k_base",
		"gpt-3.5-turbo": "cl100k_base",
		"llama3":        "cl100k_base",
	}
	for model, want := range tests {
		if got := NewTokenCounter(model).Encoding(); got != want {
			t.Errorf("encoding for %q = %q, want %q", model, got, want)
		}
	}
}

func TestTokenCounter_FallsBackToEstimate(t *testing.T) {
	c := NewTokenCounter("gpt-4o")
	loads := 0
	c.load = func(string) (*tiktoken.Tiktoken, error) {
		loads++
		return nil, errors.New("offline")
	}

	msgs := []Message{
		{Role: RoleSystem, Content: "You are Vex."},
		{Role: RoleUser, Content: "hello", Name: "Garry"},
	}
	got, err := c.CountMessages(msgs)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	want := tokensPerReply +
		tokensPerMessage + EstimateTokens("system") + EstimateTokens("You are Vex.") +
		tokensPerMessage + EstimateTokens("user") + EstimateTokens("hello") + EstimateTokens("Garry") + 1
	if got != want {
		t.Errorf("CountMessages = %d, want %d", got, want)
	}

	_ = c.Count("again")
	if loads != 1 {
		t.Errorf("encoding loaded %d times, want 1", loads)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := map[string]int{"": 0, "a": 1, "abcd": 1, "abcde": 2}
	for in, want := range tests {
		if got := EstimateTokens(in); got != want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", in, got, want)
		}
	}
}
