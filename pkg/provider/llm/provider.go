// Package llm defines the Provider interface for Large Language Model
// backends.
//
// An LLM provider wraps a remote or local model API (OpenAI, Anthropic,
// Ollama, ...) and lets agents request completions, count tokens and read
// model limits without depending on a specific SDK.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Chat roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversation sent to a model.
type Message struct {
	// Role is RoleSystem, RoleUser or RoleAssistant.
	Role string

	Content string

	// Name optionally names the participant.
	Name string
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to reply. Messages
// must be non-empty.
type CompletionRequest struct {
	Messages []Message

	// SystemPrompt is sent ahead of Messages as a system message.
	SystemPrompt string

	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the completion. Zero leaves the provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content string

	// FinishReason is the backend's stop reason ("stop", "length", ...).
	FinishReason string

	Usage Usage
}

// ModelCapabilities describes static limits of a model.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	// MaxOutputTokens is the most tokens one completion may produce.
	MaxOutputTokens int
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many context tokens messages occupy. The
	// estimate may overcount but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns the model's limits. It is constant for the
	// lifetime of the provider.
	Capabilities() ModelCapabilities
}
