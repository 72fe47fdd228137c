package llm

import "strings"

// capabilityRule matches model names by prefix or substring. Rules are tried
// in order, so more specific names come first.
type capabilityRule struct {
	match func(model string) bool
	caps  ModelCapabilities
}

func prefix(p string) func(string) bool {
	return func(m string) bool { return strings.HasPrefix(m, p) }
}

func contains(s string) func(string) bool {
	return func(m string) bool { return strings.Contains(m, s) }
}

var capabilityRules = []capabilityRule{
	{prefix("gpt-4.1"), ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768}},
	{prefix("gpt-4o"), ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384}},
	{prefix("gpt-4-turbo"), ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}},
	{prefix("gpt-4"), ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}},
	{prefix("gpt-3.5-turbo"), ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096}},
	{prefix("o1-mini"), ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536}},
	{prefix("o1"), ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{prefix("o3"), ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{contains("claude-3-opus"), ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 4_096}},
	{contains("claude"), ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192}},
	{contains("gemini-1.5-pro"), ModelCapabilities{ContextWindow: 2_097_152, MaxOutputTokens: 8_192}},
	{contains("gemini-1.5-flash"), ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192}},
	{contains("gemini-2"), ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192}},
	{contains("gemini"), ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 8_192}},
	{contains("llama3"), ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 2_048}},
	{contains("mistral"), ModelCapabilities{ContextWindow: 32_768, MaxOutputTokens: 4_096}},
}

// defaultCapabilities applies to models no rule knows.
var defaultCapabilities = ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

// CapabilitiesFor returns the limits of a known model family, matched case
// insensitively, or conservative defaults.
func CapabilitiesFor(model string) ModelCapabilities {
	lower := strings.ToLower(model)
	for _, r := range capabilityRules {
		if r.match(lower) {
			return r.caps
		}
	}
	return defaultCapabilities
}
