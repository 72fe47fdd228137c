package llm

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Per-message framing overhead (<|start|>role\n ... <|end|>\n) and the reply
// primer counted once per conversation.
const (
	tokensPerMessage = 4
	tokensPerReply   = 3
)

// TokenCounter counts tokens with the tiktoken encoding of a model. The
// encoding is loaded on first use; if it cannot be loaded (tiktoken fetches
// its tables on demand) the counter falls back to a character estimate that
// errs high.
type TokenCounter struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken

	// load is swapped in tests.
	load func(encoding string) (*tiktoken.Tiktoken, error)
}

// NewTokenCounter returns a counter for model. Models without a known
// encoding use cl100k_base.
func NewTokenCounter(model string) *TokenCounter {
	return &TokenCounter{encoding: encodingFor(model), load: tiktoken.GetEncoding}
}

func encodingFor(model string) string {
	lower := strings.ToLower(model)
	for _, p := range []string{"gpt-4o", "gpt-4.1", "o1", "o3", "o4"} {
		if strings.HasPrefix(lower, p) {
			return "o200k_base"
		}
	}
	return "cl100k_base"
}

// Encoding names the tiktoken encoding in use.
func (c *TokenCounter) Encoding() string { return c.encoding }

func (c *TokenCounter) init() {
	c.once.Do(func() {
		enc, err := c.load(c.encoding)
		if err != nil {
			slog.Warn("llm: tiktoken encoding unavailable, estimating token counts",
				"encoding", c.encoding, "err", err)
			return
		}
		c.enc = enc
	})
}

// Count returns the tokens of a single text.
func (c *TokenCounter) Count(text string) int {
	c.init()
	if c.enc == nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// CountMessages returns the tokens a conversation occupies, including chat
// framing.
func (c *TokenCounter) CountMessages(messages []Message) (int, error) {
	if c == nil {
		return 0, fmt.Errorf("llm: nil token counter")
	}
	total := tokensPerReply
	for _, m := range messages {
		total += tokensPerMessage + c.Count(m.Role) + c.Count(m.Content)
		if m.Name != "" {
			total += c.Count(m.Name) + 1
		}
	}
	return total, nil
}

// EstimateTokens approximates the token count of text at roughly four bytes
// per token, rounded up.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
