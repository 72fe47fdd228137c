// Package transform post-processes agent replies before they reach the log.
package transform

import (
	"context"
	"strings"

	"github.com/MrWong99/troupe/pkg/chat"
)

// Transformer rewrites a generated message. Implementations must be safe
// for concurrent use and must not modify fields other than Content.
type Transformer interface {
	Transform(ctx context.Context, msg chat.Message) (chat.Message, error)
}

// Func adapts a plain function to [Transformer].
type Func func(ctx context.Context, msg chat.Message) (chat.Message, error)

// Transform implements Transformer.
func (f Func) Transform(ctx context.Context, msg chat.Message) (chat.Message, error) {
	return f(ctx, msg)
}

// Noop returns messages unchanged.
type Noop struct{}

// Transform implements Transformer.
func (Noop) Transform(_ context.Context, msg chat.Message) (chat.Message, error) {
	return msg, nil
}

// Sequential applies its transformers in order, stopping at the first error.
type Sequential []Transformer

// Transform implements Transformer.
func (s Sequential) Transform(ctx context.Context, msg chat.Message) (chat.Message, error) {
	for _, t := range s {
		var err error
		if msg, err = t.Transform(ctx, msg); err != nil {
			return chat.Message{}, err
		}
	}
	return msg, nil
}

// StripPrefix removes a leading "<speaker>:" that models like to echo back
// from the chat transcript.
type StripPrefix struct{}

// Transform implements Transformer.
func (StripPrefix) Transform(_ context.Context, msg chat.Message) (chat.Message, error) {
	if msg.Speaker == "" {
		return msg, nil
	}
	if rest, ok := strings.CutPrefix(msg.Content, msg.Speaker+":"); ok {
		msg.Content = strings.TrimSpace(rest)
	}
	return msg, nil
}
