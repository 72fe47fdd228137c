package agent

import (
	"context"

	"github.com/MrWong99/troupe/internal/agent/transform"
	"github.com/MrWong99/troupe/pkg/chat"
)

// Fixed is an [Agent] that always replies with the same line.
type Fixed struct {
	name  string
	reply string
	tr    transform.Transformer
}

var _ Agent = (*Fixed)(nil)

// NewFixed returns an agent named name that always says reply. tr may be nil.
func NewFixed(name, reply string, tr transform.Transformer) *Fixed {
	return &Fixed{name: name, reply: reply, tr: tr}
}

// Name implements Agent.
func (f *Fixed) Name() string { return f.name }

// Respond implements Agent. The view is ignored.
func (f *Fixed) Respond(ctx context.Context, _ chat.View) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, &GenerationError{Agent: f.name, Err: err}
	}
	return finish(ctx, f.name, f.reply, f.tr)
}
