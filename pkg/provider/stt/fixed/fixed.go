// Package fixed provides a Transcriber that ignores its input and returns a
// configured transcript. It backs the "fixed" transcriber in configuration,
// which is useful for demos and for exercising the narrate flow without a
// speech model, and doubles as a test stub for callers of stt.Transcriber.
package fixed

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/troupe/pkg/provider/stt"
)

// Transcriber returns Text for every file.
type Transcriber struct {
	// Text is returned by every call.
	Text string

	// Err, if non-nil, is returned instead of Text.
	Err error

	// Streaming enables TranscribeStream. When false, TranscribeStream returns
	// an error wrapping stt.ErrCapabilityUnsupported.
	Streaming bool

	mu    sync.Mutex
	paths []string
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records path and returns Text.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.record(path)
	if t.Err != nil {
		return "", t.Err
	}
	return t.Text, nil
}

// TranscribeStream reports Text one word at a time, then a final Partial.
func (t *Transcriber) TranscribeStream(ctx context.Context, path string, onPartial func(stt.Partial)) (string, error) {
	if !t.Streaming {
		return "", stt.Unsupported("fixed")
	}
	text, err := t.Transcribe(ctx, path)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, word := range strings.Fields(text) {
		delta := word
		if i > 0 {
			delta = " " + word
		}
		sb.WriteString(delta)
		onPartial(stt.Partial{Text: sb.String(), Delta: delta})
	}
	onPartial(stt.Partial{Text: text, Final: true})
	return text, nil
}

// Paths returns every path passed to Transcribe or TranscribeStream.
func (t *Transcriber) Paths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.paths))
	copy(out, t.paths)
	return out
}

func (t *Transcriber) record(path string) {
	t.mu.Lock()
	t.paths = append(t.paths, path)
	t.mu.Unlock()
}
