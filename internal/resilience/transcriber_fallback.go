package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/troupe/pkg/provider/stt"
)

// TranscriberFallback is an [stt.Transcriber] that fails over across
// transcription backends.
//
// TranscribeStream degrades to Transcribe on sync-only backends, reporting a
// single final partial, so streaming through the fallback never fails with
// [stt.ErrCapabilityUnsupported]. Partials already reported by a backend that
// fails midway are not retracted; the next backend starts over.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a TranscriberFallback preferring primary.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	if cfg.Kind == "" {
		cfg.Kind = "stt"
	}
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe transcribes path on the first healthy backend.
func (f *TranscriberFallback) Transcribe(ctx context.Context, path string) (string, error) {
	return Do(ctx, f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, path)
	})
}

// TranscribeStream streams path on the first healthy backend.
func (f *TranscriberFallback) TranscribeStream(ctx context.Context, path string, onPartial func(stt.Partial)) (string, error) {
	return Do(ctx, f.group, func(t stt.Transcriber) (string, error) {
		text, err := t.TranscribeStream(ctx, path, onPartial)
		if !errors.Is(err, stt.ErrCapabilityUnsupported) {
			return text, err
		}
		text, err = t.Transcribe(ctx, path)
		if err != nil {
			return "", err
		}
		onPartial(stt.Partial{Text: text, Final: true})
		return text, nil
	})
}
