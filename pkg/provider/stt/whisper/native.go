// This file contains the NativeTranscriber implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/troupe/pkg/audio"
	"github.com/MrWong99/troupe/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var _ stt.Transcriber = (*NativeTranscriber)(nil)

// NativeTranscriber implements stt.Transcriber using whisper.cpp Go bindings.
// The model is loaded once and shared; every call creates its own decoding
// context, so concurrent transcriptions do not interfere.
type NativeTranscriber struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a NativeTranscriber.
type NativeOption func(*NativeTranscriber)

// WithNativeLanguage sets the language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(t *NativeTranscriber) { t.language = lang }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the transcriber is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeTranscriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &NativeTranscriber{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model.
func (t *NativeTranscriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe decodes the file at path and returns the joined segment text.
func (t *NativeTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	return t.run(ctx, path, nil)
}

// TranscribeStream reports every decoded segment as a partial before
// returning the joined text.
func (t *NativeTranscriber) TranscribeStream(ctx context.Context, path string, onPartial func(stt.Partial)) (string, error) {
	text, err := t.run(ctx, path, onPartial)
	if err != nil {
		return "", err
	}
	onPartial(stt.Partial{Text: text, Final: true})
	return text, nil
}

func (t *NativeTranscriber) run(ctx context.Context, path string, onPartial func(stt.Partial)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pcm, err := stt.LoadSpeech(path)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	samples := audio.Float32Mono(pcm, stt.SpeechFormat.Channels)

	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(t.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", t.language, "err", err)
	}

	var (
		sb      strings.Builder
		segment whisperlib.SegmentCallback
	)
	if onPartial != nil {
		segment = func(s whisperlib.Segment) {
			delta := strings.TrimSpace(s.Text)
			if delta == "" {
				return
			}
			if sb.Len() > 0 {
				delta = " " + delta
			}
			sb.WriteString(delta)
			onPartial(stt.Partial{Text: sb.String(), Delta: delta})
		}
	}

	if err := wctx.Process(samples, nil, segment, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var parts []string
	for {
		s, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(s.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
