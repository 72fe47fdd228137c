// Package openai provides an stt.Transcriber backed by the OpenAI audio
// transcription API.
//
// whisper-1 only transcribes synchronously. The gpt-4o transcribe models
// also stream text deltas, which TranscribeStream reports as partials.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/troupe/pkg/provider/stt"
)

// DefaultModel is used when New is given an empty model.
const DefaultModel = oai.AudioModelWhisper1

var _ stt.Transcriber = (*Transcriber)(nil)

type config struct {
	baseURL    string
	language   string
	prompt     string
	timeout    time.Duration
	httpClient *http.Client
}

// Option configures a Transcriber.
type Option func(*config)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the ISO-639-1 language of the input audio.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithPrompt sets text that guides spelling and style, such as character
// names that occur in the session.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client. It takes precedence over
// WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

// New constructs a Transcriber for model. An empty model selects
// DefaultModel.
func New(apiKey, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Transcriber{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Streaming reports whether the configured model supports streamed
// transcription.
func (t *Transcriber) Streaming() bool {
	return SupportsStreaming(t.model)
}

// SupportsStreaming reports whether model streams transcription deltas.
// whisper-1 does not; the gpt-4o transcribe family does.
func SupportsStreaming(model string) bool {
	return strings.HasPrefix(model, "gpt-4o") && strings.Contains(model, "transcribe")
}

// Transcribe uploads the file at path and returns the transcript.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	defer f.Close()

	resp, err := t.client.Audio.Transcriptions.New(ctx, t.params(f, path))
	if err != nil {
		return "", fmt.Errorf("openai: transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// TranscribeStream uploads the file at path and reports each text delta.
// Models without streaming support return an error wrapping
// stt.ErrCapabilityUnsupported.
func (t *Transcriber) TranscribeStream(ctx context.Context, path string, onPartial func(stt.Partial)) (string, error) {
	if !t.Streaming() {
		return "", stt.Unsupported("openai " + t.model)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	defer f.Close()

	stream := t.client.Audio.Transcriptions.NewStreaming(ctx, t.params(f, path))
	defer stream.Close()

	var (
		sb   strings.Builder
		done string
		seen bool
	)
	for stream.Next() {
		ev := stream.Current()
		switch ev.Type {
		case "transcript.text.delta":
			if ev.Delta == "" {
				continue
			}
			sb.WriteString(ev.Delta)
			onPartial(stt.Partial{Text: sb.String(), Delta: ev.Delta})
		case "transcript.text.done":
			done, seen = ev.Text, true
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("openai: streaming transcription: %w", err)
	}

	text := sb.String()
	if seen {
		text = done
	}
	text = strings.TrimSpace(text)
	onPartial(stt.Partial{Text: text, Final: true})
	return text, nil
}

func (t *Transcriber) params(f *os.File, path string) oai.AudioTranscriptionNewParams {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(f, filepath.Base(path), "audio/wav"),
		Model: t.model,
	}
	if t.language != "" {
		params.Language = oai.String(t.language)
	}
	if t.prompt != "" {
		params.Prompt = oai.String(t.prompt)
	}
	return params
}
