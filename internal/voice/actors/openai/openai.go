// Package openai voices speakers with the OpenAI speech API. Each line is
// requested as a WAV file and written to the manager's scratch directory.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/troupe/internal/voice"
	"github.com/MrWong99/troupe/pkg/chat"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = oai.SpeechModelGPT4oMiniTTS

	// DefaultVoice is used for speakers mapped to an empty voice.
	DefaultVoice = "alloy"
)

// Actor renders lines through the OpenAI speech endpoint.
type Actor struct {
	name         string
	client       oai.Client
	model        string
	instructions string
	speed        float64
	speakers     voice.Speakers
}

var _ voice.Actor = (*Actor)(nil)

type config struct {
	model        string
	instructions string
	speed        float64
	baseURL      string
	httpClient   *http.Client
}

// Option configures an Actor.
type Option func(*config)

// WithModel selects the speech model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithInstructions sets delivery instructions (tone, accent, pacing). Only
// the gpt-4o speech models honour them.
func WithInstructions(s string) Option {
	return func(c *config) { c.instructions = s }
}

// WithSpeed sets the playback speed, from 0.25 to 4.0.
func WithSpeed(speed float64) Option {
	return func(c *config) { c.speed = speed }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New creates an OpenAI actor. speakers maps speaker names to OpenAI voice
// names such as "coral" or "onyx".
func New(name, apiKey string, speakers map[string]string, opts ...Option) (*Actor, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := &config{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.speed != 0 && (cfg.speed < 0.25 || cfg.speed > 4) {
		return nil, fmt.Errorf("openai: speed %g out of range [0.25, 4]", cfg.speed)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}

	return &Actor{
		name:         name,
		client:       oai.NewClient(reqOpts...),
		model:        cfg.model,
		instructions: cfg.instructions,
		speed:        cfg.speed,
		speakers:     voice.NewSpeakers(speakers),
	}, nil
}

// Name implements voice.Actor.
func (a *Actor) Name() string { return a.name }

// Claims implements voice.Actor.
func (a *Actor) Claims(msg chat.Message) bool { return a.speakers.Claims(msg) }

// Render implements voice.Actor.
func (a *Actor) Render(ctx context.Context, msg chat.Message, scratch voice.Scratch) (voice.Rendering, error) {
	path, err := scratch.Allocate(".wav")
	if err != nil {
		return nil, a.fail(msg, err)
	}

	resp, err := a.client.Audio.Speech.New(ctx, a.params(msg))
	if err != nil {
		return nil, a.fail(msg, fmt.Errorf("speech: %w", err))
	}
	defer resp.Body.Close()

	if err := writeFile(path, resp.Body); err != nil {
		return nil, a.fail(msg, err)
	}
	return &voice.CompletedFile{Path: path}, nil
}

func (a *Actor) params(msg chat.Message) oai.AudioSpeechNewParams {
	v, _ := a.speakers.Voice(msg.Speaker)
	if v == "" {
		v = DefaultVoice
	}
	params := oai.AudioSpeechNewParams{
		Input:          msg.Content,
		Model:          a.model,
		Voice:          oai.AudioSpeechNewParamsVoice(v),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatWAV,
	}
	if a.instructions != "" {
		params.Instructions = oai.String(a.instructions)
	}
	if a.speed != 0 {
		params.Speed = oai.Float(a.speed)
	}
	return params
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func (a *Actor) fail(msg chat.Message, err error) error {
	return &voice.SynthesisError{Speaker: msg.Speaker, Actor: a.name, Err: fmt.Errorf("openai: %w", err)}
}
