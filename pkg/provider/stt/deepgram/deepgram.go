// Package deepgram provides an stt.Transcriber backed by the Deepgram
// streaming WebSocket API. The recorded file is converted to 16 kHz mono,
// streamed over the socket and every finalised segment is reported as a
// partial.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/troupe/pkg/audio"
	"github.com/MrWong99/troupe/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"
)

var _ stt.Transcriber = (*Transcriber)(nil)

// Keyword raises the recognition probability of an uncommon word, such as a
// character name. Boost is the Deepgram intensifier; values around 1 to 5
// are typical.
type Keyword struct {
	Word  string
	Boost float64
}

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) { t.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(t *Transcriber) { t.language = language }
}

// WithKeywords sets vocabulary hints sent with every request.
func WithKeywords(kw ...Keyword) Option {
	return func(t *Transcriber) { t.keywords = append(t.keywords, kw...) }
}

// WithEndpoint overrides the WebSocket endpoint.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) { t.endpoint = endpoint }
}

// Transcriber implements stt.Transcriber backed by the Deepgram streaming API.
type Transcriber struct {
	apiKey   string
	endpoint string
	model    string
	language string
	keywords []Keyword
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:   apiKey,
		endpoint: deepgramEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe streams the file at path and returns the joined final segments.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	return t.run(ctx, path, func(stt.Partial) {})
}

// TranscribeStream streams the file at path, reporting each final segment.
func (t *Transcriber) TranscribeStream(ctx context.Context, path string, onPartial func(stt.Partial)) (string, error) {
	text, err := t.run(ctx, path, onPartial)
	if err != nil {
		return "", err
	}
	onPartial(stt.Partial{Text: text, Final: true})
	return text, nil
}

func (t *Transcriber) run(ctx context.Context, path string, onPartial func(stt.Partial)) (string, error) {
	pcm, err := stt.LoadSpeech(path)
	if err != nil {
		return "", fmt.Errorf("deepgram: %w", err)
	}

	wsURL, err := t.buildURL()
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- t.writeAudio(ctx, conn, pcm)
	}()

	var sb strings.Builder
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}

		segment, ok := parseDeepgramResponse(msg)
		if !ok || !segment.final || segment.text == "" {
			continue
		}
		delta := segment.text
		if sb.Len() > 0 {
			delta = " " + delta
		}
		sb.WriteString(delta)
		onPartial(stt.Partial{Text: sb.String(), Delta: delta})
	}

	if err := <-writeErr; err != nil {
		return "", err
	}
	return sb.String(), nil
}

// writeAudio sends pcm in chunks followed by a CloseStream message, which
// makes Deepgram flush pending results and close the socket.
func (t *Transcriber) writeAudio(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for chunk := range audio.Chunks(ctx, pcm, stt.SpeechFormat) {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: close stream: %w", err)
	}
	return nil
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (t *Transcriber) buildURL() (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", t.language)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(stt.SpeechFormat.SampleRate))
	q.Set("channels", strconv.Itoa(stt.SpeechFormat.Channels))

	for _, kw := range t.keywords {
		// Deepgram keyword format: word:boost (e.g., "Eldrinax:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Word, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type segment struct {
	text  string
	final bool
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. It returns
// false for messages that carry no transcript.
func parseDeepgramResponse(data []byte) (segment, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return segment{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return segment{}, false
	}
	return segment{
		text:  strings.TrimSpace(resp.Channel.Alternatives[0].Transcript),
		final: resp.IsFinal,
	}, true
}
