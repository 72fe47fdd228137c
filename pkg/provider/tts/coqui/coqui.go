// Package coqui provides a tts.Provider backed by a locally running Coqui TTS
// server, speaking either the standard server API or the XTTS v2 API.
//
//   - APIModeStandard (default) targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is GET /api/tts with query
//     parameters and the voice catalogue comes from GET /details.
//
//   - APIModeXTTS targets the XTTS v2 API server. Synthesis is
//     POST /tts_to_audio/ with a JSON body and the voice catalogue comes from
//     GET /studio_speakers.
//
// Both servers work one utterance per HTTP call, so SynthesizeStream splits
// incoming text into sentences and keeps a few requests in flight while
// emitting audio in sentence order.
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	stream, err := p.SynthesizeStream(ctx, textCh, tts.VoiceProfile{ID: "p225"})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/troupe/pkg/audio"
	"github.com/MrWong99/troupe/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage        = "en"
	defaultTimeout         = 30 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// sentenceLookaheadBuf bounds the synthesis requests in flight per stream.
	sentenceLookaheadBuf = 4

	audioChanBuf = 256
	pcmChunkSize = 4096
)

// DefaultFormat is the PCM format streams are converted to unless
// WithOutputFormat says otherwise. It matches the native rate of most Coqui
// VITS models.
var DefaultFormat = audio.Format{SampleRate: 22050, Channels: 1}

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	APIModeXTTS     APIMode = "xtts"
	APIModeStandard APIMode = "standard"
)

// Option configures a Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputFormat sets the format every returned stream is converted to.
func WithOutputFormat(f audio.Format) Option {
	return func(p *Provider) { p.output = f }
}

// Provider implements tts.Provider against a Coqui server. Multiple
// SynthesizeStream calls may run in parallel.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	output     audio.Format
}

// New creates a Provider for the server at serverURL
// (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
		output:     DefaultFormat,
	}
	for _, o := range opts {
		o(p)
	}
	switch p.apiMode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	if !p.output.Valid() {
		return nil, fmt.Errorf("coqui: invalid output format %v", p.output)
	}
	return p, nil
}

type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

type audioResult struct {
	pcm []byte
	err error
}

// studioSpeakersResponse only needs its keys (the voice names).
type studioSpeakersResponse map[string]json.RawMessage

// detailsResponse is GET /details. Speakers is empty for single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

// SynthesizeStream accumulates text fragments into sentences (split on '.',
// '!' or '?' followed by whitespace or end of input), synthesises each with
// one HTTP request and emits the PCM in sentence order, converted to the
// provider's output format.
//
// The first failing request ends the stream and is reported by Err.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (*tts.Stream, error) {
	// Standard mode works without a speaker for single-speaker models.
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: voice.ID must not be empty (required for XTTS mode)")
	}

	audioCh := make(chan []byte, audioChanBuf)
	stream := tts.NewStream(audioCh, p.output)

	go func() {
		defer close(audioCh)

		// Stop the helpers once the collector gives up.
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		sentences := make(chan string, sentenceLookaheadBuf)
		resultQueue := make(chan chan audioResult, sentenceLookaheadBuf)

		go accumulate(ctx, text, sentences)

		go func() {
			defer close(resultQueue)
			for {
				select {
				case sentence, ok := <-sentences:
					if !ok {
						return
					}
					ch := make(chan audioResult, 1)
					select {
					case resultQueue <- ch:
					case <-ctx.Done():
						return
					}
					go func(s string, out chan<- audioResult) {
						pcm, err := p.synthesize(ctx, s, voice)
						out <- audioResult{pcm: pcm, err: err}
					}(sentence, ch)
				case <-ctx.Done():
					return
				}
			}
		}()

		for {
			select {
			case ch, ok := <-resultQueue:
				if !ok {
					return
				}
				var result audioResult
				select {
				case result = <-ch:
				case <-ctx.Done():
					return
				}
				if result.err != nil {
					if ctx.Err() == nil {
						stream.Fail(result.err)
					}
					return
				}
				pcm := result.pcm
				for len(pcm) > 0 {
					end := min(pcmChunkSize, len(pcm))
					select {
					case audioCh <- pcm[:end]:
					case <-ctx.Done():
						return
					}
					pcm = pcm[end:]
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return stream, nil
}

// accumulate reads fragments from text and emits complete sentences. The
// trailing partial sentence is flushed when text closes.
func accumulate(ctx context.Context, text <-chan string, sentences chan<- string) {
	defer close(sentences)
	var buf strings.Builder
	for {
		select {
		case fragment, ok := <-text:
			if !ok {
				if remaining := strings.TrimSpace(buf.String()); remaining != "" {
					select {
					case sentences <- remaining:
					case <-ctx.Done():
					}
				}
				return
			}
			buf.WriteString(fragment)
			for {
				s := buf.String()
				idx := findSentenceBoundary(s)
				if idx < 0 {
					break
				}
				sentence := strings.TrimSpace(s[:idx+1])
				buf.Reset()
				buf.WriteString(s[idx+1:])
				if sentence == "" {
					continue
				}
				select {
				case sentences <- sentence:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, error) {
	var req *http.Request
	var err error
	endpoint := apiTTSEndpoint
	if p.apiMode == APIModeStandard {
		params := url.Values{}
		params.Set("text", sentence)
		if voice.ID != "" {
			params.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			params.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	} else {
		endpoint = ttsEndpoint
		data, merr := json.Marshal(ttsRequest{Text: sentence, SpeakerWav: voice.ID, Language: p.language})
		if merr != nil {
			return nil, fmt.Errorf("coqui: marshal tts request: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, endpoint, resp.StatusCode)
	}

	f, pcm, err := audio.DecodeWAV(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: decode WAV response: %w", err)
	}
	conv := audio.Converter{From: f, To: p.output}
	return conv.Convert(pcm), nil
}

// ListVoices retrieves the available voices. In XTTS mode these are the
// studio speakers. In standard mode a multi-speaker model yields one voice
// per speaker and a single-speaker model yields one voice named after the
// model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	if p.apiMode == APIModeStandard {
		return p.listVoicesStandard(ctx)
	}
	return p.listVoicesXTTS(ctx)
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

func (p *Provider) listVoicesXTTS(ctx context.Context) ([]tts.VoiceProfile, error) {
	var raw studioSpeakersResponse
	if err := p.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	slices.Sort(names)

	profiles := make([]tts.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": "studio"},
		})
	}
	return profiles, nil
}

func (p *Provider) listVoicesStandard(ctx context.Context) ([]tts.VoiceProfile, error) {
	var details detailsResponse
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}

	if len(details.Speakers) > 0 {
		speakers := slices.Clone(details.Speakers)
		slices.Sort(speakers)

		profiles := make([]tts.VoiceProfile, 0, len(speakers))
		for _, spk := range speakers {
			profiles = append(profiles, tts.VoiceProfile{
				ID:       spk,
				Name:     spk,
				Provider: "coqui",
				Metadata: map[string]string{
					"type":       "speaker",
					"model_name": details.ModelName,
				},
			})
		}
		return profiles, nil
	}

	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []tts.VoiceProfile{{
		ID:       name,
		Name:     name,
		Provider: "coqui",
		Metadata: map[string]string{
			"type":       "single-speaker",
			"model_name": name,
		},
	}}, nil
}

// findSentenceBoundary returns the index of the first '.', '!' or '?' that is
// at the end of s or followed by whitespace, or -1. "Dr.Who" and "3.14" are
// not boundaries.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
