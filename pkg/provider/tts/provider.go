// Package tts defines the Provider interface for streaming Text-to-Speech
// backends.
//
// A TTS provider wraps a speech synthesis service (ElevenLabs, a Coqui
// server, ...) and presents a uniform streaming interface. SynthesizeStream
// accepts a channel of text fragments and returns a [Stream] of raw PCM chunks
// as they become available, so playback can start before synthesis ends.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"sync"

	"github.com/MrWong99/troupe/pkg/audio"
)

// Provider is the abstraction over any streaming TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments until text is closed and
	// returns a stream of PCM in the stream's Format. The stream's Audio
	// channel is closed when all text has been synthesised, when ctx is
	// cancelled, or on a provider error, which is then reported by
	// [Stream.Err]. Callers must drain Audio.
	//
	// A non-nil error means the stream could not be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (*Stream, error)

	// ListVoices returns the voices the provider currently offers.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// VoiceProfile selects a voice on a provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (gender, accent, ...).
	Metadata map[string]string
}

// Stream is an in-progress synthesis.
type Stream struct {
	Audio  <-chan []byte
	Format audio.Format

	mu  sync.Mutex
	err error
}

// NewStream wraps ch as a Stream of PCM in format f.
func NewStream(ch <-chan []byte, f audio.Format) *Stream {
	return &Stream{Audio: ch, Format: f}
}

// Fail records the error that ended the stream early. Producers call it
// before closing Audio; only the first error is kept.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err reports why the stream ended early, or nil. Check it after Audio has
// been closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Collect sends text as the only fragment and gathers the whole stream. It is
// a convenience for callers that need the full utterance at once.
func Collect(ctx context.Context, p Provider, text string, voice VoiceProfile) ([]byte, audio.Format, error) {
	in := make(chan string, 1)
	in <- text
	close(in)
	s, err := p.SynthesizeStream(ctx, in, voice)
	if err != nil {
		return nil, audio.Format{}, err
	}
	var pcm []byte
	for chunk := range s.Audio {
		pcm = append(pcm, chunk...)
	}
	if err := s.Err(); err != nil {
		return nil, s.Format, err
	}
	return pcm, s.Format, ctx.Err()
}
