// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify that
// the correct VoiceProfile and text fragments reach the TTS backend.
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{make([]byte, 480), make([]byte, 480)},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	s, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/troupe/pkg/audio"
	"github.com/MrWong99/troupe/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	Voice tts.VoiceProfile
	// Text is every fragment read from the text channel, joined.
	Text string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is emitted on the stream after all text was read.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream.
	SynthesizeErr error

	// StreamErr, if non-nil, ends every stream early with this error after
	// SynthesizeChunks were sent.
	StreamErr error

	// Format of emitted audio. Zero means 16 kHz mono.
	Format audio.Format

	ListVoicesResult []tts.VoiceProfile
	ListVoicesErr    error

	calls []SynthesizeStreamCall
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (*tts.Stream, error) {
	p.mu.Lock()
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	f := p.Format
	if f == (audio.Format{}) {
		f = audio.Format{SampleRate: 16000, Channels: 1}
	}
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	streamErr := p.StreamErr
	p.mu.Unlock()

	out := make(chan []byte)
	s := tts.NewStream(out, f)
	go func() {
		defer close(out)
		var sb strings.Builder
		for frag := range text {
			sb.WriteString(frag)
		}
		p.mu.Lock()
		p.calls = append(p.calls, SynthesizeStreamCall{Voice: voice, Text: sb.String()})
		p.mu.Unlock()
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if streamErr != nil {
			s.Fail(streamErr)
		}
	}()
	return s, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns a copy of the recorded SynthesizeStream calls whose text
// channel has been fully read.
func (p *Provider) Calls() []SynthesizeStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeStreamCall, len(p.calls))
	copy(out, p.calls)
	return out
}
