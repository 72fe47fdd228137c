// Package stream adapts a streaming [tts.Provider] into a voice actor. PCM
// is forwarded to the manager as it arrives, so playback starts before
// synthesis ends.
package stream

import (
	"context"
	"fmt"

	"github.com/MrWong99/troupe/internal/voice"
	"github.com/MrWong99/troupe/pkg/audio"
	"github.com/MrWong99/troupe/pkg/chat"
	"github.com/MrWong99/troupe/pkg/provider/tts"
)

// Actor voices its speakers through a tts.Provider.
type Actor struct {
	name     string
	provider tts.Provider
	speakers voice.Speakers
}

var _ voice.Actor = (*Actor)(nil)

// New creates a streaming actor. speakers maps speaker names to provider
// voice ids.
func New(name string, p tts.Provider, speakers map[string]string) *Actor {
	return &Actor{name: name, provider: p, speakers: voice.NewSpeakers(speakers)}
}

// Name implements voice.Actor.
func (a *Actor) Name() string { return a.name }

// Claims implements voice.Actor.
func (a *Actor) Claims(msg chat.Message) bool { return a.speakers.Claims(msg) }

// Render implements voice.Actor. The voice profile carries the speaker's
// name so that a [Remap]ped fallback provider can select its own voice.
func (a *Actor) Render(ctx context.Context, msg chat.Message, _ voice.Scratch) (voice.Rendering, error) {
	id, _ := a.speakers.Voice(msg.Speaker)
	text := make(chan string, 1)
	text <- msg.Content
	close(text)

	s, err := a.provider.SynthesizeStream(ctx, text, tts.VoiceProfile{ID: id, Name: msg.Speaker})
	if err != nil {
		return nil, a.fail(msg, err)
	}

	out := make(chan []byte, 16)
	as := voice.NewAudioStream(out, s.Format)
	go func() {
		defer close(out)
		for chunk := range s.Audio {
			select {
			case out <- chunk:
			case <-ctx.Done():
				audio.Drain(s.Audio)
				as.Fail(a.fail(msg, ctx.Err()))
				return
			}
		}
		if err := s.Err(); err != nil {
			as.Fail(a.fail(msg, err))
		}
	}()
	return as, nil
}

func (a *Actor) fail(msg chat.Message, err error) error {
	return &voice.SynthesisError{Speaker: msg.Speaker, Actor: a.name, Err: fmt.Errorf("stream: %w", err)}
}

// Remap wraps p so that every request looks up its voice id in speakers by
// the profile's Name, keeping the incoming id when the speaker is unmapped.
// It lets fallback providers with different voice catalogues serve the same
// actor.
func Remap(p tts.Provider, speakers map[string]string) tts.Provider {
	return &remapped{Provider: p, speakers: voice.NewSpeakers(speakers)}
}

type remapped struct {
	tts.Provider
	speakers voice.Speakers
}

func (r *remapped) SynthesizeStream(ctx context.Context, text <-chan string, v tts.VoiceProfile) (*tts.Stream, error) {
	if id, ok := r.speakers.Voice(v.Name); ok {
		v.ID = id
	}
	return r.Provider.SynthesizeStream(ctx, text, v)
}
