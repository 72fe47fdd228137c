// Package echo provides an offline voice actor. It logs each line and writes
// a silent WAV file whose length grows with the line's word count, so
// playback ordering and timing behave as with a real synthesiser.
package echo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/troupe/internal/voice"
	"github.com/MrWong99/troupe/pkg/audio"
	"github.com/MrWong99/troupe/pkg/chat"
)

const (
	// DefaultWordDuration is the silence written per word.
	DefaultWordDuration = 150 * time.Millisecond

	// minDuration keeps empty lines audible as a short pause.
	minDuration = 100 * time.Millisecond
)

// Format is the PCM layout of the files the actor writes.
var Format = audio.Format{SampleRate: 16000, Channels: 1}

// Actor voices its speakers with silence.
type Actor struct {
	name         string
	speakers     voice.Speakers
	wordDuration time.Duration
}

var _ voice.Actor = (*Actor)(nil)

// Option configures an Actor.
type Option func(*Actor)

// WithWordDuration overrides DefaultWordDuration.
func WithWordDuration(d time.Duration) Option {
	return func(a *Actor) {
		if d > 0 {
			a.wordDuration = d
		}
	}
}

// New creates an echo actor named name voicing speakers.
func New(name string, speakers []string, opts ...Option) *Actor {
	voices := make(map[string]string, len(speakers))
	for _, s := range speakers {
		voices[s] = ""
	}
	a := &Actor{
		name:         name,
		speakers:     voice.NewSpeakers(voices),
		wordDuration: DefaultWordDuration,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Name implements voice.Actor.
func (a *Actor) Name() string { return a.name }

// Claims implements voice.Actor.
func (a *Actor) Claims(msg chat.Message) bool { return a.speakers.Claims(msg) }

// Duration returns the length of audio rendered for text.
func (a *Actor) Duration(text string) time.Duration {
	return max(time.Duration(len(strings.Fields(text)))*a.wordDuration, minDuration)
}

// Render implements voice.Actor.
func (a *Actor) Render(ctx context.Context, msg chat.Message, scratch voice.Scratch) (voice.Rendering, error) {
	if err := ctx.Err(); err != nil {
		return nil, a.fail(msg, err)
	}
	slog.Info("echo", "actor", a.name, "speaker", msg.Speaker, "content", msg.Content)

	path, err := scratch.Allocate(".wav")
	if err != nil {
		return nil, a.fail(msg, err)
	}
	pcm := make([]byte, Format.Bytes(a.Duration(msg.Content)))
	if err := audio.WriteWAVFile(path, pcm, Format); err != nil {
		return nil, a.fail(msg, err)
	}
	return &voice.CompletedFile{Path: path}, nil
}

func (a *Actor) fail(msg chat.Message, err error) error {
	return &voice.SynthesisError{Speaker: msg.Speaker, Actor: a.name, Err: fmt.Errorf("echo: %w", err)}
}
