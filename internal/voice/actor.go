// Package voice turns chat messages into spoken audio.
//
// An [Actor] decides whether it voices a message ([Actor.Claims]) and renders
// it ([Actor.Render]) either as a finished file in the manager's scratch
// directory or as an incremental PCM stream. The [Manager] routes each
// message to the first claiming actor, renders concurrently, and plays the
// results strictly in enqueue order so that lines never overlap.
package voice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/MrWong99/troupe/pkg/audio"
	"github.com/MrWong99/troupe/pkg/chat"
)

// Actor is a speech synthesiser bound to a fixed set of speakers.
//
// Implementations must be safe for concurrent use: the [Manager] may render
// several messages at once.
type Actor interface {
	// Name identifies the actor in logs, metrics, and errors.
	Name() string

	// Claims reports whether the actor voices msg. It must be pure: the
	// result depends only on msg and the actor's static configuration.
	Claims(msg chat.Message) bool

	// Render synthesises msg. File-based backends must write only to paths
	// obtained from scratch. Failures are returned as *SynthesisError.
	Render(ctx context.Context, msg chat.Message, scratch Scratch) (Rendering, error)
}

// Scratch hands out unique file paths inside the manager's scratch
// directory. Paths allocated for a message are removed once the message
// reaches a terminal state.
type Scratch interface {
	// Allocate returns a fresh path ending in ext (e.g. ".wav"). The file
	// does not exist yet.
	Allocate(ext string) (string, error)
}

// Rendering is the result of [Actor.Render]. It is either a *CompletedFile or
// an *AudioStream; callers type-switch on it.
type Rendering interface {
	rendering()
}

// CompletedFile is a rendering that has been fully written to disk.
type CompletedFile struct {
	Path string

	// Format describes raw PCM contents. The zero value means the file is a
	// WAV whose header carries the format.
	Format audio.Format
}

func (*CompletedFile) rendering() {}

// AudioStream is a rendering whose PCM arrives incrementally. The producer
// closes Chunks when done; a failure that ends the stream early is reported
// through Err after Chunks is closed.
type AudioStream struct {
	Chunks <-chan []byte
	Format audio.Format

	mu  sync.Mutex
	err error
}

func (*AudioStream) rendering() {}

// NewAudioStream returns a stream over chunks in format f.
func NewAudioStream(chunks <-chan []byte, f audio.Format) *AudioStream {
	return &AudioStream{Chunks: chunks, Format: f}
}

// Fail records the error that terminated the stream. Producers call it before
// closing Chunks. Only the first error is kept.
func (s *AudioStream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the error that terminated the stream, if any. It is only
// meaningful after Chunks has been closed.
func (s *AudioStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// SynthesisError reports a failed render.
type SynthesisError struct {
	Speaker string
	Actor   string
	Err     error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("voice: %s failed to voice %q: %v", e.Actor, e.Speaker, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Speakers maps casefolded speaker names to a backend-specific voice
// identifier (a piper speaker id, an ElevenLabs voice id, ...).
type Speakers map[string]string

// NewSpeakers builds a Speakers set from name→voice pairs, casefolding the
// names.
func NewSpeakers(voices map[string]string) Speakers {
	s := make(Speakers, len(voices))
	for name, v := range voices {
		s[fold(name)] = v
	}
	return s
}

// Claims reports whether msg is speech by one of the speakers in s.
func (s Speakers) Claims(msg chat.Message) bool {
	if !msg.Role.Spoken() {
		return false
	}
	_, ok := s[fold(msg.Speaker)]
	return ok
}

// Voice returns the voice identifier bound to speaker.
func (s Speakers) Voice(speaker string) (string, bool) {
	v, ok := s[fold(speaker)]
	return v, ok
}

// fold casefolds a speaker name. A Caser is stateful, so one is built per
// call.
func fold(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}
