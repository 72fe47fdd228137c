// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber turns a recorded speech file into text. Every backend supports
// a synchronous Transcribe call; backends that can emit incremental results
// also implement TranscribeStream, reporting each partial through a callback
// before returning the final text. Backends without streaming support return
// an error wrapping ErrCapabilityUnsupported from TranscribeStream so callers
// can fall back to Transcribe.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/troupe/pkg/audio"
)

// ErrCapabilityUnsupported is wrapped by TranscribeStream on backends that
// can only transcribe synchronously.
var ErrCapabilityUnsupported = errors.New("stt: capability unsupported")

// SpeechFormat is the PCM layout speech recognisers expect: 16 kHz mono.
var SpeechFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Partial is one incremental transcription result.
type Partial struct {
	// Text is the transcript accumulated so far.
	Text string

	// Delta is the text added since the previous Partial.
	Delta string

	// Final is true for the last Partial of a stream. Its Text equals the
	// value returned by TranscribeStream.
	Final bool
}

// Transcriber is the abstraction over any speech-to-text backend.
type Transcriber interface {
	// Transcribe reads the audio file at path and returns its transcript.
	Transcribe(ctx context.Context, path string) (string, error)

	// TranscribeStream behaves like Transcribe but calls onPartial for each
	// incremental result. onPartial is invoked from the calling goroutine and
	// must not block for long. Backends that cannot stream return an error
	// wrapping ErrCapabilityUnsupported without touching the file.
	TranscribeStream(ctx context.Context, path string, onPartial func(Partial)) (string, error)
}

// Unsupported returns the error a sync-only backend named backend returns
// from TranscribeStream.
func Unsupported(backend string) error {
	return fmt.Errorf("%s: streaming transcription: %w", backend, ErrCapabilityUnsupported)
}

// LoadSpeech reads the WAV file at path and converts its samples to
// SpeechFormat.
func LoadSpeech(path string) ([]byte, error) {
	f, pcm, err := audio.ReadWAVFile(path)
	if err != nil {
		return nil, err
	}
	c := audio.Converter{From: f, To: SpeechFormat}
	return c.Convert(pcm), nil
}
