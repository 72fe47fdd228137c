// Package mock provides in-memory [audio.Sink] and [audio.Source] doubles for
// unit tests.
//
// The sink is safe for concurrent use. It records every playback so tests can
// assert on order, content, and overlap, and it exposes exported fields that
// control pacing and return values.
//
// Typical usage:
//
//	sink := &mock.Sink{ChunkDelay: 5 * time.Millisecond}
//	// ... drive the code under test ...
//	for _, p := range sink.Playbacks() {
//	    fmt.Println(p.Format, len(p.Data), p.Interrupted)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/troupe/pkg/audio"
)

// Playback is one recorded [Sink.Play] call.
type Playback struct {
	Format      audio.Format
	Data        []byte
	Started     time.Time
	Finished    time.Time
	Interrupted bool
}

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// Native is returned by Format. Defaults to 24 kHz mono when zero.
	Native audio.Format

	// ChunkDelay is slept after each consumed chunk to simulate real-time
	// playback.
	ChunkDelay time.Duration

	// PlayErr, if non-nil, is returned by Play after the stream completes.
	PlayErr error

	// OnStart, if set, is called synchronously when a Play call begins.
	OnStart func(audio.Format)

	playbacks []Playback
	active    int
	maxActive int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Sink = (*Sink)(nil)

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Native.Valid() {
		return audio.Format{SampleRate: 24000, Channels: 1}
	}
	return s.Native
}

// Play implements [audio.Sink]. It consumes chunks until the channel closes or
// ctx is cancelled, recording everything it received.
func (s *Sink) Play(ctx context.Context, f audio.Format, chunks <-chan []byte) error {
	s.mu.Lock()
	s.active++
	s.maxActive = max(s.maxActive, s.active)
	delay := s.ChunkDelay
	onStart := s.OnStart
	s.mu.Unlock()

	if onStart != nil {
		onStart(f)
	}

	pb := Playback{Format: f, Started: time.Now()}
	err := s.consume(ctx, chunks, delay, &pb)
	pb.Finished = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	s.playbacks = append(s.playbacks, pb)
	if err != nil {
		return err
	}
	return s.PlayErr
}

func (s *Sink) consume(ctx context.Context, chunks <-chan []byte, delay time.Duration, pb *Playback) error {
	for {
		select {
		case <-ctx.Done():
			pb.Interrupted = true
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			pb.Data = append(pb.Data, chunk...)
			if delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					pb.Interrupted = true
					return ctx.Err()
				}
			}
		}
	}
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Playbacks returns a copy of every completed or interrupted playback, in the
// order they finished.
func (s *Sink) Playbacks() []Playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Playback, len(s.playbacks))
	copy(out, s.playbacks)
	return out
}

// MaxConcurrent returns the highest number of simultaneously active Play
// calls observed. Anything above one means playback overlapped.
func (s *Sink) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}
