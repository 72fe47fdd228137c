package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/troupe/pkg/audio"
)

// Source is a mock implementation of [audio.Source]. Record delivers
// Chunks, then returns Err if set, otherwise waits for its context.
type Source struct {
	mu sync.Mutex

	// Native is returned by Format. Defaults to 16 kHz mono when zero.
	Native audio.Format

	// Chunks are passed to the callback, in order, when Record starts.
	Chunks [][]byte

	// Err, if non-nil, is returned by Record after the chunks.
	Err error

	// CallCountRecord records how many times Record was called.
	CallCountRecord int
}

var _ audio.Source = (*Source)(nil)

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Native.Valid() {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return s.Native
}

// Record implements [audio.Source].
func (s *Source) Record(ctx context.Context, fn func(pcm []byte)) error {
	s.mu.Lock()
	s.CallCountRecord++
	chunks := s.Chunks
	err := s.Err
	s.mu.Unlock()

	for _, c := range chunks {
		fn(append([]byte(nil), c...))
	}
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
