// Package oto implements [audio.Sink] on top of the ebitengine/oto v3
// cross-platform audio library.
//
// oto permits a single context per process, so only one Sink may be created.
// Audio in any format is converted to the device format before playback.
package oto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	otolib "github.com/ebitengine/oto/v3"

	"github.com/MrWong99/troupe/pkg/audio"
)

// ErrAlreadyOpen is returned by [New] when a device context already exists in
// this process.
var ErrAlreadyOpen = errors.New("oto: audio context already created in this process")

var opened atomic.Bool

const pollInterval = 20 * time.Millisecond

// Option is a functional option for [New].
type Option func(*config)

type config struct {
	format     audio.Format
	bufferSize time.Duration
}

// WithFormat sets the device format. Defaults to 24 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(c *config) { c.format = f }
}

// WithBufferSize sets the device buffer length. Smaller buffers stop faster
// on cancellation at the cost of underrun risk.
func WithBufferSize(d time.Duration) Option {
	return func(c *config) { c.bufferSize = d }
}

// Sink plays PCM through the system audio device.
type Sink struct {
	ctx    *otolib.Context
	format audio.Format

	mu     sync.Mutex
	closed bool
}

var _ audio.Sink = (*Sink)(nil)

// New opens the system audio device. It blocks until the device is ready.
func New(opts ...Option) (*Sink, error) {
	cfg := config{
		format:     audio.Format{SampleRate: 24000, Channels: 1},
		bufferSize: 100 * time.Millisecond,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if !cfg.format.Valid() {
		return nil, fmt.Errorf("oto: invalid device format %v", cfg.format)
	}
	if !opened.CompareAndSwap(false, true) {
		return nil, ErrAlreadyOpen
	}

	octx, ready, err := otolib.NewContext(&otolib.NewContextOptions{
		SampleRate:   cfg.format.SampleRate,
		ChannelCount: cfg.format.Channels,
		Format:       otolib.FormatSignedInt16LE,
		BufferSize:   cfg.bufferSize,
	})
	if err != nil {
		opened.Store(false)
		return nil, fmt.Errorf("oto: open device: %w", err)
	}
	<-ready
	return &Sink{ctx: octx, format: cfg.format}, nil
}

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format { return s.format }

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, f audio.Format, chunks <-chan []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("oto: sink is closed")
	}
	s.mu.Unlock()

	src := chunks
	if f.Valid() && f != s.format {
		src = audio.ConvertChunks(chunks, f, s.format)
	}
	r := &chanReader{ctx: ctx, ch: src}
	p := s.ctx.NewPlayer(r)
	defer p.Close()
	p.Play()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Pause()
			if src != chunks {
				go audio.Drain(src)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := p.Err(); err != nil {
				return fmt.Errorf("oto: playback: %w", err)
			}
			if r.finished.Load() && !p.IsPlaying() {
				return nil
			}
		}
	}
}

// Close implements [audio.Sink]. The underlying oto context cannot be
// destroyed, so Close only suspends the device.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.ctx.Suspend(); err != nil {
		return fmt.Errorf("oto: suspend: %w", err)
	}
	return nil
}

// chanReader adapts a chunk channel to the io.Reader oto pulls from.
type chanReader struct {
	ctx      context.Context
	ch       <-chan []byte
	buf      []byte
	finished atomic.Bool
}

func (r *chanReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		select {
		case chunk, ok := <-r.ch:
			if !ok {
				r.finished.Store(true)
				return 0, io.EOF
			}
			r.buf = chunk
		case <-r.ctx.Done():
			r.finished.Store(true)
			return 0, io.EOF
		}
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
