// Package mic implements [audio.Source] on the system's default capture
// device, using miniaudio through gen2brain/malgo.
//
// The device is opened when a recording starts and released when it ends, so
// creating a Source never touches the hardware.
package mic

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/troupe/pkg/audio"
)

// DefaultFormat is 16 kHz mono, the rate speech-to-text backends expect.
var DefaultFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Option is a functional option for [New].
type Option func(*Source)

// WithFormat sets the capture format. Samples are always signed 16-bit.
func WithFormat(f audio.Format) Option {
	return func(s *Source) { s.format = f }
}

// Source records from the default input device.
type Source struct {
	format audio.Format
}

var _ audio.Source = (*Source)(nil)

// New returns a microphone source.
func New(opts ...Option) (*Source, error) {
	s := &Source{format: DefaultFormat}
	for _, o := range opts {
		o(s)
	}
	if !s.format.Valid() {
		return nil, fmt.Errorf("mic: invalid capture format %v", s.format)
	}
	return s, nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Record implements [audio.Source].
func (s *Source) Record(ctx context.Context, fn func(pcm []byte)) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("mic: miniaudio", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return fmt.Errorf("mic: init context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(s.format.Channels)
	cfg.SampleRate = uint32(s.format.SampleRate)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		// miniaudio reuses the input buffer after the callback returns.
		Data: func(_, input []byte, _ uint32) { fn(bytes.Clone(input)) },
	})
	if err != nil {
		return fmt.Errorf("mic: open capture device: %w", err)
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("mic: start capture: %w", err)
	}
	slog.Debug("mic: recording", "format", s.format)
	<-ctx.Done()
	if err := dev.Stop(); err != nil {
		return fmt.Errorf("mic: stop capture: %w", err)
	}
	return nil
}
