package audio

import "context"

// Source is an audio input device.
type Source interface {
	// Format is the layout of the PCM passed to Record's callback.
	Format() Format

	// Record captures until ctx is cancelled and passes each buffer to fn,
	// from the capture goroutine, in order. fn owns the slices it receives.
	// Record returns nil when stopped through ctx.
	Record(ctx context.Context, fn func(pcm []byte)) error
}
