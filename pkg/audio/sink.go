package audio

import "context"

// Sink is an audio output device. Exactly one Play call is active at a time;
// callers serialise access.
type Sink interface {
	// Format is the device's native format. Play converts other formats.
	Format() Format

	// Play consumes chunks in format f and blocks until the channel is
	// closed and the audio has been emitted, or ctx is cancelled. On
	// cancellation playback stops immediately and ctx.Err() is returned; the
	// caller remains responsible for draining chunks.
	Play(ctx context.Context, f Format, chunks <-chan []byte) error

	// Close releases the device.
	Close() error
}
