package audio

import "context"

// Discard is a [Sink] that consumes audio without emitting it. Playback still
// waits for the stream to end, so ordering and completion behave as they do
// on a real device.
type Discard struct {
	// Native is returned by Format. Defaults to 24 kHz mono when zero.
	Native Format
}

var _ Sink = Discard{}

// Format implements [Sink].
func (d Discard) Format() Format {
	if !d.Native.Valid() {
		return Format{SampleRate: 24000, Channels: 1}
	}
	return d.Native
}

// Play implements [Sink].
func (Discard) Play(ctx context.Context, _ Format, chunks <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-chunks:
			if !ok {
				return nil
			}
		}
	}
}

// Close implements [Sink].
func (Discard) Close() error { return nil }
