package audio

import (
	"context"
	"time"
)

// DefaultChunkDuration is the amount of audio carried by one chunk when PCM is
// split for streaming to a [Sink].
const DefaultChunkDuration = 100 * time.Millisecond

// Chunks splits pcm into frame-aligned chunks of roughly DefaultChunkDuration
// and delivers them on the returned channel, which is closed after the last
// chunk or when ctx is cancelled.
func Chunks(ctx context.Context, pcm []byte, f Format) <-chan []byte {
	size := f.Bytes(DefaultChunkDuration)
	if size <= 0 {
		size = 4096
	}
	out := make(chan []byte, 8)
	go func() {
		defer close(out)
		for off := 0; off < len(pcm); off += size {
			end := min(off+size, len(pcm))
			select {
			case out <- pcm[off:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
