package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Converter turns PCM in format From into PCM in format To. It logs once on
// the first conversion and once on the first misaligned chunk.
// Create one per stream; not designed for shared use across goroutines.
type Converter struct {
	From Format
	To   Format

	// carry holds a trailing partial frame until the next chunk completes it.
	carry []byte

	warnedMismatch sync.Once
	warnedRemix    sync.Once
}

// Convert converts one chunk. Chunks that do not end on a frame boundary have
// their tail carried over to the next call, so a stream may be split at any
// byte offset. When From equals To the chunk is returned unchanged.
func (c *Converter) Convert(pcm []byte) []byte {
	if c.From == c.To || !c.From.Valid() || !c.To.Valid() {
		return pcm
	}
	c.warnedMismatch.Do(func() {
		slog.Debug("audio: converting stream", "from", c.From.String(), "to", c.To.String())
	})

	if len(c.carry) > 0 {
		pcm = append(c.carry, pcm...)
		c.carry = nil
	}
	fs := c.From.FrameSize()
	if rem := len(pcm) % fs; rem != 0 {
		c.carry = append([]byte(nil), pcm[len(pcm)-rem:]...)
		pcm = pcm[:len(pcm)-rem]
	}
	if len(pcm) == 0 {
		return nil
	}

	channels := c.From.Channels
	if c.From.SampleRate != c.To.SampleRate {
		pcm = Resample(pcm, channels, c.From.SampleRate, c.To.SampleRate)
	}
	if channels != c.To.Channels {
		pcm = c.remix(pcm, channels)
	}
	return pcm
}

func (c *Converter) remix(pcm []byte, channels int) []byte {
	switch {
	case channels == 1 && c.To.Channels == 2:
		return MonoToStereo(pcm)
	case channels == 2 && c.To.Channels == 1:
		return StereoToMono(pcm)
	case c.To.Channels == 1:
		return DownmixToMono(pcm, channels)
	default:
		c.warnedRemix.Do(func() {
			slog.Warn("audio: unsupported channel layout, passing through",
				"from", c.From.String(), "to", c.To.String())
		})
		return pcm
	}
}

// ConvertChunks wraps in with a conversion goroutine. The returned channel is
// closed when in is closed. Chunks that convert to nothing are dropped.
func ConvertChunks(in <-chan []byte, from, to Format) <-chan []byte {
	if from == to {
		return in
	}
	out := make(chan []byte, cap(in))
	go func() {
		defer close(out)
		conv := Converter{From: from, To: to}
		for chunk := range in {
			if converted := conv.Convert(chunk); len(converted) > 0 {
				out <- converted
			}
		}
	}()
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
}

func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*BytesPerSample:], uint16(s))
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Resample converts interleaved PCM with the given channel count from srcRate
// to dstRate using linear interpolation per channel. Non-positive rates and
// equal rates return the input unchanged.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (channels * BytesPerSample)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*BytesPerSample)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0+(s1-s0)*frac))
		}
	}
	return out
}

// MonoToStereo duplicates every mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / BytesPerSample
	out := make([]byte, n*2*BytesPerSample)
	for i := range n {
		s := sampleAt(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

// StereoToMono averages each L+R pair into one mono sample.
func StereoToMono(pcm []byte) []byte {
	return DownmixToMono(pcm, 2)
}

// DownmixToMono averages all channels of each frame, clamping to int16 range.
func DownmixToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frames := len(pcm) / (channels * BytesPerSample)
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			sum += int32(sampleAt(pcm, i*channels+ch))
		}
		putSample(out, i, clamp16(sum/int32(channels)))
	}
	return out
}

// Float32Mono down-mixes PCM to mono float32 samples normalised to [-1, 1],
// the input shape expected by speech recognisers.
func Float32Mono(pcm []byte, channels int) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(pcm) / (channels * BytesPerSample)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(sampleAt(pcm, i*channels+ch)) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}
