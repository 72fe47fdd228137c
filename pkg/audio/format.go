// Package audio holds the PCM plumbing shared by the voice pipeline: the
// [Format] descriptor, sample-rate and channel conversion, WAV encoding and
// decoding, chunked delivery, and the [Sink] abstraction for output devices.
//
// All PCM in this package is signed 16-bit little-endian, interleaved when
// there is more than one channel.
package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is the width of one PCM sample in bytes.
const BytesPerSample = 2

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Valid reports whether both the sample rate and channel count are positive.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// FrameSize returns the number of bytes in one frame (one sample per channel).
func (f Format) FrameSize() int {
	return f.Channels * BytesPerSample
}

// BytesPerSecond returns the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// Duration returns the playback length of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Bytes returns the number of bytes needed to hold d of audio, rounded down to
// a whole frame.
func (f Format) Bytes(d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	if fs := f.FrameSize(); fs > 0 {
		n -= n % fs
	}
	return n
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
