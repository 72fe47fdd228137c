package audio_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/troupe/pkg/audio"
)

func TestWAVRoundTrip(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 22050, Channels: 1}
	pcm := samplesToBytes([]int16{1, -2, 3, -4, 5})

	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := audio.WriteWAVFile(path, pcm, f); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}
	gotFmt, gotPCM, err := audio.ReadWAVFile(path)
	if err != nil {
		t.Fatalf("ReadWAVFile: %v", err)
	}
	if gotFmt != f {
		t.Errorf("format = %v, want %v", gotFmt, f)
	}
	if !bytes.Equal(gotPCM, pcm) {
		t.Errorf("pcm = %v, want %v", gotPCM, pcm)
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 16000, Channels: 2}
	pcm := samplesToBytes([]int16{10, 20, 30, 40})
	wav := audio.EncodeWAV(pcm, f)

	// Splice a LIST chunk with an odd size (padded) between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	spliced := append(append(append([]byte{}, wav[:36]...), list...), wav[36:]...)

	gotFmt, gotPCM, err := audio.DecodeWAV(bytes.NewReader(spliced))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if gotFmt != f || !bytes.Equal(gotPCM, pcm) {
		t.Errorf("got %v %v, want %v %v", gotFmt, gotPCM, f, pcm)
	}
}

func TestDecodeWAV_Errors(t *testing.T) {
	t.Parallel()

	if _, _, err := audio.DecodeWAV(bytes.NewReader([]byte("not a wav file at all"))); !errors.Is(err, audio.ErrNotWAV) {
		t.Errorf("garbage: err = %v, want ErrNotWAV", err)
	}

	wav := audio.EncodeWAV(samplesToBytes([]int16{1}), audio.Format{SampleRate: 8000, Channels: 1})
	wav[34] = 8 // bits per sample
	if _, _, err := audio.DecodeWAV(bytes.NewReader(wav)); !errors.Is(err, audio.ErrUnsupportedEncoding) {
		t.Errorf("8-bit: err = %v, want ErrUnsupportedEncoding", err)
	}
}

func TestFormatDuration(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	if got := f.Duration(32000); got != time.Second {
		t.Errorf("Duration(32000) = %v, want 1s", got)
	}
	if got := f.Bytes(100 * time.Millisecond); got != 3200 {
		t.Errorf("Bytes(100ms) = %d, want 3200", got)
	}
}

func TestChunks(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 1000, Channels: 1} // 200 bytes per 100ms chunk
	pcm := make([]byte, 450)

	var sizes []int
	for c := range audio.Chunks(context.Background(), pcm, f) {
		sizes = append(sizes, len(c))
	}
	want := []int{200, 200, 50}
	if len(sizes) != len(want) {
		t.Fatalf("chunk sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("chunk %d size = %d, want %d", i, sizes[i], want[i])
		}
	}
}

func TestChunks_StopsOnCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	ch := audio.Chunks(ctx, make([]byte, 1<<20), audio.Format{SampleRate: 1000, Channels: 1})
	<-ch
	cancel()
	done := make(chan struct{})
	go func() {
		audio.Drain(ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("chunk channel was not closed after cancel")
	}
}
