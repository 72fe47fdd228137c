package stt_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/MrWong99/troupe/pkg/audio"
	"github.com/MrWong99/troupe/pkg/provider/stt"
)

func TestLoadSpeech_Converts(t *testing.T) {
	f := audio.Format{SampleRate: 44100, Channels: 2}
	path := filepath.Join(t.TempDir(), "take.wav")
	if err := audio.WriteWAVFile(path, make([]byte, f.BytesPerSecond()), f); err != nil {
		t.Fatalf("WriteWAVFile: %v", err)
	}

	pcm, err := stt.LoadSpeech(path)
	if err != nil {
		t.Fatalf("LoadSpeech: %v", err)
	}
	if want := stt.SpeechFormat.BytesPerSecond(); len(pcm) != want {
		t.Errorf("len(pcm) = %d, want %d", len(pcm), want)
	}
}

func TestLoadSpeech_Missing(t *testing.T) {
	if _, err := stt.LoadSpeech(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Fatal("expected error")
	}
}

func TestUnsupported(t *testing.T) {
	err := stt.Unsupported("whisper")
	if !errors.Is(err, stt.ErrCapabilityUnsupported) {
		t.Fatalf("%v does not wrap ErrCapabilityUnsupported", err)
	}
	if got := err.Error(); got != "whisper: streaming transcription: stt: capability unsupported" {
		t.Errorf("Error() = %q", got)
	}
}
