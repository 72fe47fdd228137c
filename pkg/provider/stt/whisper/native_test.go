package whisper_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/troupe/pkg/audio"
	"github.com/MrWong99/troupe/pkg/provider/stt"
	"github.com/MrWong99/troupe/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	_, err := whisper.NewNative("")
	if err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	_, err := whisper.NewNative("/nonexistent/path/to/model.bin")
	if err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNative_CancelledContext_ReturnsError(t *testing.T) {
	tr, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := tr.Transcribe(ctx, writeSpeechFile(t, audio.Format{SampleRate: 16000, Channels: 1})); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}

func TestNative_TranscribeStream_EndsWithFinal(t *testing.T) {
	tr, err := whisper.NewNative(testModelPath(t), whisper.WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer tr.Close()

	path := writeSpeechFile(t, audio.Format{SampleRate: 48000, Channels: 2})
	var partials []stt.Partial
	text, err := tr.TranscribeStream(context.Background(), path, func(p stt.Partial) {
		partials = append(partials, p)
	})
	if err != nil {
		t.Fatalf("TranscribeStream: %v", err)
	}
	if len(partials) == 0 {
		t.Fatal("expected at least the final partial")
	}
	last := partials[len(partials)-1]
	if !last.Final || last.Text != text {
		t.Errorf("last partial = %+v, want Final with Text %q", last, text)
	}
	t.Logf("transcribed text: %q", text)
}

func TestNative_MissingFile_ReturnsError(t *testing.T) {
	tr, err := whisper.NewNative(testModelPath(t))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer tr.Close()

	if _, err := tr.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
