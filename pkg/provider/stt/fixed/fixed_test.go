package fixed_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/troupe/pkg/provider/stt"
	"github.com/MrWong99/troupe/pkg/provider/stt/fixed"
)

func TestTranscribe(t *testing.T) {
	tr := &fixed.Transcriber{Text: "Roll for initiative."}
	text, err := tr.Transcribe(context.Background(), "a.wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Roll for initiative." {
		t.Errorf("text = %q", text)
	}
	if got := tr.Paths(); len(got) != 1 || got[0] != "a.wav" {
		t.Errorf("Paths() = %v", got)
	}
}

func TestTranscribe_Err(t *testing.T) {
	want := errors.New("boom")
	tr := &fixed.Transcriber{Text: "unused", Err: want}
	if _, err := tr.Transcribe(context.Background(), "a.wav"); !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &fixed.Transcriber{Text: "x"}
	if _, err := tr.Transcribe(ctx, "a.wav"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tr.Paths()) != 0 {
		t.Error("cancelled call should not be recorded")
	}
}

func TestTranscribeStream(t *testing.T) {
	t.Run("unsupported", func(t *testing.T) {
		tr := &fixed.Transcriber{Text: "x"}
		_, err := tr.TranscribeStream(context.Background(), "a.wav", func(stt.Partial) {})
		if !errors.Is(err, stt.ErrCapabilityUnsupported) {
			t.Fatalf("err = %v, want ErrCapabilityUnsupported", err)
		}
	})

	t.Run("word by word", func(t *testing.T) {
		tr := &fixed.Transcriber{Text: "a b c", Streaming: true}
		var texts []string
		text, err := tr.TranscribeStream(context.Background(), "a.wav", func(p stt.Partial) {
			texts = append(texts, p.Text)
			if p.Final && p.Text != "a b c" {
				t.Errorf("final text = %q", p.Text)
			}
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if text != "a b c" {
			t.Errorf("text = %q", text)
		}
		want := []string{"a", "a b", "a b c", "a b c"}
		if len(texts) != len(want) {
			t.Fatalf("texts = %v, want %v", texts, want)
		}
		for i := range want {
			if texts[i] != want[i] {
				t.Errorf("texts[%d] = %q, want %q", i, texts[i], want[i])
			}
		}
	})
}
