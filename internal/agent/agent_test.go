package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/troupe/internal/agent/transform"
	"github.com/MrWong99/troupe/pkg/chat"
)

func TestFixed_Respond(t *testing.T) {
	t.Parallel()

	a := NewFixed("Garry", "  Aye, that'll do.  ", nil)
	if a.Name() != "Garry" {
		t.Errorf("Name() = %q, want Garry", a.Name())
	}
	msg, err := a.Respond(context.Background(), chat.StaticView{})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if msg.Content != "Aye, that'll do." {
		t.Errorf("Content = %q", msg.Content)
	}
	if msg.Speaker != "Garry" || msg.Role != chat.RoleAgent {
		t.Errorf("Speaker/Role = %q/%q", msg.Speaker, msg.Role)
	}
}

func TestFixed_Transformer(t *testing.T) {
	t.Parallel()

	a := NewFixed("Vex", "Vex: Quiet.", transform.StripPrefix{})
	msg, err := a.Respond(context.Background(), chat.StaticView{})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if msg.Content != "Quiet." {
		t.Errorf("Content = %q, want %q", msg.Content, "Quiet.")
	}
}

func TestFixed_Errors(t *testing.T) {
	t.Parallel()

	t.Run("empty reply", func(t *testing.T) {
		t.Parallel()
		_, err := NewFixed("Vex", "   ", nil).Respond(context.Background(), chat.StaticView{})
		var gerr *GenerationError
		if !errors.As(err, &gerr) || gerr.Agent != "Vex" {
			t.Fatalf("err = %v, want *GenerationError for Vex", err)
		}
		if !errors.Is(err, ErrEmptyReply) {
			t.Errorf("err = %v, want ErrEmptyReply", err)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewFixed("Vex", "hi", nil).Respond(ctx, chat.StaticView{})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})

	t.Run("transformer fails", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		tr := transform.Func(func(context.Context, chat.Message) (chat.Message, error) {
			return chat.Message{}, boom
		})
		_, err := NewFixed("Vex", "hi", tr).Respond(context.Background(), chat.StaticView{})
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want boom", err)
		}
	})

	t.Run("transformer blanks reply", func(t *testing.T) {
		t.Parallel()
		tr := transform.Func(func(_ context.Context, m chat.Message) (chat.Message, error) {
			m.Content = " "
			return m, nil
		})
		_, err := NewFixed("Vex", "hi", tr).Respond(context.Background(), chat.StaticView{})
		if !errors.Is(err, ErrEmptyReply) {
			t.Errorf("err = %v, want ErrEmptyReply", err)
		}
	})
}
