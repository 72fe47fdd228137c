package chat_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/troupe/pkg/chat"
)

func openLog(t *testing.T, path string) *chat.Log {
	t.Helper()
	l, err := chat.Open(path)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func sameMessage(a, b chat.Message) bool {
	return a.ID == b.ID && a.Speaker == b.Speaker && a.Role == b.Role &&
		a.Content == b.Content && a.Timestamp.Equal(b.Timestamp) && a.AudioPath == b.AudioPath
}

func TestLog_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "session.jsonl")

	l, err := chat.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	inputs := []chat.Message{
		chat.NewMessage("", chat.RoleSystem, "Stay in character."),
		chat.NewMessage("Narrator", chat.RoleNarration, "The tavern falls silent."),
		chat.NewMessage("Alice", chat.RolePlayer, "Who goes there?"),
		chat.NewMessage("Vex", chat.RoleAgent, "Only a humble merchant."),
	}
	var stored []chat.Message
	for _, m := range inputs {
		got, err := l.Append(m)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		stored = append(stored, got)
	}
	if err := l.AttachAudio(stored[3].ID, "/tmp/vex.wav"); err != nil {
		t.Fatalf("AttachAudio: %v", err)
	}
	stored[3].AudioPath = "/tmp/vex.wav"
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reloaded := openLog(t, path)
	got := reloaded.Messages()
	if len(got) != len(stored) {
		t.Fatalf("reloaded %d messages, want %d", len(got), len(stored))
	}
	for i := range stored {
		if !sameMessage(got[i], stored[i]) {
			t.Errorf("message %d = %+v, want %+v", i, got[i], stored[i])
		}
	}
	if turns := reloaded.Turns(); len(turns) != len(stored) {
		t.Errorf("reloaded %d turns, want %d", len(turns), len(stored))
	}
}

func TestOpen_CreatesMissingFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "fresh.jsonl")
	l := openLog(t, path)
	if l.Len() != 0 {
		t.Errorf("Len = %d, want 0", l.Len())
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("file not created: %v", err)
	}
}

func TestOpen_RecordsWithoutKind(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "legacy.jsonl")
	data := `{"id":"6f1c1a4e-3d8b-4f4c-9a55-0c8c0d3b1e11","speaker":"Garry","role":"agent","content":"Hello.","timestamp":"2025-01-02T03:04:05Z"}` + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	l := openLog(t, path)
	msgs := l.Messages()
	if len(msgs) != 1 || msgs[0].Speaker != "Garry" || msgs[0].Content != "Hello." {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestOpen_DiscardsTruncatedTail(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "crash.jsonl")
	l, err := chat.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(chat.NewMessage("Alice", chat.RolePlayer, "first")); err != nil {
		t.Fatal(err)
	}
	l.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"kind":"message","id":"6f1c1a4e-3d8b`)
	f.Close()

	l = openLog(t, path)
	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
	if _, err := l.Append(chat.NewMessage("Alice", chat.RolePlayer, "second")); err != nil {
		t.Fatalf("Append after recovery: %v", err)
	}
	l.Close()

	l = openLog(t, path)
	if l.Len() != 2 {
		t.Errorf("Len after reopen = %d, want 2", l.Len())
	}
}

func TestOpen_CorruptMiddleLine(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "corrupt.jsonl")
	data := "not json\n" + `{"kind":"message","id":"6f1c1a4e-3d8b-4f4c-9a55-0c8c0d3b1e11","speaker":"A","role":"player","content":"x"}` + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := chat.Open(path)
	var perr *chat.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
	if perr.Op != "load" || !strings.Contains(err.Error(), "line 1") {
		t.Errorf("err = %v", err)
	}
}

func TestAppend_RejectsInvalid(t *testing.T) {
	t.Parallel()
	l := chat.NewMemory()
	if _, err := l.Append(chat.NewMessage("A", chat.Role("villain"), "x")); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := l.Append(chat.NewMessage("", chat.RoleAgent, "x")); err == nil {
		t.Error("expected error for empty speaker")
	}
	m := chat.NewMessage("A", chat.RolePlayer, "x")
	if _, err := l.Append(m); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(m); err == nil {
		t.Error("expected error for duplicate id")
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
}

func TestAppend_TimestampsNeverDecrease(t *testing.T) {
	t.Parallel()
	l := chat.NewMemory()
	now := time.Now().UTC()
	first := chat.NewMessage("A", chat.RolePlayer, "one")
	first.Timestamp = now
	second := chat.NewMessage("B", chat.RolePlayer, "two")
	second.Timestamp = now.Add(-time.Minute)

	l.Append(first)
	got, err := l.Append(second)
	if err != nil {
		t.Fatal(err)
	}
	if got.Timestamp.Before(now) {
		t.Errorf("timestamp %v went backwards past %v", got.Timestamp, now)
	}
}

func TestAppend_ConcurrentAppendsAllPersist(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "concurrent.jsonl")
	l, err := chat.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	const n = 40
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Append(chat.NewMessage("P", chat.RolePlayer, strings.Repeat("x", i))); err != nil {
				t.Errorf("Append: %v", err)
			}
		}()
	}
	wg.Wait()
	l.Close()

	if got := openLog(t, path).Len(); got != n {
		t.Errorf("reloaded %d messages, want %d", got, n)
	}
}

func TestAttachAudio_UnknownID(t *testing.T) {
	t.Parallel()
	l := chat.NewMemory()
	err := l.AttachAudio(chat.NewMessage("A", chat.RolePlayer, "x").ID, "a.wav")
	if !errors.Is(err, chat.ErrUnknownMessage) {
		t.Errorf("err = %v, want ErrUnknownMessage", err)
	}
}

func TestSubscribe_SeesAppendsInOrder(t *testing.T) {
	t.Parallel()
	l := chat.NewMemory()
	var got []string
	unsubscribe := l.Subscribe(func(m chat.Message) { got = append(got, m.Content) })

	l.Append(chat.NewMessage("A", chat.RolePlayer, "one"))
	l.Append(chat.NewMessage("A", chat.RolePlayer, "two"))
	unsubscribe()
	l.Append(chat.NewMessage("A", chat.RolePlayer, "three"))

	if strings.Join(got, ",") != "one,two" {
		t.Errorf("listener saw %v, want [one two]", got)
	}
}

func TestAppend_AfterClose(t *testing.T) {
	t.Parallel()
	l := chat.NewMemory()
	l.Close()
	if _, err := l.Append(chat.NewMessage("A", chat.RolePlayer, "x")); !errors.Is(err, chat.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestLast_SkipsExcludedSpeakers(t *testing.T) {
	t.Parallel()
	l := chat.NewMemory()
	l.Append(chat.NewMessage("Alice", chat.RolePlayer, "hi"))
	l.Append(chat.NewMessage("Vex", chat.RoleAgent, "hello"))

	m, ok := l.Last("Vex")
	if !ok || m.Speaker != "Alice" {
		t.Errorf("Last(Vex) = %+v, %v", m, ok)
	}
	if _, ok := l.Last("Vex", "Alice"); ok {
		t.Error("expected no message when every speaker is excluded")
	}
}
