package chat

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestAppend_WriteFailureLeavesLogUnchanged(t *testing.T) {
	t.Parallel()
	l, err := Open(filepath.Join(t.TempDir(), "fail.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(NewMessage("A", RolePlayer, "kept")); err != nil {
		t.Fatal(err)
	}
	// Pull the file out from under the log so the next write fails.
	l.file.Close()

	var notified bool
	l.Subscribe(func(Message) { notified = true })

	_, err = l.Append(NewMessage("A", RolePlayer, "lost"))
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
	if perr.Op != "append" {
		t.Errorf("Op = %q, want append", perr.Op)
	}
	if l.Len() != 1 || len(l.Turns()) != 1 {
		t.Errorf("log mutated after failed append: %d messages, %d turns", l.Len(), len(l.Turns()))
	}
	if notified {
		t.Error("listener notified of a failed append")
	}
}
