package chat

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed [Log].
var ErrClosed = errors.New("chat: log is closed")

// ErrUnknownMessage is returned when an ID does not refer to a logged message.
var ErrUnknownMessage = errors.New("chat: unknown message")

// PersistenceError reports a failure to read or durably write the session
// log. When returned from an append, the in-memory log is unchanged.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chat: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
