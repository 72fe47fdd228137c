package chat

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	recordMessage = "message"
	recordAudio   = "audio"
)

// record is the on-disk form of one JSONL line. A message record carries the
// full message; an audio record attaches AudioPath to an earlier message.
// Lines without a kind are read as messages.
type record struct {
	Kind      string    `json:"kind,omitempty"`
	ID        uuid.UUID `json:"id"`
	Speaker   string    `json:"speaker,omitempty"`
	Role      Role      `json:"role,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	AudioPath string    `json:"audio_path,omitempty"`
}

func messageRecord(m Message) record {
	return record{
		Kind:      recordMessage,
		ID:        m.ID,
		Speaker:   m.Speaker,
		Role:      m.Role,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		AudioPath: m.AudioPath,
	}
}

func (r record) message() Message {
	return Message{
		ID:        r.ID,
		Speaker:   r.Speaker,
		Role:      r.Role,
		Content:   r.Content,
		Timestamp: r.Timestamp,
		AudioPath: r.AudioPath,
	}
}

// Log is the ordered, append-only session log. When opened from a file every
// append is written as one JSONL line and fsynced before Append returns. The
// LLM view ([Log.Turns]) is maintained incrementally on append.
//
// All methods are safe for concurrent use; appends are serialised.
type Log struct {
	mu       sync.RWMutex
	path     string
	file     *os.File
	messages []Message
	turns    []Turn
	index    map[uuid.UUID]int
	closed   bool

	// notifyMu keeps listener callbacks in append order.
	notifyMu  sync.Mutex
	listeners map[int]func(Message)
	nextID    int
}

var _ View = (*Log)(nil)

// NewMemory returns an empty log that is never persisted.
func NewMemory() *Log {
	return &Log{
		index:     make(map[uuid.UUID]int),
		listeners: make(map[int]func(Message)),
	}
}

// Open loads the log stored at path, creating the file and its parent
// directories if they do not exist. A truncated final line, as left by a
// crash mid-append, is discarded with a warning; any other malformed line is a
// [PersistenceError].
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &PersistenceError{Op: "open", Path: path, Err: err}
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &PersistenceError{Op: "open", Path: path, Err: err}
	}

	l := NewMemory()
	l.path = path
	l.file = f
	if err := l.load(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) load() error {
	rd := bufio.NewReader(l.file)
	var (
		offset int64
		lineNo int
	)
	for {
		line, err := rd.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return &PersistenceError{Op: "load", Path: l.path, Err: err}
		}
		complete := len(line) > 0 && line[len(line)-1] == '\n'
		if len(line) > 0 {
			lineNo++
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if perr := l.apply(trimmed); perr != nil {
				if !complete {
					return l.dropTail(offset, lineNo, perr)
				}
				return &PersistenceError{Op: "load", Path: l.path, Err: fmt.Errorf("line %d: %w", lineNo, perr)}
			}
			if !complete {
				// Terminate the final record so the next append starts on its own line.
				if _, werr := l.file.Write([]byte{'\n'}); werr != nil {
					return &PersistenceError{Op: "load", Path: l.path, Err: werr}
				}
			}
		}
		offset += int64(len(line))
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func (l *Log) dropTail(offset int64, lineNo int, cause error) error {
	slog.Warn("chat: discarding truncated final record",
		"path", l.path, "line", lineNo, "err", cause)
	if err := l.file.Truncate(offset); err != nil {
		return &PersistenceError{Op: "load", Path: l.path, Err: err}
	}
	return nil
}

// apply folds one decoded record into the in-memory state.
func (l *Log) apply(line []byte) error {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return err
	}
	switch rec.Kind {
	case "", recordMessage:
		m := rec.message()
		if err := m.Validate(); err != nil {
			return err
		}
		if _, dup := l.index[m.ID]; dup {
			return fmt.Errorf("duplicate message id %s", m.ID)
		}
		l.commit(m)
	case recordAudio:
		i, ok := l.index[rec.ID]
		if !ok {
			return fmt.Errorf("%w: audio record for %s", ErrUnknownMessage, rec.ID)
		}
		l.messages[i].AudioPath = rec.AudioPath
	default:
		return fmt.Errorf("unknown record kind %q", rec.Kind)
	}
	return nil
}

func (l *Log) commit(m Message) {
	l.index[m.ID] = len(l.messages)
	l.messages = append(l.messages, m)
	l.turns = append(l.turns, TurnFor(m))
}

// write appends one record and fsyncs. It is a no-op for memory logs.
func (l *Log) write(op string, rec record) error {
	if l.file == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return &PersistenceError{Op: op, Path: l.path, Err: err}
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		return &PersistenceError{Op: op, Path: l.path, Err: err}
	}
	if err := l.file.Sync(); err != nil {
		return &PersistenceError{Op: op, Path: l.path, Err: err}
	}
	return nil
}

// Append validates m, durably writes it, and adds it to the log. A zero ID or
// timestamp is filled in. Timestamps never go backwards: a message older than
// the current tail is stamped with the tail's time. The stored message is
// returned.
func (l *Log) Append(m Message) (Message, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return Message{}, ErrClosed
	}
	if _, dup := l.index[m.ID]; dup {
		l.mu.Unlock()
		return Message{}, fmt.Errorf("chat: message %s already logged", m.ID)
	}
	if n := len(l.messages); n > 0 && m.Timestamp.Before(l.messages[n-1].Timestamp) {
		m.Timestamp = l.messages[n-1].Timestamp
	}
	if err := l.write("append", messageRecord(m)); err != nil {
		l.mu.Unlock()
		return Message{}, err
	}
	l.commit(m)

	l.notifyMu.Lock()
	l.mu.Unlock()
	l.notify(m)
	l.notifyMu.Unlock()
	return m, nil
}

func (l *Log) notify(m Message) {
	for _, fn := range l.listeners {
		fn(m)
	}
}

// AttachAudio records path as the rendered audio of message id.
func (l *Log) AttachAudio(id uuid.UUID, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	i, ok := l.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	if err := l.write("attach audio", record{Kind: recordAudio, ID: id, AudioPath: path}); err != nil {
		return err
	}
	l.messages[i].AudioPath = path
	return nil
}

// Subscribe registers fn to be called after every successful append, in
// append order. fn runs on the appending goroutine and must not call back into
// Append. The returned function removes the subscription.
func (l *Log) Subscribe(fn func(Message)) (unsubscribe func()) {
	l.notifyMu.Lock()
	defer l.notifyMu.Unlock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	return func() {
		l.notifyMu.Lock()
		defer l.notifyMu.Unlock()
		delete(l.listeners, id)
	}
}

// Messages implements [View].
func (l *Log) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Turns implements [View].
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len implements [View].
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Get returns the message with the given id.
func (l *Log) Get(id uuid.UUID) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return Message{}, false
	}
	return l.messages[i], true
}

// Last returns the newest message whose speaker is not in exclude.
func (l *Log) Last(exclude ...string) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.messages) - 1; i >= 0; i-- {
		skip := false
		for _, s := range exclude {
			if l.messages[i].Speaker == s {
				skip = true
				break
			}
		}
		if !skip {
			return l.messages[i], true
		}
	}
	return Message{}, false
}

// Path returns the backing file path, or "" for a memory log.
func (l *Log) Path() string { return l.path }

// Close releases the backing file. Further appends return [ErrClosed].
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return &PersistenceError{Op: "close", Path: l.path, Err: err}
	}
	return nil
}
