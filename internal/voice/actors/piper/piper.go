// Package piper voices speakers with the piper command-line synthesiser.
//
// Each line is rendered by running
//
//	piper --model <model> --output_file <scratch.wav> [--speaker <id>]
//
// with the text on stdin. Multi-speaker models select a voice per speaker
// through the speaker id map; an empty id uses the model's default voice.
package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/MrWong99/troupe/internal/voice"
	"github.com/MrWong99/troupe/pkg/chat"
)

// DefaultBinary is the executable looked up on PATH.
const DefaultBinary = "piper"

// maxStderr bounds how much of piper's stderr is kept for error messages.
const maxStderr = 4 << 10

// RunError reports a piper process that exited unsuccessfully.
type RunError struct {
	Stderr string
	Err    error
}

func (e *RunError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("piper: %v", e.Err)
	}
	return fmt.Sprintf("piper: %v: %s", e.Err, e.Stderr)
}

func (e *RunError) Unwrap() error { return e.Err }

// Actor runs piper for each line.
type Actor struct {
	name     string
	binary   string
	model    string
	extra    []string
	speakers voice.Speakers
}

var _ voice.Actor = (*Actor)(nil)

// Option configures an Actor.
type Option func(*Actor)

// WithBinary sets the piper executable. Bare names are looked up on PATH.
func WithBinary(path string) Option {
	return func(a *Actor) { a.binary = path }
}

// WithArgs appends extra command-line arguments, e.g. "--length_scale", "1.1".
func WithArgs(args ...string) Option {
	return func(a *Actor) { a.extra = append(a.extra, args...) }
}

// New creates a piper actor. speakers maps speaker names to piper speaker
// ids. It fails if the binary cannot be found.
func New(name, model string, speakers map[string]string, opts ...Option) (*Actor, error) {
	if model == "" {
		return nil, errors.New("piper: model must not be empty")
	}
	a := &Actor{
		name:     name,
		binary:   DefaultBinary,
		model:    model,
		speakers: voice.NewSpeakers(speakers),
	}
	for _, o := range opts {
		o(a)
	}
	bin, err := exec.LookPath(a.binary)
	if err != nil {
		return nil, fmt.Errorf("piper: %w", err)
	}
	a.binary = bin
	return a, nil
}

// Name implements voice.Actor.
func (a *Actor) Name() string { return a.name }

// Claims implements voice.Actor.
func (a *Actor) Claims(msg chat.Message) bool { return a.speakers.Claims(msg) }

// Args returns the command-line arguments used to render into outPath for
// speaker.
func (a *Actor) Args(speaker, outPath string) []string {
	args := []string{"--model", a.model, "--output_file", outPath}
	if id, ok := a.speakers.Voice(speaker); ok && id != "" {
		args = append(args, "--speaker", id)
	}
	return append(args, a.extra...)
}

// Render implements voice.Actor.
func (a *Actor) Render(ctx context.Context, msg chat.Message, scratch voice.Scratch) (voice.Rendering, error) {
	out, err := scratch.Allocate(".wav")
	if err != nil {
		return nil, a.fail(msg, err)
	}

	var stderr limitedBuffer
	cmd := exec.CommandContext(ctx, a.binary, a.Args(msg.Speaker, out)...)
	cmd.Stdin = strings.NewReader(strings.TrimSpace(msg.Content) + "\n")
	cmd.Stderr = &stderr

	slog.Debug("piper: rendering", "actor", a.name, "speaker", msg.Speaker, "message", msg.ID)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, a.fail(msg, &RunError{Stderr: strings.TrimSpace(stderr.String()), Err: err})
	}
	return &voice.CompletedFile{Path: out}, nil
}

func (a *Actor) fail(msg chat.Message, err error) error {
	return &voice.SynthesisError{Speaker: msg.Speaker, Actor: a.name, Err: err}
}

// limitedBuffer keeps the first maxStderr bytes written to it.
type limitedBuffer struct {
	bytes.Buffer
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := maxStderr - b.Len(); room > 0 {
		b.Buffer.Write(p[:min(len(p), room)])
	}
	return len(p), nil
}
