package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/troupe/pkg/audio"
)

// ErrRecording is returned by [Recorder.Start] while another take is running.
var ErrRecording = errors.New("voice: already recording")

// ErrEmptyRecording is returned by [Take.Stop] when nothing was captured.
var ErrEmptyRecording = errors.New("voice: recording is empty")

var errRecorderClosed = errors.New("voice: recorder is closed")

// progressStep is how much captured audio passes between progress reports.
const progressStep = 250 * time.Millisecond

// RecorderOption is a functional option for [NewRecorder].
type RecorderOption func(*Recorder)

// WithRecordingRoot sets the directory under which the recorder's scratch
// directory is created. Default: [os.TempDir].
func WithRecordingRoot(dir string) RecorderOption {
	return func(r *Recorder) { r.root = dir }
}

// Recorder captures narration from an [audio.Source] into WAV files in a
// scratch directory it owns. One take runs at a time.
type Recorder struct {
	src     audio.Source
	root    string
	scratch *scratchDir

	mu     sync.Mutex
	active *Take
	closed bool
}

// NewRecorder creates the scratch directory and returns a recorder over src.
func NewRecorder(src audio.Source, opts ...RecorderOption) (*Recorder, error) {
	if src == nil {
		return nil, errors.New("voice: source must not be nil")
	}
	r := &Recorder{src: src}
	for _, o := range opts {
		o(r)
	}
	scratch, err := newScratchDir(r.root)
	if err != nil {
		return nil, err
	}
	r.scratch = scratch
	return r, nil
}

// ScratchDir returns the path of the recorder's scratch directory.
func (r *Recorder) ScratchDir() string { return r.scratch.path }

// Start begins a take. onProgress, which may be nil, is called from the
// capture goroutine with the captured length every quarter second of audio.
// Capture ends when ctx is cancelled or the take is stopped.
func (r *Recorder) Start(ctx context.Context, onProgress func(time.Duration)) (*Take, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.closed:
		return nil, errRecorderClosed
	case r.active != nil:
		return nil, ErrRecording
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &Take{
		rec:        r,
		format:     r.src.Format(),
		scratch:    r.scratch.forMessage(uuid.New()),
		cancel:     cancel,
		onProgress: onProgress,
		done:       make(chan struct{}),
	}
	r.active = t
	go t.run(ctx)
	slog.Debug("voice: recording started", "format", t.format)
	return t, nil
}

// Close discards a running take and removes the scratch directory.
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	active := r.active
	r.mu.Unlock()

	var errs []error
	if active != nil {
		errs = append(errs, active.Close())
	}
	return errors.Join(append(errs, r.scratch.sweep())...)
}

func (r *Recorder) release(t *Take) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == t {
		r.active = nil
	}
}

// Take is one recording.
type Take struct {
	rec        *Recorder
	format     audio.Format
	scratch    *messageScratch
	cancel     context.CancelFunc
	onProgress func(time.Duration)
	done       chan struct{}

	mu   sync.Mutex
	pcm  []byte
	err  error
	path string
}

func (t *Take) run(ctx context.Context) {
	defer close(t.done)
	err := t.rec.src.Record(ctx, t.capture)
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

func (t *Take) capture(pcm []byte) {
	t.mu.Lock()
	before := t.format.Duration(len(t.pcm))
	t.pcm = append(t.pcm, pcm...)
	after := t.format.Duration(len(t.pcm))
	t.mu.Unlock()

	if t.onProgress != nil && after/progressStep != before/progressStep {
		t.onProgress(after)
	}
}

// Elapsed returns the length of audio captured so far.
func (t *Take) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format.Duration(len(t.pcm))
}

// Stop ends capture and writes the take to a WAV file, returning its path.
// Calling Stop again returns the same path.
func (t *Take) Stop() (string, error) {
	t.cancel()
	<-t.done
	t.rec.release(t)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.path != "" {
		return t.path, nil
	}
	if t.err != nil {
		return "", fmt.Errorf("voice: record: %w", t.err)
	}
	if len(t.pcm) == 0 {
		return "", ErrEmptyRecording
	}
	path, err := t.scratch.Allocate(".wav")
	if err != nil {
		return "", err
	}
	if err := audio.WriteWAVFile(path, t.pcm, t.format); err != nil {
		return "", fmt.Errorf("voice: write recording: %w", err)
	}
	slog.Debug("voice: recording stopped", "path", path, "length", t.format.Duration(len(t.pcm)))
	t.pcm = nil
	t.path = path
	return path, nil
}

// Close stops capture if it is still running and deletes the take's file.
func (t *Take) Close() error {
	t.cancel()
	<-t.done
	t.rec.release(t)
	return t.scratch.release()
}
