package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/troupe/internal/observe"
	"github.com/MrWong99/troupe/pkg/audio"
	"github.com/MrWong99/troupe/pkg/chat"
)

// ErrCancelled is the failure cause of messages whose playback was suppressed
// or interrupted by [Manager.Cancel] or a cancelled [Manager.Drain].
var ErrCancelled = errors.New("voice: playback cancelled")

// ErrClosed is the failure cause of messages enqueued after [Manager.Close].
var ErrClosed = errors.New("voice: manager is closed")

const defaultConcurrency = 2

// Option is a functional option for [NewManager].
type Option func(*Manager)

// WithConcurrency bounds the number of simultaneous renders. Default: 2.
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = int64(n)
		}
	}
}

// WithScratchRoot sets the directory under which the scratch directory is
// created. Default: [os.TempDir].
func WithScratchRoot(dir string) Option {
	return func(m *Manager) { m.scratchRoot = dir }
}

// WithObserver registers fn to receive every state change. fn is called
// synchronously from manager goroutines and must not block.
func WithObserver(fn func(Event)) Option {
	return func(m *Manager) { m.observer = fn }
}

// WithPlayedHook registers fn to be called after a file rendering has played,
// before the file is deleted. It is typically wired to [chat.Log.AttachAudio].
func WithPlayedHook(fn func(msg chat.Message, path string)) Option {
	return func(m *Manager) { m.onPlayed = fn }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// Manager routes messages to actors, renders them concurrently, and plays the
// results one at a time in enqueue order through an [audio.Sink]. It owns the
// sink and the scratch directory.
//
// Each enqueued message gets a slot in a FIFO queue. A render goroutine fills
// the slot's ready channel; a single dispatch goroutine takes slots from the
// head of the queue, waits for them to become ready, and plays them. A slow
// render therefore holds back later messages but never lets them overtake it.
type Manager struct {
	actors      []Actor
	sink        audio.Sink
	scratch     *scratchDir
	sem         *semaphore.Weighted
	concurrency int64
	scratchRoot string
	observer    func(Event)
	onPlayed    func(chat.Message, string)
	metrics     *observe.Metrics

	// ctx bounds every render and playback; it is cancelled by Close.
	ctx  context.Context
	stop context.CancelFunc

	mu            sync.Mutex
	queue         []*slot
	open          map[*Ticket]struct{}
	cancelCurrent context.CancelFunc
	closed        bool

	notify       chan struct{}
	done         chan struct{}
	dispatchDone chan struct{}
	bg           sync.WaitGroup
	closeOnce    sync.Once
	closeErr     error
}

type slot struct {
	ticket  *Ticket
	actor   Actor
	scratch *messageScratch
	ready   chan renderResult
}

type renderResult struct {
	rendering Rendering
	err       error
}

// NewManager creates a manager over actors, tried in order, playing through
// sink. It creates the scratch directory and starts the playback goroutine.
func NewManager(actors []Actor, sink audio.Sink, opts ...Option) (*Manager, error) {
	if sink == nil {
		return nil, errors.New("voice: sink must not be nil")
	}
	m := &Manager{
		actors:       append([]Actor(nil), actors...),
		sink:         sink,
		concurrency:  defaultConcurrency,
		open:         make(map[*Ticket]struct{}),
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	scratch, err := newScratchDir(m.scratchRoot)
	if err != nil {
		return nil, err
	}
	m.scratch = scratch
	m.sem = semaphore.NewWeighted(m.concurrency)
	m.ctx, m.stop = context.WithCancel(context.Background())

	go m.dispatch()
	return m, nil
}

// ScratchDir returns the path of the manager's scratch directory.
func (m *Manager) ScratchDir() string { return m.scratch.path }

// Actors returns the configured actors in routing order.
func (m *Manager) Actors() []Actor { return append([]Actor(nil), m.actors...) }

// Route returns the first actor that claims msg, or nil.
func (m *Manager) Route(msg chat.Message) Actor {
	for _, a := range m.actors {
		if a.Claims(msg) {
			return a
		}
	}
	return nil
}

// Enqueue hands msg to the manager and returns immediately. A message that
// no actor claims goes straight to StateDone without producing audio.
func (m *Manager) Enqueue(msg chat.Message) *Ticket {
	t := newTicket(msg)
	actor := m.Route(msg)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.transition(t, StateFailed, ErrClosed)
		return t
	}
	if actor == nil {
		m.mu.Unlock()
		slog.Debug("voice: no actor claims message, not voicing it",
			"id", msg.ID, "speaker", msg.Speaker, "role", string(msg.Role))
		m.emit(t)
		m.transition(t, StateDone, nil)
		return t
	}
	t.actor = actor.Name()
	s := &slot{
		ticket:  t,
		actor:   actor,
		scratch: m.scratch.forMessage(msg.ID),
		ready:   make(chan renderResult, 1),
	}
	m.open[t] = struct{}{}
	m.queue = append(m.queue, s)
	m.bg.Add(1)
	m.mu.Unlock()

	m.metrics.VoiceQueueDepth.Add(m.ctx, 1)
	m.emit(t)
	go m.render(s)
	m.signal()
	return t
}

// Drain blocks until every message enqueued so far has reached a terminal
// state. If ctx ends first, Drain cancels all outstanding playback (see
// [Manager.Cancel]) and returns ctx.Err().
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.Lock()
	pending := make([]*Ticket, 0, len(m.open))
	for t := range m.open {
		pending = append(pending, t)
	}
	m.mu.Unlock()

	for _, t := range pending {
		select {
		case <-t.Done():
		case <-ctx.Done():
			m.Cancel()
			return ctx.Err()
		}
	}
	return nil
}

// Cancel suppresses playback of every queued message and stops the one that
// is playing. Renders already in flight finish in the background; their
// scratch files are deleted as they complete. Messages enqueued afterwards
// are unaffected.
func (m *Manager) Cancel() {
	m.mu.Lock()
	pending := m.queue
	m.queue = nil
	m.bg.Add(len(pending))
	cancel := m.cancelCurrent
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, s := range pending {
		go m.discard(s)
	}
}

// Close cancels all work, waits for background goroutines, removes the
// scratch directory, and closes the sink. It is idempotent.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		m.Cancel()
		close(m.done)
		m.stop()
		<-m.dispatchDone
		m.bg.Wait()

		m.closeErr = errors.Join(m.scratch.sweep(), m.sink.Close())
	})
	return m.closeErr
}

func (m *Manager) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// render runs the actor for s and publishes the result on s.ready.
func (m *Manager) render(s *slot) {
	defer m.bg.Done()

	if err := m.sem.Acquire(m.ctx, 1); err != nil {
		s.ready <- renderResult{err: err}
		return
	}
	defer m.sem.Release(1)

	msg := s.ticket.msg
	m.transition(s.ticket, StateRendering, nil)

	ctx, span := observe.StartSpan(m.ctx, "voice.render", trace.WithAttributes(
		attribute.String("actor", s.actor.Name()),
		attribute.String("speaker", msg.Speaker),
	))
	start := time.Now()
	r, err := s.actor.Render(ctx, msg, s.scratch)
	if err == nil && r == nil {
		err = errors.New("actor returned no rendering")
	}
	if err != nil {
		err = m.synthesisError(s, err)
	}
	observe.EndSpan(span, err)
	observe.ObserveSince(ctx, m.metrics.RenderDuration, start, observe.Attr("actor", s.actor.Name()))

	s.ready <- renderResult{rendering: r, err: err}
}

func (m *Manager) synthesisError(s *slot, err error) error {
	var se *SynthesisError
	if errors.As(err, &se) {
		return err
	}
	return &SynthesisError{Speaker: s.ticket.msg.Speaker, Actor: s.actor.Name(), Err: err}
}

// dispatch is the single playback goroutine.
func (m *Manager) dispatch() {
	defer close(m.dispatchDone)
	for {
		select {
		case <-m.done:
			return
		case <-m.notify:
		}
		for {
			s, ctx, ok := m.next()
			if !ok {
				break
			}
			m.play(ctx, s)
			m.mu.Lock()
			m.cancelCurrent()
			m.cancelCurrent = nil
			m.mu.Unlock()
		}
	}
}

// next pops the head of the queue and installs a cancellable context for it.
func (m *Manager) next() (*slot, context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(m.queue) == 0 {
		return nil, nil, false
	}
	s := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancelCurrent = cancel
	return s, ctx, true
}

// play waits for s to be rendered and plays it.
func (m *Manager) play(ctx context.Context, s *slot) {
	var res renderResult
	select {
	case res = <-s.ready:
	case <-ctx.Done():
		m.bg.Add(1)
		go m.discard(s)
		return
	}
	if ctx.Err() != nil {
		m.bg.Add(1)
		s.ready <- res
		go m.discard(s)
		return
	}
	if res.err != nil {
		m.finish(s, StateFailed, res.err)
		return
	}

	var (
		chunks <-chan []byte
		format audio.Format
		stream *AudioStream
		path   string
	)
	chunkCtx, stopChunks := context.WithCancel(ctx)
	defer stopChunks()

	switch r := res.rendering.(type) {
	case *CompletedFile:
		f, pcm, err := loadFile(r)
		if err != nil {
			m.finish(s, StateFailed, m.synthesisError(s, err))
			return
		}
		chunks, format, path = audio.Chunks(chunkCtx, pcm, f), f, r.Path
	case *AudioStream:
		chunks, format, stream = r.Chunks, r.Format, r
	default:
		m.finish(s, StateFailed, m.synthesisError(s, fmt.Errorf("unsupported rendering %T", r)))
		return
	}

	m.transition(s.ticket, StatePlaying, nil)
	start := time.Now()
	err := m.sink.Play(ctx, format, chunks)
	observe.ObserveSince(ctx, m.metrics.PlaybackDuration, start, observe.Attr("actor", s.actor.Name()))

	if stream != nil {
		if err != nil {
			go audio.Drain(stream.Chunks)
		} else if serr := stream.Err(); serr != nil {
			err = m.synthesisError(s, serr)
		}
	}

	switch {
	case err != nil && ctx.Err() != nil:
		m.finish(s, StateFailed, ErrCancelled)
	case err != nil:
		m.finish(s, StateFailed, fmt.Errorf("voice: playback: %w", err))
	default:
		if path != "" && m.onPlayed != nil {
			m.onPlayed(s.ticket.msg, path)
		}
		m.finish(s, StateDone, nil)
	}
}

// discard waits for a suppressed slot's render to finish, then cleans up.
// The caller must have added to m.bg.
func (m *Manager) discard(s *slot) {
	defer m.bg.Done()
	res := <-s.ready
	if st, ok := res.rendering.(*AudioStream); ok {
		audio.Drain(st.Chunks)
	}
	m.finish(s, StateFailed, ErrCancelled)
}

func loadFile(r *CompletedFile) (audio.Format, []byte, error) {
	if r.Format.Valid() {
		pcm, err := os.ReadFile(r.Path)
		if err != nil {
			return audio.Format{}, nil, err
		}
		return r.Format, pcm, nil
	}
	return audio.ReadWAVFile(r.Path)
}

// finish deletes the slot's scratch files and moves its ticket to a terminal
// state.
func (m *Manager) finish(s *slot, st State, err error) {
	if rerr := s.scratch.release(); rerr != nil {
		slog.Warn("voice: failed to delete scratch files", "id", s.ticket.msg.ID, "err", rerr)
	}
	if err != nil && !errors.Is(err, ErrCancelled) {
		slog.Warn("voice: message not voiced",
			"id", s.ticket.msg.ID, "speaker", s.ticket.msg.Speaker, "actor", s.actor.Name(), "err", err)
	}
	m.transition(s.ticket, st, err)
}

// transition applies a state change, publishes it, and on terminal states
// updates bookkeeping and releases Done waiters last.
func (m *Manager) transition(t *Ticket, st State, err error) {
	if !t.update(st, err) {
		return
	}
	if st.Terminal() {
		m.mu.Lock()
		_, tracked := m.open[t]
		delete(m.open, t)
		m.mu.Unlock()
		if tracked {
			m.metrics.VoiceQueueDepth.Add(m.ctx, -1)
		}
		m.metrics.RecordVoiceMessage(m.ctx, t.Actor(), outcome(t, st, err))
	}
	m.emit(t)
	if st.Terminal() {
		close(t.done)
	}
}

func outcome(t *Ticket, st State, err error) string {
	switch {
	case st == StateDone && t.Actor() == "":
		return observe.OutcomeSkipped
	case st == StateDone:
		return observe.OutcomePlayed
	case errors.Is(err, ErrCancelled):
		return observe.OutcomeCancelled
	default:
		return observe.OutcomeFailed
	}
}

func (m *Manager) emit(t *Ticket) {
	if m.observer == nil {
		return
	}
	t.mu.Lock()
	ev := Event{Message: t.msg, Actor: t.actor, State: t.state, Err: t.err}
	t.mu.Unlock()
	m.observer(ev)
}
