package voice_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/troupe/internal/voice"
	"github.com/MrWong99/troupe/pkg/audio"
	audiomock "github.com/MrWong99/troupe/pkg/audio/mock"
	"github.com/MrWong99/troupe/pkg/chat"
)

var testFormat = audio.Format{SampleRate: 8000, Channels: 1}

// fakeActor renders a short WAV file, or a stream, after a per-speaker delay.
type fakeActor struct {
	name     string
	speakers voice.Speakers
	delay    map[string]time.Duration
	fail     map[string]error
	stream   bool

	mu      sync.Mutex
	renders []string
}

func newFakeActor(name string, speakers ...string) *fakeActor {
	voices := make(map[string]string, len(speakers))
	for _, s := range speakers {
		voices[s] = s
	}
	return &fakeActor{name: name, speakers: voice.NewSpeakers(voices)}
}

func (a *fakeActor) Name() string                 { return a.name }
func (a *fakeActor) Claims(msg chat.Message) bool { return a.speakers.Claims(msg) }

func (a *fakeActor) Render(ctx context.Context, msg chat.Message, scratch voice.Scratch) (voice.Rendering, error) {
	a.mu.Lock()
	a.renders = append(a.renders, msg.Speaker)
	a.mu.Unlock()

	if d := a.delay[msg.Speaker]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := a.fail[msg.Speaker]; err != nil {
		return nil, err
	}
	pcm := make([]byte, testFormat.Bytes(50*time.Millisecond))
	copy(pcm, msg.Content)

	if a.stream {
		ch := make(chan []byte, 1)
		ch <- pcm
		close(ch)
		return voice.NewAudioStream(ch, testFormat), nil
	}
	path, err := scratch.Allocate(".wav")
	if err != nil {
		return nil, err
	}
	if err := audio.WriteWAVFile(path, pcm, testFormat); err != nil {
		return nil, err
	}
	return &voice.CompletedFile{Path: path}, nil
}

func (a *fakeActor) renderCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.renders)
}

type eventLog struct {
	mu     sync.Mutex
	events []voice.Event
}

func (l *eventLog) observe(ev voice.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) statesFor(speaker string) []voice.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []voice.State
	for _, ev := range l.events {
		if ev.Message.Speaker == speaker {
			out = append(out, ev.State)
		}
	}
	return out
}

func newManager(t *testing.T, sink *audiomock.Sink, actors []voice.Actor, opts ...voice.Option) *voice.Manager {
	t.Helper()
	opts = append([]voice.Option{voice.WithScratchRoot(t.TempDir())}, opts...)
	m, err := voice.NewManager(actors, sink, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func waitTicket(t *testing.T, tk *voice.Ticket) {
	t.Helper()
	select {
	case <-tk.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("ticket for %s stuck in %v", tk.Message().Speaker, tk.State())
	}
}

func scratchEntries(t *testing.T, m *voice.Manager) []string {
	t.Helper()
	entries, err := os.ReadDir(m.ScratchDir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func say(speaker, text string) chat.Message {
	return chat.NewMessage(speaker, chat.RoleAgent, text)
}

func TestManager_UnclaimedMessageIsSkipped(t *testing.T) {
	t.Parallel()
	sink := &audiomock.Sink{}
	garry := newFakeActor("garry-voice", "Garry")
	events := &eventLog{}
	m := newManager(t, sink, []voice.Actor{garry}, voice.WithObserver(events.observe))

	tk := m.Enqueue(say("Vex", "You will not hear me."))
	waitTicket(t, tk)

	if tk.State() != voice.StateDone || tk.Err() != nil {
		t.Errorf("state = %v, err = %v; want done, nil", tk.State(), tk.Err())
	}
	if tk.Actor() != "" {
		t.Errorf("Actor = %q, want empty", tk.Actor())
	}
	if err := m.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if n := len(sink.Playbacks()); n != 0 {
		t.Errorf("got %d playbacks, want 0", n)
	}
	if garry.renderCount() != 0 {
		t.Error("unclaiming actor was asked to render")
	}
	if names := scratchEntries(t, m); len(names) != 0 {
		t.Errorf("scratch dir not empty: %v", names)
	}
	if got := events.statesFor("Vex"); len(got) != 2 || got[0] != voice.StateQueued || got[1] != voice.StateDone {
		t.Errorf("states = %v, want [queued done]", got)
	}
}

func TestManager_PlaysInEnqueueOrder(t *testing.T) {
	t.Parallel()
	sink := &audiomock.Sink{}
	actor := newFakeActor("cast", "Slow", "Fast")
	actor.delay = map[string]time.Duration{"Slow": 200 * time.Millisecond}
	m := newManager(t, sink, []voice.Actor{actor}, voice.WithConcurrency(4))

	a := m.Enqueue(say("Slow", "first"))
	b := m.Enqueue(say("Fast", "second"))
	if err := m.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if a.State() != voice.StateDone || b.State() != voice.StateDone {
		t.Fatalf("states = %v, %v", a.State(), b.State())
	}

	plays := sink.Playbacks()
	if len(plays) != 2 {
		t.Fatalf("got %d playbacks, want 2", len(plays))
	}
	if string(plays[0].Data[:5]) != "first" || string(plays[1].Data[:6]) != "second" {
		t.Errorf("playback order wrong: %q then %q", plays[0].Data[:6], plays[1].Data[:6])
	}
	if plays[1].Started.Before(plays[0].Finished) {
		t.Error("second playback started before the first finished")
	}
	if sink.MaxConcurrent() != 1 {
		t.Errorf("MaxConcurrent = %d, want 1", sink.MaxConcurrent())
	}
}

func TestManager_StateTransitions(t *testing.T) {
	t.Parallel()
	events := &eventLog{}
	var (
		hookMu   sync.Mutex
		hookPath string
	)
	hook := func(msg chat.Message, path string) {
		hookMu.Lock()
		defer hookMu.Unlock()
		hookPath = path
	}
	m := newManager(t, &audiomock.Sink{}, []voice.Actor{newFakeActor("cast", "Vex")},
		voice.WithObserver(events.observe), voice.WithPlayedHook(hook))

	tk := m.Enqueue(say("Vex", "hello"))
	waitTicket(t, tk)

	want := []voice.State{voice.StateQueued, voice.StateRendering, voice.StatePlaying, voice.StateDone}
	got := events.statesFor("Vex")
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state %d = %v, want %v", i, got[i], want[i])
		}
	}

	hookMu.Lock()
	defer hookMu.Unlock()
	if filepath.Dir(hookPath) != m.ScratchDir() {
		t.Errorf("played hook path %q not in scratch dir %q", hookPath, m.ScratchDir())
	}
	if _, err := os.Stat(hookPath); !os.IsNotExist(err) {
		t.Errorf("played file still exists (err = %v)", err)
	}
}

func TestManager_RenderFailureDoesNotBlockLaterMessages(t *testing.T) {
	t.Parallel()
	sink := &audiomock.Sink{}
	actor := newFakeActor("cast", "Broken", "Fine")
	boom := errors.New("backend exploded")
	actor.fail = map[string]error{"Broken": boom}
	m := newManager(t, sink, []voice.Actor{actor})

	bad := m.Enqueue(say("Broken", "x"))
	good := m.Enqueue(say("Fine", "y"))
	if err := m.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if bad.State() != voice.StateFailed {
		t.Errorf("bad state = %v, want failed", bad.State())
	}
	var se *voice.SynthesisError
	if !errors.As(bad.Err(), &se) || se.Actor != "cast" || se.Speaker != "Broken" {
		t.Errorf("bad err = %v, want *SynthesisError for cast/Broken", bad.Err())
	}
	if !errors.Is(bad.Err(), boom) {
		t.Errorf("bad err does not wrap cause: %v", bad.Err())
	}
	if good.State() != voice.StateDone {
		t.Errorf("good state = %v, want done", good.State())
	}
	if n := len(sink.Playbacks()); n != 1 {
		t.Errorf("got %d playbacks, want 1", n)
	}
	if names := scratchEntries(t, m); len(names) != 0 {
		t.Errorf("scratch dir not empty: %v", names)
	}
}

func TestManager_DrainThenCancelLeavesNoScratchFiles(t *testing.T) {
	t.Parallel()
	sink := &audiomock.Sink{ChunkDelay: 100 * time.Millisecond}
	actor := newFakeActor("cast", "A", "B", "C")
	actor.delay = map[string]time.Duration{"B": 150 * time.Millisecond, "C": 300 * time.Millisecond}
	m := newManager(t, sink, []voice.Actor{actor}, voice.WithConcurrency(3))

	tickets := []*voice.Ticket{
		m.Enqueue(say("A", "one")),
		m.Enqueue(say("B", "two")),
		m.Enqueue(say("C", "three")),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := m.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain err = %v, want DeadlineExceeded", err)
	}

	// Suppressed renders keep running; wait for them to settle.
	if err := m.Drain(context.Background()); err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	for _, tk := range tickets {
		if tk.State() != voice.StateFailed || !errors.Is(tk.Err(), voice.ErrCancelled) {
			t.Errorf("%s: state = %v, err = %v; want failed/cancelled", tk.Message().Speaker, tk.State(), tk.Err())
		}
	}
	if names := scratchEntries(t, m); len(names) != 0 {
		t.Errorf("scratch dir not empty after cancel: %v", names)
	}
	if actor.renderCount() != 3 {
		t.Errorf("renders = %d, want all 3 to run to completion", actor.renderCount())
	}
	for _, p := range sink.Playbacks() {
		if !p.Interrupted {
			t.Errorf("playback of %d bytes completed despite cancel", len(p.Data))
		}
	}
}

func TestManager_EnqueueAfterCancelStillPlays(t *testing.T) {
	t.Parallel()
	sink := &audiomock.Sink{}
	m := newManager(t, sink, []voice.Actor{newFakeActor("cast", "A")})

	m.Cancel()
	tk := m.Enqueue(say("A", "after"))
	waitTicket(t, tk)
	if tk.State() != voice.StateDone {
		t.Errorf("state = %v, want done", tk.State())
	}
}

func TestManager_StreamRendering(t *testing.T) {
	t.Parallel()
	sink := &audiomock.Sink{}
	actor := newFakeActor("streamer", "Vex")
	actor.stream = true
	m := newManager(t, sink, []voice.Actor{actor})

	tk := m.Enqueue(say("Vex", "streamed"))
	waitTicket(t, tk)
	if tk.State() != voice.StateDone {
		t.Fatalf("state = %v, err = %v", tk.State(), tk.Err())
	}
	plays := sink.Playbacks()
	if len(plays) != 1 || plays[0].Format != testFormat {
		t.Fatalf("playbacks = %+v", plays)
	}
}

// slowStreamActor streams fixed-size chunks with a gap before each one and
// remembers when it closed the stream.
type slowStreamActor struct {
	*fakeActor
	chunks int
	gap    time.Duration

	closeMu  sync.Mutex
	closedAt time.Time
}

func (a *slowStreamActor) Render(ctx context.Context, _ chat.Message, _ voice.Scratch) (voice.Rendering, error) {
	ch := make(chan []byte)
	go func() {
		defer func() {
			a.closeMu.Lock()
			a.closedAt = time.Now()
			a.closeMu.Unlock()
			close(ch)
		}()
		for range a.chunks {
			select {
			case <-time.After(a.gap):
			case <-ctx.Done():
				return
			}
			select {
			case ch <- make([]byte, 160):
			case <-ctx.Done():
				return
			}
		}
	}()
	return voice.NewAudioStream(ch, testFormat), nil
}

func (a *slowStreamActor) closed() time.Time {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()
	return a.closedAt
}

func TestManager_StreamHoldsBackLaterMessages(t *testing.T) {
	t.Parallel()
	sink := &audiomock.Sink{}
	streamer := &slowStreamActor{fakeActor: newFakeActor("streamer", "A"), chunks: 5, gap: 30 * time.Millisecond}
	files := newFakeActor("files", "B")

	var (
		mu        sync.Mutex
		aPlayed   time.Time
		bRendered bool
	)
	observer := func(ev voice.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case ev.Message.Speaker == "A" && ev.State == voice.StatePlaying:
			aPlayed = time.Now()
		case ev.Message.Speaker == "B" && ev.State == voice.StateRendering:
			bRendered = true
		}
	}
	m := newManager(t, sink, []voice.Actor{streamer, files},
		voice.WithConcurrency(2), voice.WithObserver(observer))

	a := m.Enqueue(say("A", "streamed slowly"))
	b := m.Enqueue(say("B", "ready at once"))
	if err := m.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if a.State() != voice.StateDone || b.State() != voice.StateDone {
		t.Fatalf("states = %v (%v), %v (%v)", a.State(), a.Err(), b.State(), b.Err())
	}

	plays := sink.Playbacks()
	if len(plays) != 2 {
		t.Fatalf("got %d playbacks, want 2", len(plays))
	}
	if len(plays[0].Data) != 5*160 {
		t.Errorf("first playback has %d bytes, want the whole stream", len(plays[0].Data))
	}
	if plays[1].Started.Before(plays[0].Finished) {
		t.Error("file playback started before the stream finished")
	}

	mu.Lock()
	defer mu.Unlock()
	if !bRendered {
		t.Error("B was never rendered")
	}
	closedAt := streamer.closed()
	if aPlayed.IsZero() || !aPlayed.Before(closedAt) {
		t.Errorf("stream went playing at %v, want before its producer closed at %v", aPlayed, closedAt)
	}
}

// failingStreamActor returns a stream that ends with an error.
type failingStreamActor struct{ *fakeActor }

func (a failingStreamActor) Render(context.Context, chat.Message, voice.Scratch) (voice.Rendering, error) {
	ch := make(chan []byte, 1)
	s := voice.NewAudioStream(ch, testFormat)
	ch <- make([]byte, 16)
	s.Fail(errors.New("socket reset"))
	close(ch)
	return s, nil
}

func TestManager_StreamErrorFailsMessage(t *testing.T) {
	t.Parallel()
	m := newManager(t, &audiomock.Sink{}, []voice.Actor{failingStreamActor{newFakeActor("ws", "Vex")}})

	tk := m.Enqueue(say("Vex", "x"))
	waitTicket(t, tk)
	var se *voice.SynthesisError
	if tk.State() != voice.StateFailed || !errors.As(tk.Err(), &se) {
		t.Errorf("state = %v, err = %v; want failed with *SynthesisError", tk.State(), tk.Err())
	}
}

func TestManager_FirstClaimingActorWins(t *testing.T) {
	t.Parallel()
	first := newFakeActor("first", "Vex")
	second := newFakeActor("second", "Vex", "Garry")
	m := newManager(t, &audiomock.Sink{}, []voice.Actor{first, second})

	vex := m.Enqueue(say("vex", "a"))
	garry := m.Enqueue(say("GARRY", "b"))
	m.Drain(context.Background())

	if vex.Actor() != "first" || garry.Actor() != "second" {
		t.Errorf("actors = %q, %q; want first, second", vex.Actor(), garry.Actor())
	}
}

func TestManager_CloseSweepsAndRejects(t *testing.T) {
	t.Parallel()
	sink := &audiomock.Sink{}
	m, err := voice.NewManager(nil, sink, voice.WithScratchRoot(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	dir := m.ScratchDir()
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("scratch dir still exists (err = %v)", err)
	}
	if sink.CallCountClose != 1 {
		t.Errorf("sink closed %d times, want 1", sink.CallCountClose)
	}
	tk := m.Enqueue(say("A", "late"))
	waitTicket(t, tk)
	if !errors.Is(tk.Err(), voice.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", tk.Err())
	}
}
