package tui

import (
	"context"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/MrWong99/troupe/internal/session"
	"github.com/MrWong99/troupe/internal/voice"
	"github.com/MrWong99/troupe/pkg/chat"
	"github.com/MrWong99/troupe/pkg/provider/stt"
)

// eventBuffer bounds the number of undelivered background events.
const eventBuffer = 512

type (
	appendedMsg chat.Message
	voiceMsg    voice.Event
	agentMsg    session.AgentResult
	partialMsg  stt.Partial

	// recordingMsg carries the length of the running take.
	recordingMsg time.Duration

	respondDoneMsg struct{ err error }
	drainedMsg     struct{ err error }

	transcribedMsg struct {
		text string
		err  error
	}
)

// Events carries notifications from background goroutines into the UI
// loop. Sends never block; when the UI falls behind, events are dropped and
// logged.
type Events struct {
	ch chan tea.Msg
}

// NewEvents returns an empty event queue.
func NewEvents() *Events {
	return &Events{ch: make(chan tea.Msg, eventBuffer)}
}

// Voice forwards a voice manager state change. Pass it to
// [voice.WithObserver].
func (e *Events) Voice(ev voice.Event) { e.send(voiceMsg(ev)) }

func (e *Events) appended(m chat.Message) { e.send(appendedMsg(m)) }

func (e *Events) agent(r session.AgentResult) { e.send(agentMsg(r)) }

func (e *Events) partial(p stt.Partial) { e.send(partialMsg(p)) }

func (e *Events) recording(d time.Duration) { e.send(recordingMsg(d)) }

func (e *Events) send(msg tea.Msg) {
	select {
	case e.ch <- msg:
	default:
		slog.Warn("tui: event queue full, dropping event", "event", msg)
	}
}

// wait delivers the next queued event.
func (e *Events) wait() tea.Cmd {
	return func() tea.Msg {
		return <-e.ch
	}
}

func respondCmd(ctx context.Context, m *session.Machine, events *Events, agentName string) tea.Cmd {
	return func() tea.Msg {
		var err error
		if agentName == "" {
			err = m.Respond(ctx, events.agent)
		} else {
			err = m.RespondAgent(ctx, agentName, events.agent)
		}
		return respondDoneMsg{err: err}
	}
}

// drainCmd waits for every queued voice line. Cancelling ctx abandons them.
func drainCmd(ctx context.Context, m *session.Machine) tea.Cmd {
	return func() tea.Msg {
		return drainedMsg{err: m.Drain(ctx)}
	}
}

// transcribeCmd transcribes path. release, if set, runs afterwards to delete
// a recording.
func transcribeCmd(ctx context.Context, m *session.Machine, events *Events, path string, release func() error) tea.Cmd {
	return func() tea.Msg {
		text, err := m.Transcribe(ctx, path, events.partial)
		if release != nil {
			if rerr := release(); rerr != nil {
				slog.Warn("tui: failed to delete recording", "path", path, "err", rerr)
			}
		}
		return transcribedMsg{text: text, err: err}
	}
}
