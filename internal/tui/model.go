// Package tui is the terminal front end of a troupe session. It renders the
// session log with each line's voice state and drives a [session.Machine]
// from the keyboard. Agent replies and transcriptions run as background
// commands, so the interface keeps redrawing while they work.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/MrWong99/troupe/internal/session"
	"github.com/MrWong99/troupe/internal/voice"
	"github.com/MrWong99/troupe/pkg/chat"
)

const (
	maxNotices  = 3
	inputHeight = 3
	ellipsis    = "…"
)

// Options configures the interface.
type Options struct {
	// PlayerName is the speaker of lines typed with the player key.
	PlayerName string

	// Recorder captures narration for transcription. Nil disables ctrl+r.
	Recorder *voice.Recorder
}

type model struct {
	ctx     context.Context
	machine *session.Machine
	events  *Events
	opts    Options

	keys     keyMap
	help     help.Model
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	messages []chat.Message
	voices   map[uuid.UUID]voice.Event
	notices  []string

	role   chat.Role
	busy   string
	cancel context.CancelFunc

	take     *voice.Take
	recorded time.Duration

	width, height int
	ready         bool
}

// Run starts the interface and blocks until the user quits or ctx is
// cancelled. Playback is stopped on the way out.
func Run(ctx context.Context, m *session.Machine, events *Events, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mdl := newModel(ctx, m, events, opts)
	unsubscribe := m.Log().Subscribe(events.appended)
	defer unsubscribe()

	slog.Debug("tui: starting", "agents", m.AgentNames(), "messages", len(mdl.messages))
	p := tea.NewProgram(mdl, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	m.StopAudio()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func newModel(ctx context.Context, m *session.Machine, events *Events, opts Options) model {
	if opts.PlayerName == "" {
		opts.PlayerName = "Player"
	}
	in := textarea.New()
	in.Placeholder = "What happens next?"
	in.ShowLineNumbers = false
	in.SetHeight(inputHeight)

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(titleStyle))

	mdl := model{
		ctx:      ctx,
		machine:  m,
		events:   events,
		opts:     opts,
		keys:     newKeyMap(),
		help:     help.New(),
		viewport: viewport.New(80, 20),
		input:    in,
		spinner:  sp,
		messages: m.Log().Messages(),
		voices:   make(map[uuid.UUID]voice.Event),
		role:     chat.RolePlayer,
	}
	mdl.keys.narrating(false)
	return mdl
}

func (m model) Init() tea.Cmd {
	return m.events.wait()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()

	case tea.KeyMsg:
		return m.handleKey(msg)

	case appendedMsg:
		m.messages = append(m.messages, chat.Message(msg))
		m.refresh(true)
		cmds = append(cmds, m.events.wait())

	case voiceMsg:
		ev := voice.Event(msg)
		m.voices[ev.Message.ID] = ev
		if ev.State == voice.StateFailed && !cancelled(ev.Err) {
			m.notify(fmt.Sprintf("voice for %s failed: %v", ev.Message.Speaker, ev.Err))
		}
		m.refresh(false)
		cmds = append(cmds, m.events.wait())

	case agentMsg:
		if !cancelled(msg.Err) {
			m.notify(fmt.Sprintf("%s could not answer: %v", msg.Agent, msg.Err))
		}
		cmds = append(cmds, m.events.wait())

	case partialMsg:
		if m.machine.State() == session.StateNarrate {
			m.input.SetValue(msg.Text)
		}
		cmds = append(cmds, m.events.wait())

	case recordingMsg:
		if m.take != nil {
			m.recorded = time.Duration(msg)
		}
		cmds = append(cmds, m.events.wait())

	case respondDoneMsg:
		m.idle()
		switch {
		case errors.Is(msg.err, context.Canceled):
			m.machine.StopAudio()
		case m.machine.Voiced():
			// The next turn waits until every reply has been heard.
			cmds = append(cmds, drainCmd(m.startBusy("voices playing"), m.machine))
		}
		if !cancelled(msg.err) {
			m.notify(msg.err.Error())
		}

	case drainedMsg:
		m.idle()
		if !cancelled(msg.err) {
			m.notify(msg.err.Error())
		}

	case transcribedMsg:
		m.idle()
		switch {
		case !cancelled(msg.err):
			m.notify(msg.err.Error())
		case msg.err == nil && m.machine.State() == session.StateNarrate:
			m.input.SetValue(m.machine.Draft())
		}

	case spinner.TickMsg:
		if m.busy == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	default:
		if m.input.Focused() {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m.quit()
	}

	if m.busy != "" {
		typing := m.input.Focused()
		switch msg.String() {
		case "esc":
			m.cancel()
		case "s":
			if !typing {
				m.machine.StopAudio()
			}
		case "q":
			if !typing {
				return m.quit()
			}
		}
		return m, nil
	}

	if m.machine.State() == session.StateNarrate {
		return m.handleNarrateKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.layout()
	case key.Matches(msg, m.keys.Narrate):
		return m.beginNarrate(chat.RolePlayer)
	case key.Matches(msg, m.keys.Narration):
		return m.beginNarrate(chat.RoleNarration)
	case key.Matches(msg, m.keys.Respond):
		return m.respond("")
	case key.Matches(msg, m.keys.RespondOne):
		names := m.machine.AgentNames()
		i := int(msg.Runes[0] - '1')
		if i >= len(names) {
			m.notify(fmt.Sprintf("there is no agent %d", i+1))
			return m, nil
		}
		return m.respond(names[i])
	case key.Matches(msg, m.keys.Stop):
		m.machine.StopAudio()
	case key.Matches(msg, m.keys.Scroll):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) handleNarrateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.take != nil {
		switch {
		case key.Matches(msg, m.keys.Record):
			return m.stopRecording()
		case key.Matches(msg, m.keys.Cancel):
			m.discardRecording()
		default:
			return m, nil
		}
	}

	switch {
	case key.Matches(msg, m.keys.Record):
		return m.startRecording()

	case key.Matches(msg, m.keys.Cancel):
		if err := m.machine.CancelNarrate(); err != nil {
			m.notify(err.Error())
		}
		m.endNarrate()
		return m, nil

	case key.Matches(msg, m.keys.SwitchRole):
		if m.role == chat.RolePlayer {
			m.role = chat.RoleNarration
		} else {
			m.role = chat.RolePlayer
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		speaker := m.opts.PlayerName
		if m.role == chat.RoleNarration {
			speaker = chat.NarrationSpeaker
		}
		if _, err := m.machine.Submit(speaker, m.role, m.input.Value()); err != nil {
			m.notify(err.Error())
			return m, nil
		}
		m.endNarrate()
		return m, nil

	case key.Matches(msg, m.keys.Transcribe):
		path := strings.TrimSpace(m.input.Value())
		switch {
		case !m.machine.CanTranscribe():
			m.notify(session.ErrNoTranscriber.Error())
			return m, nil
		case path == "":
			m.notify("type the path of a recording, then press ctrl+t")
			return m, nil
		}
		ctx := m.startBusy("transcribing " + path)
		return m, tea.Batch(transcribeCmd(ctx, m.machine, m.events, path, nil), m.spinner.Tick)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) startRecording() (tea.Model, tea.Cmd) {
	switch {
	case !m.machine.CanTranscribe():
		m.notify(session.ErrNoTranscriber.Error())
		return m, nil
	case m.opts.Recorder == nil:
		m.notify("recording is off; set audio.input to microphone")
		return m, nil
	}
	take, err := m.opts.Recorder.Start(m.ctx, m.events.recording)
	if err != nil {
		m.notify(err.Error())
		return m, nil
	}
	m.take = take
	m.recorded = 0
	return m, nil
}

// stopRecording ends the take and transcribes it. The file is deleted once
// the transcript is in.
func (m model) stopRecording() (tea.Model, tea.Cmd) {
	take := m.take
	m.take = nil
	path, err := take.Stop()
	if err != nil {
		_ = take.Close()
		m.notify(err.Error())
		return m, nil
	}
	ctx := m.startBusy("transcribing recording")
	return m, tea.Batch(transcribeCmd(ctx, m.machine, m.events, path, take.Close), m.spinner.Tick)
}

func (m *model) discardRecording() {
	if m.take == nil {
		return
	}
	if err := m.take.Close(); err != nil {
		slog.Warn("tui: failed to discard recording", "err", err)
	}
	m.take = nil
}

func (m model) beginNarrate(role chat.Role) (tea.Model, tea.Cmd) {
	if err := m.machine.BeginNarrate(); err != nil {
		m.notify(err.Error())
		return m, nil
	}
	m.role = role
	m.keys.narrating(true)
	m.input.Reset()
	m.layout()
	return m, m.input.Focus()
}

func (m *model) endNarrate() {
	m.input.Reset()
	m.input.Blur()
	m.keys.narrating(false)
	m.layout()
}

func (m model) respond(agentName string) (tea.Model, tea.Cmd) {
	label := "agents are responding"
	if agentName != "" {
		label = agentName + " is responding"
	}
	ctx := m.startBusy(label)
	return m, tea.Batch(respondCmd(ctx, m.machine, m.events, agentName), m.spinner.Tick)
}

func (m *model) startBusy(label string) context.Context {
	ctx, cancel := context.WithCancel(m.ctx)
	m.busy = label
	m.cancel = cancel
	return ctx
}

func (m *model) idle() {
	if m.cancel != nil {
		m.cancel()
	}
	m.busy = ""
	m.cancel = nil
}

func (m model) quit() (tea.Model, tea.Cmd) {
	if m.cancel != nil {
		m.cancel()
	}
	m.discardRecording()
	m.machine.StopAudio()
	return m, tea.Quit
}

// cancelled reports whether err is absent or only says the user stopped the
// work.
func cancelled(err error) bool {
	return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, voice.ErrCancelled)
}

func clock(d time.Duration) string {
	s := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func (m *model) notify(s string) {
	slog.Debug("tui: notice", "text", s)
	m.notices = append(m.notices, s)
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
	m.layout()
}

func (m *model) layout() {
	if !m.ready {
		return
	}
	m.help.Width = m.width
	m.input.SetWidth(max(m.width-2, 10))

	used := 1 + len(m.notices) + lipgloss.Height(m.help.View(m.keys))
	if m.input.Focused() || m.machine.State() == session.StateNarrate {
		used += inputHeight + 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-used, 1)
	m.refresh(true)
}

// refresh re-renders the log. With follow set, the view jumps to the newest
// line if it was already at the bottom.
func (m *model) refresh(follow bool) {
	atBottom := m.viewport.AtBottom()
	lines := make([]string, len(m.messages))
	for i, msg := range m.messages {
		lines[i] = m.renderMessage(msg)
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	if follow && atBottom {
		m.viewport.GotoBottom()
	}
}

func (m model) renderMessage(msg chat.Message) string {
	style, ok := speakerStyles[string(msg.Role)]
	if !ok {
		style = lipgloss.NewStyle()
	}
	speaker := msg.Speaker
	if msg.Role == chat.RoleNarration && (speaker == "" || speaker == chat.NarrationSpeaker) {
		speaker = "Narrator"
	}
	line := timeStyle.Render(msg.Timestamp.Local().Format("15:04")) + " " +
		style.Render(speaker) + " " + msg.Content
	if ev, ok := m.voices[msg.ID]; ok {
		if badge := voiceBadge(ev); badge != "" {
			line += " " + voiceStyle.Render(badge)
		}
	}
	return lipgloss.NewStyle().Width(max(m.viewport.Width, 20)).Render(line)
}

func voiceBadge(ev voice.Event) string {
	switch ev.State {
	case voice.StateDone:
		if ev.Actor == "" {
			return ""
		}
		return "✓"
	case voice.StateFailed:
		return "✗"
	case voice.StatePlaying:
		return "♪ " + ev.Actor
	default:
		return ev.State.String() + ellipsis
	}
}

func (m model) View() string {
	if !m.ready {
		return "loading" + ellipsis
	}
	var b strings.Builder

	header := titleStyle.Render("troupe") + " " + stateStyle.Render(m.machine.State().String())
	if m.busy != "" {
		header += " " + m.spinner.View() + " " + m.busy
	}
	b.WriteString(header + "\n")
	b.WriteString(m.viewport.View() + "\n")

	for _, n := range m.notices {
		b.WriteString(errorStyle.Render("! "+n) + "\n")
	}

	if m.machine.State() == session.StateNarrate {
		label := m.opts.PlayerName + " says"
		if m.role == chat.RoleNarration {
			label = "Narration"
		}
		if m.take != nil {
			label += " " + errorStyle.Render("● recording "+clock(m.recorded))
		}
		b.WriteString(promptStyle.Render(label) + "\n")
		b.WriteString(inputBorder.Render(m.input.View()) + "\n")
	}

	b.WriteString(m.help.View(m.keys))
	return b.String()
}
