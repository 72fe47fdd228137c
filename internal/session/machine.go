// Package session drives a troupe session: the standby, narrate and
// response control loop over the session log, the agents and the voice
// manager, plus LLM summaries of finished sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/troupe/internal/agent"
	"github.com/MrWong99/troupe/internal/observe"
	"github.com/MrWong99/troupe/internal/transcript"
	"github.com/MrWong99/troupe/internal/voice"
	"github.com/MrWong99/troupe/pkg/chat"
	"github.com/MrWong99/troupe/pkg/provider/stt"
)

// ErrInvalidTransition is returned when an operation is not allowed in the
// machine's current state.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// ErrEmptyText is returned by [Machine.Submit] for blank input.
var ErrEmptyText = errors.New("session: nothing to submit")

// ErrNoTranscriber is returned by [Machine.Transcribe] when no transcriber
// is configured.
var ErrNoTranscriber = errors.New("session: no transcriber configured")

// ErrUnknownAgent is returned by [Machine.RespondAgent] for names that match
// no configured agent.
var ErrUnknownAgent = errors.New("session: unknown agent")

// State is the machine's mode.
type State int

const (
	// StateStandby waits for the user.
	StateStandby State = iota
	// StateNarrate collects one narration or player line.
	StateNarrate
	// StateResponse asks the agents for replies.
	StateResponse
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateStandby:
		return "standby"
	case StateNarrate:
		return "narrate"
	case StateResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Voices is the part of [voice.Manager] the machine drives.
type Voices interface {
	Enqueue(msg chat.Message) *voice.Ticket
	Drain(ctx context.Context) error
	Cancel()
}

var _ Voices = (*voice.Manager)(nil)

// AgentResult reports one agent's turn in a response cycle. Exactly one of
// Message and Err is set. Ticket is nil when no voice manager is configured.
type AgentResult struct {
	Agent   string
	Message chat.Message
	Ticket  *voice.Ticket
	Err     error
}

// Config holds the machine's collaborators. Log is required.
type Config struct {
	Log    *chat.Log
	Agents []agent.Agent

	// Voices speaks agent replies and submitted player lines. Nil keeps the
	// session silent.
	Voices Voices

	// Transcriber fills the narrate draft from recordings. Nil disables
	// [Machine.Transcribe].
	Transcriber stt.Transcriber

	// Stream selects streaming transcription with partial updates.
	Stream bool

	// Corrector, if set, fixes misheard names in transcripts before they
	// become the draft.
	Corrector Corrector
}

// Corrector rewrites transcribed text. *transcript.Corrector implements it.
type Corrector interface {
	Correct(text string) (string, []transcript.Correction)
}

// Machine is the session's control loop. All methods are safe for
// concurrent use; long-running operations do not hold the machine's lock,
// so State can always be queried.
type Machine struct {
	log         *chat.Log
	agents      []agent.Agent
	voices      Voices
	transcriber stt.Transcriber
	stream      bool
	corrector   Corrector

	mu    sync.Mutex
	state State
	draft string
}

// New validates cfg and returns a machine in [StateStandby].
func New(cfg Config) (*Machine, error) {
	if cfg.Log == nil {
		return nil, errors.New("session: Log must not be nil")
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if a == nil {
			return nil, fmt.Errorf("session: agent %d is nil", i)
		}
		key := strings.ToLower(a.Name())
		if seen[key] {
			return nil, fmt.Errorf("session: duplicate agent %q", a.Name())
		}
		seen[key] = true
	}
	return &Machine{
		log:         cfg.Log,
		agents:      append([]agent.Agent(nil), cfg.Agents...),
		voices:      cfg.Voices,
		transcriber: cfg.Transcriber,
		stream:      cfg.Stream,
		corrector:   cfg.Corrector,
	}, nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Log returns the session log.
func (m *Machine) Log() *chat.Log { return m.log }

// AgentNames returns the agents' names in response order.
func (m *Machine) AgentNames() []string {
	names := make([]string, len(m.agents))
	for i, a := range m.agents {
		names[i] = a.Name()
	}
	return names
}

// Voiced reports whether lines are handed to a voice manager.
func (m *Machine) Voiced() bool { return m.voices != nil }

// CanTranscribe reports whether a transcriber is configured.
func (m *Machine) CanTranscribe() bool { return m.transcriber != nil }

// Draft returns the text collected by [Machine.Transcribe] since narrate
// began.
func (m *Machine) Draft() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draft
}

func (m *Machine) transition(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return fmt.Errorf("%w: %s to %s while in %s", ErrInvalidTransition, from, to, m.state)
	}
	m.state = to
	if to == StateNarrate || from == StateNarrate {
		m.draft = ""
	}
	return nil
}

// BeginNarrate moves from standby to narrate.
func (m *Machine) BeginNarrate() error {
	return m.transition(StateStandby, StateNarrate)
}

// CancelNarrate returns to standby without appending anything.
func (m *Machine) CancelNarrate() error {
	return m.transition(StateNarrate, StateStandby)
}

// Submit appends one narration or player line and returns to standby. An
// empty narration speaker becomes [chat.NarrationSpeaker]. Player lines are
// handed to the voice manager. On a blank line or a failed append the
// machine stays in narrate so the user can retry.
func (m *Machine) Submit(speaker string, role chat.Role, text string) (chat.Message, error) {
	if role != chat.RoleNarration && role != chat.RolePlayer {
		return chat.Message{}, fmt.Errorf("session: cannot submit a %s message", role)
	}
	text = strings.TrimSpace(text)
	if speaker = strings.TrimSpace(speaker); speaker == "" && role == chat.RoleNarration {
		speaker = chat.NarrationSpeaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateNarrate {
		return chat.Message{}, fmt.Errorf("%w: submit while in %s", ErrInvalidTransition, m.state)
	}
	if text == "" {
		return chat.Message{}, ErrEmptyText
	}
	msg, err := m.log.Append(chat.NewMessage(speaker, role, text))
	if err != nil {
		return chat.Message{}, err
	}
	m.state = StateStandby
	m.draft = ""
	if role.Spoken() && m.voices != nil {
		m.voices.Enqueue(msg)
	}
	return msg, nil
}

// Transcribe converts the recording at path to text and stores it as the
// draft. It is only valid in narrate and does not leave it. With streaming
// enabled, onPartial (which may be nil) receives the growing transcript.
// Name corrections apply to the returned text and the draft only.
func (m *Machine) Transcribe(ctx context.Context, path string, onPartial func(stt.Partial)) (string, error) {
	if m.transcriber == nil {
		return "", ErrNoTranscriber
	}
	if s := m.State(); s != StateNarrate {
		return "", fmt.Errorf("%w: transcribe while in %s", ErrInvalidTransition, s)
	}

	ctx, span := observe.StartSpan(ctx, "session.transcribe")
	var (
		text string
		err  error
	)
	if m.stream {
		text, err = m.transcriber.TranscribeStream(ctx, path, func(p stt.Partial) {
			if onPartial != nil {
				onPartial(p)
			}
		})
		if errors.Is(err, stt.ErrCapabilityUnsupported) {
			observe.Logger(ctx).Debug("session: transcriber cannot stream, using a single result")
			text, err = m.transcriber.Transcribe(ctx, path)
		}
	} else {
		text, err = m.transcriber.Transcribe(ctx, path)
	}
	observe.EndSpan(span, err)
	if err != nil {
		return "", fmt.Errorf("session: transcribe: %w", err)
	}
	if m.corrector != nil {
		var fixes []transcript.Correction
		if text, fixes = m.corrector.Correct(text); len(fixes) > 0 {
			observe.Logger(ctx).Debug("session: corrected names in transcript", "corrections", fixes)
		}
	}

	m.mu.Lock()
	if m.state == StateNarrate {
		m.draft = strings.TrimSpace(text)
	}
	m.mu.Unlock()
	return text, nil
}

// Respond runs one response cycle: every agent, in configured order, is
// asked for a reply to the log as it stands at its turn. Each reply is
// appended and handed to the voice manager before the next agent is asked.
// report is called once per agent; a failing agent is reported and skipped.
// The machine always returns to standby. The returned error is
// [ErrInvalidTransition] or, if ctx ended the cycle early, ctx.Err().
func (m *Machine) Respond(ctx context.Context, report func(AgentResult)) error {
	return m.respond(ctx, m.agents, report)
}

// RespondAgent runs a response cycle for the named agent only.
func (m *Machine) RespondAgent(ctx context.Context, name string, report func(AgentResult)) error {
	for _, a := range m.agents {
		if strings.EqualFold(a.Name(), name) {
			return m.respond(ctx, []agent.Agent{a}, report)
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownAgent, name)
}

func (m *Machine) respond(ctx context.Context, agents []agent.Agent, report func(AgentResult)) error {
	if err := m.transition(StateStandby, StateResponse); err != nil {
		return err
	}
	defer func() {
		m.mu.Lock()
		m.state = StateStandby
		m.mu.Unlock()
	}()
	if report == nil {
		report = func(AgentResult) {}
	}

	for _, a := range agents {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := AgentResult{Agent: a.Name()}
		msg, err := a.Respond(ctx, m.log)
		if err == nil {
			msg, err = m.log.Append(msg)
		}
		if err != nil {
			observe.Logger(ctx).Warn("session: agent turn failed", "agent", a.Name(), "err", err)
			res.Err = err
			report(res)
			continue
		}
		res.Message = msg
		if m.voices != nil {
			res.Ticket = m.voices.Enqueue(msg)
		}
		report(res)
	}
	return ctx.Err()
}

// StopAudio cancels pending and current playback. In-flight renders finish
// in the background.
func (m *Machine) StopAudio() {
	if m.voices != nil {
		m.voices.Cancel()
	}
}

// Drain waits until every line handed to the voice manager has played or
// failed. See [voice.Manager.Drain].
func (m *Machine) Drain(ctx context.Context) error {
	if m.voices == nil {
		return nil
	}
	return m.voices.Drain(ctx)
}
