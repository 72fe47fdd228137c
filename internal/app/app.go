// Package app wires a troupe session together from its configuration.
//
// The App struct owns the full lifecycle: New opens the session log, builds
// the agents, voice actors, transcriber and audio device through the
// backend registry, and joins them in a [session.Machine]. Shutdown tears
// everything down in reverse order.
//
// For testing, inject doubles via functional options (WithLog, WithSink).
// When an option is not provided, New creates the real implementation from
// the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"sync"

	"golang.org/x/time/rate"

	"github.com/MrWong99/troupe/internal/agent"
	"github.com/MrWong99/troupe/internal/agent/transform"
	"github.com/MrWong99/troupe/internal/config"
	"github.com/MrWong99/troupe/internal/observe"
	"github.com/MrWong99/troupe/internal/resilience"
	"github.com/MrWong99/troupe/internal/session"
	"github.com/MrWong99/troupe/internal/transcript"
	"github.com/MrWong99/troupe/internal/voice"
	"github.com/MrWong99/troupe/internal/voice/actors/stream"
	"github.com/MrWong99/troupe/pkg/audio"
	"github.com/MrWong99/troupe/pkg/audio/mic"
	"github.com/MrWong99/troupe/pkg/audio/oto"
	"github.com/MrWong99/troupe/pkg/chat"
	"github.com/MrWong99/troupe/pkg/provider/llm"
	"github.com/MrWong99/troupe/pkg/provider/stt"
)

// App owns every subsystem of a running session.
type App struct {
	cfg *config.Config
	reg *config.Registry
	met *observe.Metrics

	// Subsystems, initialised in New and torn down in Shutdown.
	log         *chat.Log
	agents      []agent.Agent
	actors      []voice.Actor
	transcriber stt.Transcriber
	corrector   *transcript.Corrector
	sink        audio.Sink
	source      audio.Source
	recorder    *voice.Recorder
	voices      *voice.Manager
	machine     *session.Machine

	observer func(voice.Event)

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLog uses l instead of opening session.messages_path. The caller keeps
// ownership of l.
func WithLog(l *chat.Log) Option {
	return func(a *App) { a.log = l }
}

// WithSink uses s instead of opening audio.device. Ownership of s passes to
// the voice manager, which closes it on Shutdown.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithSource records narration from s instead of the microphone.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithVoiceObserver receives every voice manager state change.
func WithVoiceObserver(fn func(voice.Event)) Option {
	return func(a *App) { a.observer = fn }
}

// WithMetrics records into met instead of [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(a *App) { a.met = met }
}

// New builds an App from cfg. Backends are created through reg. On error,
// everything already opened is closed again.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (_ *App, err error) {
	if cfg == nil || reg == nil {
		return nil, fmt.Errorf("app: config and registry are required")
	}
	a := &App{cfg: cfg, reg: reg}
	for _, o := range opts {
		o(a)
	}
	if a.met == nil {
		a.met = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if err := a.initLog(); err != nil {
		return nil, fmt.Errorf("app: open session log: %w", err)
	}
	if err := a.initAgents(); err != nil {
		return nil, fmt.Errorf("app: init agents: %w", err)
	}
	if err := a.initActors(); err != nil {
		return nil, fmt.Errorf("app: init voice actors: %w", err)
	}
	if err := a.initTranscriber(); err != nil {
		return nil, fmt.Errorf("app: init transcriber: %w", err)
	}
	if err := a.initSink(); err != nil {
		return nil, fmt.Errorf("app: open audio device: %w", err)
	}
	if err := a.initVoices(); err != nil {
		return nil, fmt.Errorf("app: init voice manager: %w", err)
	}
	if err := a.initRecorder(); err != nil {
		return nil, fmt.Errorf("app: init recorder: %w", err)
	}

	sc := session.Config{
		Log:         a.log,
		Agents:      a.agents,
		Voices:      a.voices,
		Transcriber: a.transcriber,
		Stream:      cfg.Transcriber.Stream,
	}
	if a.corrector != nil {
		sc.Corrector = a.corrector
	}
	a.machine, err = session.New(sc)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	observe.Logger(ctx).Info("session ready",
		"messages", a.log.Len(),
		"path", a.log.Path(),
		"agents", a.machine.AgentNames(),
		"voice_actors", len(a.actors),
		"transcriber", cfg.Transcriber.Name,
		"device", cfg.Audio.Device,
		"recording", a.recorder != nil,
	)
	return a, nil
}

// Machine returns the session's control loop.
func (a *App) Machine() *session.Machine { return a.machine }

// Log returns the session log.
func (a *App) Log() *chat.Log { return a.log }

// Recorder returns the narration recorder, or nil when no transcriber is
// configured or audio.input is none.
func (a *App) Recorder() *voice.Recorder { return a.recorder }

// Voices returns the voice manager.
func (a *App) Voices() *voice.Manager { return a.voices }

// ─── Init helpers ────────────────────────────────────────────────────────────

// initLog opens the persisted log, creating the file on first use.
func (a *App) initLog() error {
	if a.log != nil {
		return nil
	}
	l, err := chat.Open(a.cfg.Session.MessagesPath)
	if err != nil {
		return err
	}
	a.log = l
	a.closers = append(a.closers, l.Close)
	return nil
}

func (a *App) initAgents() error {
	for _, ac := range a.cfg.Agents {
		ag, err := a.buildAgent(ac)
		if err != nil {
			return fmt.Errorf("agent %q: %w", ac.Name, err)
		}
		a.agents = append(a.agents, ag)
		slog.Debug("agent created", "name", ac.Name, "backend", ac.Backend.Name)
	}
	return nil
}

func (a *App) buildAgent(ac config.AgentConfig) (agent.Agent, error) {
	if ac.IsFixed() {
		tr, err := a.buildTransformers(ac, nil)
		if err != nil {
			return nil, err
		}
		return agent.NewFixed(ac.Name, ac.Reply, tr), nil
	}

	prompt, err := agent.LoadPrompt(agent.PromptFiles{
		Prefix: a.cfg.Prompts.PrefixPath,
		Path:   ac.PromptPath,
		Suffix: a.cfg.Prompts.SuffixPath,
	}, agent.PromptVars{Name: ac.Name, Model: ac.Backend.Model})
	if err != nil {
		return nil, err
	}

	p, err := BuildLLM(a.reg, ac.Backend, ac.Fallbacks, a.met)
	if err != nil {
		return nil, err
	}
	tr, err := a.buildTransformers(ac, p)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if rl := ac.RateLimit; rl != nil {
		limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerMinute/60), rl.Burst)
	}
	return agent.NewLLM(agent.LLMConfig{
		Name:         ac.Name,
		Provider:     p,
		SystemPrompt: prompt,
		Temperature:  ac.Temperature,
		MaxTokens:    ac.MaxTokens,
		TokenBudget:  ac.MaxContextTokens,
		Limiter:      limiter,
		Transformer:  tr,
		Metrics:      a.met,
	})
}

// buildTransformers assembles the agent's reply chain. Transformers without
// a backend of their own share the agent's provider.
func (a *App) buildTransformers(ac config.AgentConfig, agentLLM llm.Provider) (transform.Transformer, error) {
	if len(ac.Transformers) == 0 {
		return nil, nil
	}
	chain := make(transform.Sequential, 0, len(ac.Transformers))
	for i, tc := range ac.Transformers {
		switch tc.Name {
		case config.TransformNoop:
			chain = append(chain, transform.Noop{})
		case config.TransformStripPrefix:
			chain = append(chain, transform.StripPrefix{})
		case config.TransformAudioTags:
			p := agentLLM
			if tc.Backend != nil && tc.Backend.Name != "" {
				var err error
				if p, err = a.reg.CreateLLM(*tc.Backend); err != nil {
					return nil, fmt.Errorf("transformers[%d]: %w", i, err)
				}
			}
			var prompt string
			if tc.PromptPath != "" {
				raw, err := os.ReadFile(tc.PromptPath)
				if err != nil {
					return nil, fmt.Errorf("transformers[%d]: read prompt: %w", i, err)
				}
				prompt = string(raw)
			}
			tags, err := transform.NewAudioTags(p, prompt)
			if err != nil {
				return nil, fmt.Errorf("transformers[%d]: %w", i, err)
			}
			chain = append(chain, tags)
		default:
			return nil, fmt.Errorf("transformers[%d]: unknown transformer %q", i, tc.Name)
		}
	}
	return chain, nil
}

func (a *App) initActors() error {
	for _, vc := range a.cfg.VoiceActors {
		act, err := a.buildActor(vc)
		if err != nil {
			return fmt.Errorf("voice actor %q: %w", vc.DisplayName(), err)
		}
		a.actors = append(a.actors, act)
		slog.Debug("voice actor created", "name", act.Name(), "type", vc.Type, "speakers", len(vc.Speakers))
	}
	return nil
}

// buildActor prefers a registered actor factory. Other types are streaming
// TTS backends, wrapped in a stream actor together with their fallbacks.
func (a *App) buildActor(vc config.VoiceActorConfig) (voice.Actor, error) {
	if a.reg.HasActor(vc.Type) {
		return a.reg.CreateActor(vc)
	}
	p, err := a.reg.CreateTTS(vc.Entry())
	if err != nil {
		return nil, err
	}
	if len(vc.Fallbacks) > 0 {
		fb := resilience.NewTTSFallback(p, vc.Type, resilience.FallbackConfig{Kind: "tts", Metrics: a.met})
		for _, f := range vc.Fallbacks {
			q, err := a.reg.CreateTTS(f.ProviderEntry)
			if err != nil {
				return nil, fmt.Errorf("fallback %q: %w", f.Name, err)
			}
			speakers := f.Speakers
			if len(speakers) == 0 {
				speakers = vc.Speakers
			}
			fb.AddFallback(f.Name, stream.Remap(q, speakers))
		}
		p = fb
	}
	return stream.New(vc.DisplayName(), p, vc.Speakers), nil
}

func (a *App) initTranscriber() error {
	tc := a.cfg.Transcriber
	if tc.Name == "" {
		return nil
	}
	t, err := a.reg.CreateSTT(tc.ProviderEntry)
	if err != nil {
		return err
	}
	if len(tc.Fallbacks) > 0 {
		fb := resilience.NewTranscriberFallback(t, tc.Name, resilience.FallbackConfig{Kind: "stt", Metrics: a.met})
		for _, e := range tc.Fallbacks {
			q, err := a.reg.CreateSTT(e)
			if err != nil {
				return fmt.Errorf("fallback %q: %w", e.Name, err)
			}
			fb.AddFallback(e.Name, q)
		}
		t = fb
	}
	a.transcriber = t
	if tc.CorrectNames {
		a.corrector = transcript.New(a.vocabulary())
	}
	return nil
}

// vocabulary returns the names transcripts are corrected against: agents,
// voiced speakers and the configured extra words.
func (a *App) vocabulary() []string {
	var names []string
	for _, ac := range a.cfg.Agents {
		names = append(names, ac.Name)
	}
	for _, vc := range a.cfg.VoiceActors {
		names = append(names, slices.Sorted(maps.Keys(vc.Speakers))...)
	}
	return append(names, a.cfg.Transcriber.Vocabulary...)
}

func (a *App) initSink() error {
	if a.sink != nil {
		return nil
	}
	switch a.cfg.Audio.Device {
	case config.DeviceNone:
		a.sink = audio.Discard{}
	default:
		s, err := oto.New()
		if err != nil {
			return err
		}
		a.sink = s
	}
	return nil
}

func (a *App) initVoices() error {
	opts := []voice.Option{
		voice.WithConcurrency(a.cfg.Audio.RenderConcurrency),
		voice.WithScratchRoot(a.cfg.Audio.ScratchRoot),
		voice.WithMetrics(a.met),
		voice.WithPlayedHook(a.attachAudio),
	}
	if a.observer != nil {
		opts = append(opts, voice.WithObserver(a.observer))
	}
	m, err := voice.NewManager(a.actors, a.sink, opts...)
	if err != nil {
		return errors.Join(err, a.sink.Close())
	}
	a.voices = m
	a.closers = append(a.closers, m.Close)
	return nil
}

func (a *App) initRecorder() error {
	if a.transcriber == nil || (a.source == nil && a.cfg.Audio.Input == config.InputNone) {
		return nil
	}
	if a.source == nil {
		src, err := mic.New(mic.WithFormat(audio.Format{SampleRate: a.cfg.Audio.InputSampleRate, Channels: 1}))
		if err != nil {
			return err
		}
		a.source = src
	}
	r, err := voice.NewRecorder(a.source, voice.WithRecordingRoot(a.cfg.Audio.ScratchRoot))
	if err != nil {
		return err
	}
	a.recorder = r
	a.closers = append(a.closers, r.Close)
	return nil
}

// attachAudio records the played file on its message. The path is a hint:
// played scratch files are deleted right after.
func (a *App) attachAudio(msg chat.Message, path string) {
	if err := a.log.AttachAudio(msg.ID, path); err != nil {
		slog.Warn("failed to record audio path", "id", msg.ID, "speaker", msg.Speaker, "err", err)
	}
}

// ─── Shared builders ─────────────────────────────────────────────────────────

// BuildLLM creates the provider named by primary, wrapped in a fallback
// group when fallbacks are configured.
func BuildLLM(reg *config.Registry, primary config.ProviderEntry, fallbacks []config.ProviderEntry, met *observe.Metrics) (llm.Provider, error) {
	p, err := reg.CreateLLM(primary)
	if err != nil {
		return nil, err
	}
	if len(fallbacks) == 0 {
		return p, nil
	}
	fb := resilience.NewLLMFallback(p, primary.Name, resilience.FallbackConfig{Kind: "llm", Metrics: met})
	for _, e := range fallbacks {
		q, err := reg.CreateLLM(e)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", e.Name, err)
		}
		fb.AddFallback(e.Name, q)
	}
	return fb, nil
}

// NewSummariser returns a summariser backed by the first agent that uses a
// language model, including its fallbacks.
func NewSummariser(cfg *config.Config, reg *config.Registry) (*session.LLMSummariser, error) {
	i := slices.IndexFunc(cfg.Agents, func(ac config.AgentConfig) bool { return !ac.IsFixed() })
	if i < 0 {
		return nil, fmt.Errorf("app: summaries need at least one agent with a language model backend")
	}
	p, err := BuildLLM(reg, cfg.Agents[i].Backend, cfg.Agents[i].Fallbacks, nil)
	if err != nil {
		return nil, fmt.Errorf("app: summary backend: %w", err)
	}
	return session.NewLLMSummariser(p), nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops playback and releases every subsystem in reverse-init
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if a.machine != nil {
			a.machine.StopAudio()
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close releases whatever New opened before it failed.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("cleanup after failed start", "err", err)
		}
	}
	a.closers = nil
}
