package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known backend names per kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"llm":   {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":   {"openai", "deepgram", "whisper", "whisper-native", BackendFixed},
	"tts":   {"elevenlabs", "coqui"},
	"actor": {"echo", "piper", "openai", "elevenlabs", "coqui"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultMessagesPath      = "messages.jsonl"
	DefaultPlayerName        = "Player"
	DefaultRenderConcurrency = 2
	DefaultMaxTokens         = 3000
	DefaultLogFile           = "troupe.log"
	DefaultInputSampleRate   = 16000
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown keys are an error.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.Session.MessagesPath == "" {
		cfg.Session.MessagesPath = DefaultMessagesPath
	}
	if cfg.Session.PlayerName == "" {
		cfg.Session.PlayerName = DefaultPlayerName
	}
	if cfg.Audio.ScratchRoot == "" {
		cfg.Audio.ScratchRoot = os.TempDir()
	}
	if cfg.Audio.Device == "" {
		cfg.Audio.Device = DeviceOto
	}
	if cfg.Audio.RenderConcurrency == 0 {
		cfg.Audio.RenderConcurrency = DefaultRenderConcurrency
	}
	if cfg.Audio.Input == "" {
		cfg.Audio.Input = InputMicrophone
	}
	if cfg.Audio.InputSampleRate == 0 {
		cfg.Audio.InputSampleRate = DefaultInputSampleRate
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.Audio.ScratchRoot, DefaultLogFile)
	}
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.MaxTokens == 0 && !a.IsFixed() {
			a.MaxTokens = DefaultMaxTokens
		}
		if a.RateLimit != nil && a.RateLimit.Burst == 0 {
			a.RateLimit.Burst = 1
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Audio.Device != "" && !cfg.Audio.Device.IsValid() {
		errs = append(errs, fmt.Errorf("audio.device %q is invalid; valid values: oto, none", cfg.Audio.Device))
	}
	if cfg.Audio.RenderConcurrency < 0 {
		errs = append(errs, fmt.Errorf("audio.render_concurrency %d must not be negative", cfg.Audio.RenderConcurrency))
	}
	if cfg.Audio.Input != "" && !cfg.Audio.Input.IsValid() {
		errs = append(errs, fmt.Errorf("audio.input %q is invalid; valid values: microphone, none", cfg.Audio.Input))
	}
	if cfg.Audio.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d must not be negative", cfg.Audio.InputSampleRate))
	}

	// Transcriber
	if cfg.Transcriber.Name != "" {
		validateProviderName("stt", cfg.Transcriber.Name)
	} else if len(cfg.Transcriber.Fallbacks) > 0 {
		errs = append(errs, errors.New("transcriber.fallbacks requires transcriber.name"))
	}
	for i, fb := range cfg.Transcriber.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("transcriber.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}

	// Agents
	agentNamesSeen := make(map[string]int, len(cfg.Agents))
	for i, a := range cfg.Agents {
		errs = append(errs, validateAgent(fmt.Sprintf("agents[%d]", i), a, agentNamesSeen, i)...)
	}
	if len(cfg.Agents) == 0 {
		slog.Warn("no agents configured; response mode will have nobody to ask")
	}

	// Voice actors
	claimedBy := make(map[string]string)
	for i, va := range cfg.VoiceActors {
		prefix := fmt.Sprintf("voice_actors[%d]", i)
		if va.Type == "" {
			errs = append(errs, fmt.Errorf("%s.type is required", prefix))
		} else {
			validateProviderName("actor", va.Type)
		}
		if len(va.Speakers) == 0 {
			errs = append(errs, fmt.Errorf("%s.speakers must list at least one speaker", prefix))
		}
		for speaker := range va.Speakers {
			key := strings.ToLower(speaker)
			if prev, ok := claimedBy[key]; ok {
				slog.Warn("speaker claimed by more than one voice actor; the first one wins",
					"speaker", speaker, "first", prev, "ignored", va.DisplayName())
				continue
			}
			claimedBy[key] = va.DisplayName()
		}
		if len(va.Fallbacks) > 0 && !isStreamingType(va.Type) {
			errs = append(errs, fmt.Errorf("%s.fallbacks: type %q does not support fallbacks; streaming types: %s",
				prefix, va.Type, strings.Join(StreamingActorTypes, ", ")))
		}
		for j, fb := range va.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("%s.fallbacks[%d].name is required", prefix, j))
				continue
			}
			validateProviderName("tts", fb.Name)
		}
	}
	for _, a := range cfg.Agents {
		if a.Name != "" && len(cfg.VoiceActors) > 0 {
			if _, ok := claimedBy[strings.ToLower(a.Name)]; !ok {
				slog.Warn("agent has no voice actor; its replies will not be spoken", "agent", a.Name)
			}
		}
	}

	return errors.Join(errs...)
}

func validateAgent(prefix string, a AgentConfig, seen map[string]int, i int) []error {
	var errs []error
	if a.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
	} else {
		key := strings.ToLower(a.Name)
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of agents[%d]", prefix, a.Name, prev))
		}
		seen[key] = i
	}

	switch {
	case a.Backend.Name == "":
		errs = append(errs, fmt.Errorf("%s.backend.name is required", prefix))
	case a.IsFixed():
		if strings.TrimSpace(a.Reply) == "" {
			errs = append(errs, fmt.Errorf("%s.reply is required for the fixed backend", prefix))
		}
		if len(a.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s.fallbacks are not supported by the fixed backend", prefix))
		}
	default:
		validateProviderName("llm", a.Backend.Name)
		if a.PromptPath == "" {
			errs = append(errs, fmt.Errorf("%s.prompt_path is required for LLM backends", prefix))
		}
	}
	for j, fb := range a.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.fallbacks[%d].name is required", prefix, j))
			continue
		}
		validateProviderName("llm", fb.Name)
	}

	for j, tr := range a.Transformers {
		tprefix := fmt.Sprintf("%s.transformers[%d]", prefix, j)
		switch tr.Name {
		case TransformNoop, TransformStripPrefix:
		case TransformAudioTags:
			if tr.Backend == nil || tr.Backend.Name == "" {
				errs = append(errs, fmt.Errorf("%s.backend.name is required for audio_tags", tprefix))
			} else {
				validateProviderName("llm", tr.Backend.Name)
			}
		default:
			errs = append(errs, fmt.Errorf("%s.name %q is invalid; valid values: noop, strip_prefix, audio_tags", tprefix, tr.Name))
		}
	}

	if rl := a.RateLimit; rl != nil {
		if rl.RequestsPerMinute <= 0 {
			errs = append(errs, fmt.Errorf("%s.rate_limit.requests_per_minute must be positive", prefix))
		}
		if rl.Burst < 0 {
			errs = append(errs, fmt.Errorf("%s.rate_limit.burst must not be negative", prefix))
		}
	}
	if a.MaxContextTokens < 0 {
		errs = append(errs, fmt.Errorf("%s.max_context_tokens must not be negative", prefix))
	}
	if a.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("%s.max_tokens must not be negative", prefix))
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, fmt.Errorf("%s.temperature %.2f is out of range [0, 2]", prefix, a.Temperature))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name; may be a typo or third-party backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
