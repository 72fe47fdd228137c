// Package config provides the configuration schema, loader, and backend
// registry for troupe.
package config

import "strings"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Device selects the audio output.
type Device string

const (
	// DeviceOto plays through the system's default output device.
	DeviceOto Device = "oto"

	// DeviceNone discards audio. Rendering still happens, which is useful
	// on headless machines and for checking backends.
	DeviceNone Device = "none"
)

// IsValid reports whether d is a recognised device.
func (d Device) IsValid() bool {
	return d == DeviceOto || d == DeviceNone
}

// Input selects the audio input used to record narration.
type Input string

const (
	// InputMicrophone records from the system's default capture device.
	InputMicrophone Input = "microphone"

	// InputNone disables recording. Transcription still works on files.
	InputNone Input = "none"
)

// IsValid reports whether in is a recognised input.
func (in Input) IsValid() bool {
	return in == InputMicrophone || in == InputNone
}

// Transformer names accepted in [TransformerConfig].
const (
	TransformNoop        = "noop"
	TransformStripPrefix = "strip_prefix"
	TransformAudioTags   = "audio_tags"
)

// BackendFixed is the agent and transcriber backend that returns a
// configured string instead of calling out to a model.
const BackendFixed = "fixed"

// Config is the root configuration structure for troupe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	Logging     LoggingConfig      `yaml:"logging"`
	Session     SessionConfig      `yaml:"session"`
	Prompts     PromptConfig       `yaml:"prompts"`
	Audio       AudioConfig        `yaml:"audio"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Transcriber TranscriberConfig  `yaml:"transcriber"`
	Agents      []AgentConfig      `yaml:"agents"`
	VoiceActors []VoiceActorConfig `yaml:"voice_actors"`
}

// LoggingConfig controls where logs go while the terminal UI owns the
// terminal.
type LoggingConfig struct {
	// File receives logs while the UI runs. Default: troupe.log inside
	// Audio.ScratchRoot.
	File string `yaml:"file"`
}

// SessionConfig describes the persisted session log.
type SessionConfig struct {
	// MessagesPath is the JSONL session log. It is created if missing.
	// Default: messages.jsonl.
	MessagesPath string `yaml:"messages_path"`

	// PlayerName is the speaker used for typed and transcribed player lines.
	// Default: Player.
	PlayerName string `yaml:"player_name"`
}

// PromptConfig holds templates shared by every LLM agent's system prompt.
type PromptConfig struct {
	// PrefixPath is rendered before each agent's own prompt.
	PrefixPath string `yaml:"prefix_path"`

	// SuffixPath is rendered after each agent's own prompt.
	SuffixPath string `yaml:"suffix_path"`
}

// AudioConfig configures rendering and playback.
type AudioConfig struct {
	// ScratchRoot is where the transient render directory is created.
	// Default: the OS temp dir.
	ScratchRoot string `yaml:"scratch_root"`

	// Device selects the output. Default: oto.
	Device Device `yaml:"device"`

	// RenderConcurrency bounds simultaneous renders. Default: 2.
	RenderConcurrency int `yaml:"render_concurrency"`

	// Input selects where narration is recorded from. It is only used when
	// a transcriber is configured. Default: microphone.
	Input Input `yaml:"input"`

	// InputSampleRate is the capture rate in Hz. Default: 16000.
	InputSampleRate int `yaml:"input_sample_rate"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// ListenAddr serves /metrics and /healthz when set (e.g., ":9090").
	ListenAddr string `yaml:"listen_addr"`
}

// ProviderEntry is the common configuration block shared by all backends.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered backend (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the backend's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend.
	Model string `yaml:"model"`

	// Options holds backend-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// TranscriberConfig selects the speech-to-text backend used in narrate mode.
type TranscriberConfig struct {
	ProviderEntry `yaml:",inline"`

	// Stream shows partial transcripts while the backend works. Backends
	// without streaming fall back to a single result.
	Stream bool `yaml:"stream"`

	// Fallbacks are tried in order when the primary fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// CorrectNames replaces misheard agent and speaker names in transcripts.
	CorrectNames bool `yaml:"correct_names"`

	// Vocabulary lists further names (places, items) to correct.
	Vocabulary []string `yaml:"vocabulary"`
}

// AgentConfig describes one character.
type AgentConfig struct {
	// Name is the character name stamped on its replies.
	Name string `yaml:"name"`

	// PromptPath is the character's system prompt template. Required for
	// LLM backends.
	PromptPath string `yaml:"prompt_path"`

	// Backend selects the LLM. Name "fixed" makes the agent always say Reply.
	Backend ProviderEntry `yaml:"backend"`

	// Fallbacks are LLM backends tried in order when Backend fails.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Reply is the line spoken by a fixed agent.
	Reply string `yaml:"reply"`

	// Transformers post-process every reply, in order.
	Transformers []TransformerConfig `yaml:"transformers"`

	// RateLimit throttles requests to the backend. Nil means unlimited.
	RateLimit *RateLimitConfig `yaml:"rate_limit"`

	// MaxContextTokens caps the prompt size. 0 uses the model's context
	// window.
	MaxContextTokens int `yaml:"max_context_tokens"`

	// Temperature in [0, 2]. 0 keeps the backend default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps reply length. Default: 3000.
	MaxTokens int `yaml:"max_tokens"`
}

// IsFixed reports whether the agent uses the fixed backend.
func (a AgentConfig) IsFixed() bool { return a.Backend.Name == BackendFixed }

// TransformerConfig selects one reply transformer.
type TransformerConfig struct {
	// Name is one of noop, strip_prefix, audio_tags.
	Name string `yaml:"name"`

	// Backend is the LLM used by audio_tags.
	Backend *ProviderEntry `yaml:"backend"`

	// PromptPath overrides the built-in audio_tags prompt.
	PromptPath string `yaml:"prompt_path"`
}

// RateLimitConfig is a token bucket.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`

	// Burst defaults to 1.
	Burst int `yaml:"burst"`
}

// VoiceActorConfig binds a set of speakers to one speech backend.
type VoiceActorConfig struct {
	// Type selects the backend: echo, piper, openai, elevenlabs or coqui.
	Type string `yaml:"type"`

	// Name labels the actor in logs and the UI. Default: the type.
	Name string `yaml:"name"`

	// Speakers maps speaker names to backend voice ids. Matching is
	// case-insensitive. An empty id selects the backend default.
	Speakers map[string]string `yaml:"speakers"`

	APIKey  string         `yaml:"api_key"`
	BaseURL string         `yaml:"base_url"`
	Model   string         `yaml:"model"`
	Options map[string]any `yaml:"options"`

	// Fallbacks are streaming TTS backends tried when the primary fails.
	// Only streaming types accept them.
	Fallbacks []VoiceFallback `yaml:"fallbacks"`
}

// DisplayName returns Name or, if empty, Type.
func (v VoiceActorConfig) DisplayName() string {
	if v.Name != "" {
		return v.Name
	}
	return v.Type
}

// Entry converts the actor's backend settings to a [ProviderEntry] named
// after its type.
func (v VoiceActorConfig) Entry() ProviderEntry {
	return ProviderEntry{Name: v.Type, APIKey: v.APIKey, BaseURL: v.BaseURL, Model: v.Model, Options: v.Options}
}

// VoiceFallback is a backup TTS backend with its own voice catalogue.
type VoiceFallback struct {
	ProviderEntry `yaml:",inline"`

	// Speakers maps speaker names to this backend's voice ids. Unmapped
	// speakers keep the primary's id.
	Speakers map[string]string `yaml:"speakers"`
}

// StreamingActorTypes are voice actor types backed by a streaming
// [tts.Provider]. Only these accept fallbacks.
var StreamingActorTypes = []string{"elevenlabs", "coqui"}

func isStreamingType(t string) bool {
	for _, s := range StreamingActorTypes {
		if strings.EqualFold(s, t) {
			return true
		}
	}
	return false
}
