package main

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/troupe/internal/config"
	"github.com/MrWong99/troupe/internal/voice"
	"github.com/MrWong99/troupe/internal/voice/actors/echo"
	oaactor "github.com/MrWong99/troupe/internal/voice/actors/openai"
	"github.com/MrWong99/troupe/internal/voice/actors/piper"
	"github.com/MrWong99/troupe/pkg/provider/llm"
	"github.com/MrWong99/troupe/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/troupe/pkg/provider/llm/openai"
	"github.com/MrWong99/troupe/pkg/provider/stt"
	"github.com/MrWong99/troupe/pkg/provider/stt/deepgram"
	"github.com/MrWong99/troupe/pkg/provider/stt/fixed"
	oastt "github.com/MrWong99/troupe/pkg/provider/stt/openai"
	"github.com/MrWong99/troupe/pkg/provider/stt/whisper"
	"github.com/MrWong99/troupe/pkg/provider/tts"
	"github.com/MrWong99/troupe/pkg/provider/tts/coqui"
	"github.com/MrWong99/troupe/pkg/provider/tts/elevenlabs"
)

// anyLLMBackends share the same wiring: optional APIKey + optional BaseURL.
var anyLLMBackends = []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders wires every built-in backend factory into reg.
// Each factory receives the configured entry and constructs the backend from
// the implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptString("organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		timeout, err := entry.OptDuration("timeout")
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, oallm.WithTimeout(timeout))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, backend := range anyLLMBackends {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if prompt := entry.OptString("prompt"); prompt != "" {
			opts = append(opts, oastt.WithPrompt(prompt))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if words := entry.OptStrings("keywords"); len(words) > 0 {
			boost, ok := entry.OptFloat("keyword_boost")
			if !ok {
				boost = 1
			}
			kws := make([]deepgram.Keyword, len(words))
			for i, w := range words {
				kws[i] = deepgram.Keyword{Word: w, Boost: boost}
			}
			opts = append(opts, deepgram.WithKeywords(kws...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// fixed returns the same text for every recording; useful offline.
	reg.RegisterSTT(config.BackendFixed, func(entry config.ProviderEntry) (stt.Transcriber, error) {
		return &fixed.Transcriber{Text: entry.OptString("text"), Streaming: true}, nil
	})

	// ── TTS (streaming voice actors) ──────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL, entry.OptString("ws_url")))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.OptString("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		timeout, err := entry.OptDuration("timeout")
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, coqui.WithTimeout(timeout))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Voice actors ──────────────────────────────────────────────────────────

	reg.RegisterActor("echo", func(c config.VoiceActorConfig) (voice.Actor, error) {
		var opts []echo.Option
		d, err := c.Entry().OptDuration("word_duration")
		if err != nil {
			return nil, err
		}
		if d > 0 {
			opts = append(opts, echo.WithWordDuration(d))
		}
		return echo.New(c.DisplayName(), slices.Sorted(maps.Keys(c.Speakers)), opts...), nil
	})

	reg.RegisterActor("piper", func(c config.VoiceActorConfig) (voice.Actor, error) {
		entry := c.Entry()
		var opts []piper.Option
		if bin := entry.OptString("binary"); bin != "" {
			opts = append(opts, piper.WithBinary(bin))
		}
		if args := entry.OptStrings("args"); len(args) > 0 {
			opts = append(opts, piper.WithArgs(args...))
		}
		return piper.New(c.DisplayName(), c.Model, c.Speakers, opts...)
	})

	reg.RegisterActor("openai", func(c config.VoiceActorConfig) (voice.Actor, error) {
		entry := c.Entry()
		var opts []oaactor.Option
		if c.Model != "" {
			opts = append(opts, oaactor.WithModel(c.Model))
		}
		if c.BaseURL != "" {
			opts = append(opts, oaactor.WithBaseURL(c.BaseURL))
		}
		if s := entry.OptString("instructions"); s != "" {
			opts = append(opts, oaactor.WithInstructions(s))
		}
		if speed, ok := entry.OptFloat("speed"); ok {
			opts = append(opts, oaactor.WithSpeed(speed))
		}
		return oaactor.New(c.DisplayName(), c.APIKey, c.Speakers, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts", "actor"} {
		slog.Debug("registered backends", "kind", kind, "names", reg.Names(kind))
	}
}

// describeBackends lists every registered backend, one kind per line.
func describeBackends(reg *config.Registry) string {
	var out string
	for _, kind := range []string{"llm", "stt", "tts", "actor"} {
		out += fmt.Sprintf("%-6s %v\n", kind+":", reg.Names(kind))
	}
	return out
}
