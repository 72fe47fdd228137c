package main

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/troupe/internal/config"
	"github.com/MrWong99/troupe/pkg/chat"
)

func TestRegisterBuiltinProviders_CoversKnownNames(t *testing.T) {
	reg := newRegistry()
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			registered := reg.Names(kind)
			if kind == "actor" && slices.Contains(config.StreamingActorTypes, name) {
				// Streaming actors are built from a TTS backend.
				registered = reg.Names("tts")
			}
			if !slices.Contains(registered, name) {
				t.Errorf("%s backend %q is not registered (have %v)", kind, name, registered)
			}
		}
	}
}

func TestRegisterBuiltinProviders_EchoActor(t *testing.T) {
	reg := newRegistry()
	a, err := reg.CreateActor(config.VoiceActorConfig{
		Type:     "echo",
		Name:     "bench",
		Speakers: map[string]string{"Garry": ""},
		Options:  map[string]any{"word_duration": "1ms"},
	})
	if err != nil {
		t.Fatalf("CreateActor: %v", err)
	}
	if a.Name() != "bench" {
		t.Errorf("Name = %q, want bench", a.Name())
	}
	if !a.Claims(chat.NewMessage("garry", chat.RoleAgent, "hi")) {
		t.Error("echo actor does not claim its speaker")
	}
	if a.Claims(chat.NewMessage("Vex", chat.RoleAgent, "hi")) {
		t.Error("echo actor claims a speaker it was not given")
	}
}

func TestRegisterBuiltinProviders_EchoBadDuration(t *testing.T) {
	reg := newRegistry()
	_, err := reg.CreateActor(config.VoiceActorConfig{
		Type:    "echo",
		Options: map[string]any{"word_duration": "soon"},
	})
	if err == nil {
		t.Fatal("expected an error for an unparseable word_duration")
	}
}

func TestRegisterBuiltinProviders_FixedTranscriber(t *testing.T) {
	reg := newRegistry()
	tr, err := reg.CreateSTT(config.ProviderEntry{
		Name:    config.BackendFixed,
		Options: map[string]any{"text": "roll for initiative"},
	})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	got, err := tr.Transcribe(context.Background(), "ignored.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "roll for initiative" {
		t.Errorf("Transcribe = %q", got)
	}
}

func TestDescribeBackends(t *testing.T) {
	out := describeBackends(newRegistry())
	for _, kind := range []string{"llm:", "stt:", "tts:", "actor:"} {
		if !strings.Contains(out, kind) {
			t.Errorf("output lacks %q:\n%s", kind, out)
		}
	}
	if !strings.Contains(out, "whisper-native") {
		t.Errorf("output lacks whisper-native:\n%s", out)
	}
}

func TestVoicesTable(t *testing.T) {
	out := voicesTable([]config.VoiceActorConfig{
		{Type: "piper", Name: "tavern", Speakers: map[string]string{"Garry": "en_GB-alan", "Vex": ""}},
		{Type: "echo", Speakers: map[string]string{"Narrator": ""}},
	})
	for _, want := range []string{"ACTOR", "tavern", "en_GB-alan", "(default)", "echo", "Narrator"} {
		if !strings.Contains(out, want) {
			t.Errorf("table lacks %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Garry") > strings.Index(out, "Vex") {
		t.Errorf("speakers are not sorted:\n%s", out)
	}
}
