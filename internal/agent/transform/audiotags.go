package transform

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/MrWong99/troupe/internal/observe"
	"github.com/MrWong99/troupe/pkg/chat"
	"github.com/MrWong99/troupe/pkg/provider/llm"
)

// AudioTagsPrompt instructs the model to decorate a line with bracketed
// delivery tags such as [sighs] or [whisper] understood by expressive TTS
// models. The words of the line must come back unchanged.
const AudioTagsPrompt = `You annotate lines of dialogue for an expressive text-to-speech engine.

Insert audio tags in square brackets, such as [happy], [sad], [excited], [angry], [whisper], [annoyed], [thoughtful], [surprised], [laughing], [chuckles], [sighs], [clears throat], [short pause] or [long pause], where they fit the mood of the line. Place a tag directly before or after the words it colours.

Rules:
- Never add, remove, reorder or reword any word of the line. Never put original words inside brackets.
- Tags describe the voice only. No music, sound effects, gestures or movements.
- You may add emphasis by capitalising words or by adding ellipses, question marks or exclamation marks.
- Do not invent new dialogue.

Reply with the annotated line and nothing else.`

var tagPattern = regexp.MustCompile(`\[[^\]]*\]`)

// AudioTags asks a language model to add delivery tags to each reply. When
// the model changes the wording, or fails, the reply is kept as it was and
// a warning is logged: decoration is never worth losing a line over.
type AudioTags struct {
	provider llm.Provider
	prompt   string
}

// NewAudioTags returns an AudioTags transformer. An empty prompt selects
// [AudioTagsPrompt].
func NewAudioTags(p llm.Provider, prompt string) (*AudioTags, error) {
	if p == nil {
		return nil, fmt.Errorf("transform: audio tags: provider must not be nil")
	}
	if prompt == "" {
		prompt = AudioTagsPrompt
	}
	return &AudioTags{provider: p, prompt: prompt}, nil
}

// Transform implements Transformer.
func (a *AudioTags) Transform(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if strings.TrimSpace(msg.Content) == "" {
		return msg, nil
	}
	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: a.prompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: msg.Content}},
	})
	if err != nil {
		if ctx.Err() != nil {
			return chat.Message{}, ctx.Err()
		}
		observe.Logger(ctx).Warn("transform: audio tags failed, keeping reply", "speaker", msg.Speaker, "err", err)
		return msg, nil
	}
	var tagged string
	if resp != nil {
		tagged = strings.TrimSpace(resp.Content)
	}
	if tagged == "" || !SameWords(msg.Content, tagged) {
		observe.Logger(ctx).Warn("transform: audio tags changed the wording, keeping reply",
			"speaker", msg.Speaker, "tagged", tagged)
		return msg, nil
	}
	msg.Content = tagged
	return msg, nil
}

// SameWords reports whether tagged carries the same words as original once
// bracketed tags are removed. Case and punctuation are ignored.
func SameWords(original, tagged string) bool {
	a := words(original)
	b := words(tagPattern.ReplaceAllString(tagged, " "))
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func words(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		w := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, f)
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
