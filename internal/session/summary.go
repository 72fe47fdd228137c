package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/troupe/pkg/chat"
	"github.com/MrWong99/troupe/pkg/provider/llm"
)

// ErrNothingToSummarise is returned when a log holds no summarisable lines.
var ErrNothingToSummarise = errors.New("session: nothing to summarise")

// transcriptDelimiter separates lines in the transcript sent for summaries.
const transcriptDelimiter = "\n---\n"

// sessionSummaryPrompt is the system prompt for summarising one session.
const sessionSummaryPrompt = `The user message is the transcript of one tabletop role-playing session.
Each line is the speaker's name, a colon and a newline, then what they said. Lines are separated by "---".

Reply with a concise summary of this session:
- Say that this is a summary of the last session.
- Keep events in the order they happened and use bullet lists where they help.
- Track the characters met, what the players did and how it turned out.
- Track items gained, used or lost, and how quests and story threads moved on.
- Do not embellish or invent anything that did not happen.
- Reply with the summary only.`

// runningSummaryPrompt is the system prompt for folding session summaries
// into one summary of the whole campaign.
const runningSummaryPrompt = `The user message holds summaries of consecutive tabletop role-playing sessions, oldest first, separated by "---".

Reply with a running summary of the adventure so far:
- Say that this is what has happened in the adventure so far.
- Keep it to a few short, descriptive paragraphs in the order events happened.
- Focus on the overall quest as well as the most recent events.
- Do not embellish or invent anything that did not happen.`

// Summary is the result of summarising a session.
type Summary struct {
	// LastSession covers the summarised log only.
	LastSession string

	// Overall folds LastSession into the earlier session summaries.
	Overall string
}

// Markdown renders the summary as a document with one section per part.
func (s Summary) Markdown() string {
	return "## Running Summary\n\n" + s.Overall + "\n\n## Last Session Summary\n\n" + s.LastSession + "\n"
}

// Summariser produces summaries of finished sessions.
type Summariser interface {
	// Summarise summarises messages and folds the result into previous
	// session summaries, oldest first.
	Summarise(ctx context.Context, messages []chat.Message, previous []string) (Summary, error)
}

// LLMSummariser uses an LLM provider to summarise sessions.
type LLMSummariser struct {
	llm llm.Provider
}

var _ Summariser = (*LLMSummariser)(nil)

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise implements [Summariser]. System messages are left out of the
// transcript.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []chat.Message, previous []string) (Summary, error) {
	transcript := Transcript(messages)
	if transcript == "" {
		return Summary{}, ErrNothingToSummarise
	}

	last, err := s.complete(ctx, sessionSummaryPrompt, transcript)
	if err != nil {
		return Summary{}, fmt.Errorf("session: summarise session: %w", err)
	}

	parts := make([]string, 0, len(previous)+1)
	for _, p := range previous {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	parts = append(parts, last)
	overall, err := s.complete(ctx, runningSummaryPrompt, strings.Join(parts, transcriptDelimiter))
	if err != nil {
		return Summary{}, fmt.Errorf("session: summarise campaign: %w", err)
	}
	return Summary{LastSession: last, Overall: overall}, nil
}

func (s *LLMSummariser) complete(ctx context.Context, prompt, text string) (string, error) {
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: prompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
		Temperature:  0.3,
	})
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", errors.New("empty summary")
	}
	return strings.TrimSpace(resp.Content), nil
}

// Transcript formats messages for summarisation, one "speaker:\ncontent"
// block per line. Narration without a speaker is attributed to the
// narrator.
func Transcript(messages []chat.Message) string {
	var sb strings.Builder
	for _, m := range messages {
		if m.Role == chat.RoleSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		speaker := m.Speaker
		if speaker == "" || speaker == chat.NarrationSpeaker {
			speaker = "Narrator"
		}
		fmt.Fprintf(&sb, "%s:\n%s%s", speaker, strings.TrimSpace(m.Content), transcriptDelimiter)
	}
	return sb.String()
}
