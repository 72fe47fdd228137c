package agent

import (
	"fmt"
	"os"
	"strings"
	"text/template"
)

// PromptFiles names the template files that make up an agent's system
// prompt. Prefix and Suffix are optional and usually shared by every agent.
type PromptFiles struct {
	Prefix string
	Path   string
	Suffix string
}

// PromptVars are the values available to prompt templates as {{.Name}} and
// {{.Model}}.
type PromptVars struct {
	Name  string
	Model string
}

// LoadPrompt renders the prefix, character and suffix templates with vars
// and joins them with newlines. Unknown template fields are an error.
func LoadPrompt(files PromptFiles, vars PromptVars) (string, error) {
	if files.Path == "" {
		return "", fmt.Errorf("agent: prompt path must not be empty")
	}
	var parts []string
	for _, path := range []string{files.Prefix, files.Path, files.Suffix} {
		if path == "" {
			continue
		}
		text, err := renderPromptFile(path, vars)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

// RenderPrompt renders a single prompt template.
func RenderPrompt(name, text string, vars PromptVars) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("agent: parse prompt %s: %w", name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("agent: render prompt %s: %w", name, err)
	}
	return sb.String(), nil
}

func renderPromptFile(path string, vars PromptVars) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("agent: read prompt: %w", err)
	}
	return RenderPrompt(path, string(raw), vars)
}

// withNameReminder appends the line that tells the model how its own
// messages are attributed in the conversation.
func withNameReminder(prompt, name string) string {
	reminder := "Your name will show up in messages as: " + name
	if prompt == "" {
		return reminder
	}
	return prompt + "\n\n" + reminder
}
