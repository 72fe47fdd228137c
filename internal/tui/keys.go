package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Narrate    key.Binding
	Narration  key.Binding
	Respond    key.Binding
	RespondOne key.Binding
	Stop       key.Binding
	Scroll     key.Binding
	Help       key.Binding
	Quit       key.Binding

	Submit     key.Binding
	SwitchRole key.Binding
	Transcribe key.Binding
	Record     key.Binding
	Cancel     key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Narrate:    key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "speak as player")),
		Narration:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "narrate")),
		Respond:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "all respond")),
		RespondOne: key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"), key.WithHelp("1-9", "one agent responds")),
		Stop:       key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop audio")),
		Scroll:     key.NewBinding(key.WithKeys("up", "down", "pgup", "pgdown", "k", "j"), key.WithHelp("↑/↓", "scroll")),
		Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),

		Submit:     key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "submit")),
		SwitchRole: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "player/narration")),
		Transcribe: key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "transcribe file in input")),
		Record:     key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "record/stop")),
		Cancel:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	}
}

// narrating switches the bindings between standby and the input box.
func (k *keyMap) narrating(on bool) {
	for _, b := range []*key.Binding{&k.Narrate, &k.Narration, &k.Respond, &k.RespondOne, &k.Stop, &k.Scroll, &k.Help, &k.Quit} {
		b.SetEnabled(!on)
	}
	for _, b := range []*key.Binding{&k.Submit, &k.SwitchRole, &k.Transcribe, &k.Record, &k.Cancel} {
		b.SetEnabled(on)
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Narrate, k.Narration, k.Respond, k.Stop, k.Submit, k.SwitchRole, k.Record, k.Cancel, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Narrate, k.Narration, k.Respond, k.RespondOne},
		{k.Stop, k.Scroll, k.Help, k.Quit},
		{k.Submit, k.SwitchRole, k.Record, k.Transcribe, k.Cancel},
	}
}
