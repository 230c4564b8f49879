package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"chatline/internal/adapter/tui/theme"
)

// CommandDef defines a slash command or an argument candidate for autocomplete.
type CommandDef struct {
	Name        string // e.g. "/use" or a chat id
	Description string // e.g. "Switch chat" or a chat title
}

// AutocompleteModel manages a filtered popup of slash commands and, once a
// command is typed, of candidates for its argument.
type AutocompleteModel struct {
	Commands []CommandDef
	Filtered []CommandDef
	Selected int
	Visible  bool

	// args holds argument candidates per command name.
	args    map[string][]CommandDef
	command string // command whose argument is being completed, "" for commands
	prefix  string
	maxShow int
	width   int
}

// NewAutocomplete creates an autocomplete model with the given commands.
func NewAutocomplete(commands []CommandDef) AutocompleteModel {
	return AutocompleteModel{
		Commands: commands,
		args:     make(map[string][]CommandDef),
		maxShow:  7,
	}
}

// SetWidth updates the popup width.
func (m *AutocompleteModel) SetWidth(w int) {
	m.width = w
}

// SetArgs sets the argument candidates offered after command.
func (m *AutocompleteModel) SetArgs(command string, candidates []CommandDef) {
	if m.args == nil {
		m.args = make(map[string][]CommandDef)
	}
	m.args[strings.ToLower(command)] = candidates
}

// Filter updates the popup for the current input value.
func (m *AutocompleteModel) Filter(value string) {
	if !strings.HasPrefix(value, "/") {
		m.Hide()
		return
	}
	name, arg, hasArg := strings.Cut(value, " ")
	switch {
	case !hasArg:
		m.filter("", m.Commands, value)
	case !strings.Contains(arg, " "):
		m.filter(strings.ToLower(name), m.args[strings.ToLower(name)], arg)
	default:
		m.Hide()
	}
}

func (m *AutocompleteModel) filter(command string, from []CommandDef, prefix string) {
	m.command = command
	m.prefix = strings.ToLower(prefix)
	m.Filtered = nil
	for _, c := range from {
		if strings.HasPrefix(strings.ToLower(c.Name), m.prefix) {
			m.Filtered = append(m.Filtered, c)
		}
	}
	// Commands need at least "/"; arguments show as soon as the space is typed.
	m.Visible = len(m.Filtered) > 0 && (command != "" || m.prefix != "")
	if m.Selected >= len(m.Filtered) {
		m.Selected = 0
	}
}

// Hide hides the popup.
func (m *AutocompleteModel) Hide() {
	m.Visible = false
	m.Filtered = nil
	m.command = ""
	m.prefix = ""
	m.Selected = 0
}

// SelectNext moves selection down.
func (m *AutocompleteModel) SelectNext() {
	if len(m.Filtered) == 0 {
		return
	}
	m.Selected = (m.Selected + 1) % len(m.Filtered)
}

// SelectPrev moves selection up.
func (m *AutocompleteModel) SelectPrev() {
	if len(m.Filtered) == 0 {
		return
	}
	m.Selected--
	if m.Selected < 0 {
		m.Selected = len(m.Filtered) - 1
	}
}

// Accept returns the input value for the selected entry and hides the popup.
// Commands come back bare, arguments come back with their command.
func (m *AutocompleteModel) Accept() string {
	if len(m.Filtered) == 0 {
		return ""
	}
	value := m.Filtered[m.Selected].Name
	if m.command != "" {
		value = m.command + " " + value
	}
	m.Hide()
	return value
}

// View renders the autocomplete popup.
func (m AutocompleteModel) View() string {
	if !m.Visible || len(m.Filtered) == 0 {
		return ""
	}

	popupWidth := m.width - 4
	if popupWidth < 30 {
		popupWidth = 30
	}

	show := m.Filtered
	if len(show) > m.maxShow {
		show = show[:m.maxShow]
	}

	nameW := 12
	for _, c := range show {
		nameW = max(nameW, len(c.Name))
	}

	var lines []string
	for i, c := range show {
		name := c.Name + strings.Repeat(" ", nameW-len(c.Name))

		desc := c.Description
		maxDesc := popupWidth - nameW - 4
		if maxDesc > 1 && len(desc) > maxDesc {
			desc = desc[:maxDesc-1] + theme.SymbolEllipsis
		}

		line := name + " " + theme.TextMuted.Render(desc)
		if i == m.Selected {
			line = theme.TextInfo.Render(theme.SymbolArrowR+" ") + line
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorderActive).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}
