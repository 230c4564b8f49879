package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"chatline/internal/adapter/tui/theme"
)

// KeyHint represents a single keybinding hint shown in the status bar.
type KeyHint struct {
	Key  string // e.g. "Enter"
	Desc string // e.g. "Send"
}

// StatusBarModel renders a bottom status bar with keybinding hints on the
// left and the selected bot and chat on the right.
type StatusBarModel struct {
	Hints    []KeyHint
	BotName  string
	Chat     string
	ReadOnly bool
	Extra    string // transient status, e.g. "Thinking..."
	width    int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// View renders the status bar as a single line.
func (m StatusBarModel) View() string {
	var hints []string
	for _, h := range m.Hints {
		hints = append(hints, theme.StatusKey.Render(h.Key)+": "+h.Desc)
	}
	left := strings.Join(hints, "  "+theme.Dim.Render("|")+"  ")

	var parts []string
	if m.BotName != "" {
		parts = append(parts, m.BotName)
	}
	if m.Chat != "" {
		chat := m.Chat
		if m.ReadOnly {
			chat += " " + theme.SymbolLock
		}
		parts = append(parts, chat)
	}
	right := theme.TextMuted.Render(strings.Join(parts, " "+theme.SymbolBullet+" "))

	if m.Extra != "" {
		if right != "" {
			right += "  "
		}
		right += theme.TextInfo.Render(m.Extra)
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}

	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}
