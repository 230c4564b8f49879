package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"chatline/internal/adapter/tui/theme"
)

// MessageRole identifies the sender of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleError     MessageRole = "error"
)

// ChatMessage represents a single message in the chat history.
type ChatMessage struct {
	ID        string // session message id; empty for local notices
	Role      MessageRole
	Sender    string // assistant label
	Content   string
	Pending   bool   // assistant reply still streaming
	Rendered  string // cached glamour output; empty means not yet rendered
	Timestamp time.Time
}

// MessageListModel manages an ordered list of chat messages with optional ring buffer.
type MessageListModel struct {
	Messages    []ChatMessage
	MaxMessages int // 0 = unlimited; positive = ring buffer cap
	trimCount   int // number of messages trimmed so far
	width       int
	mdRenderer  *glamour.TermRenderer
}

// NewMessageList creates an empty message list.
func NewMessageList() MessageListModel {
	return MessageListModel{}
}

// SetWidth updates the rendering width and clears cached renders.
func (m *MessageListModel) SetWidth(w int) {
	if w == m.width {
		return
	}
	m.width = w
	m.mdRenderer = nil
	for i := range m.Messages {
		m.Messages[i].Rendered = ""
	}
}

// SetMaxMessages sets the ring buffer capacity. 0 means unlimited.
func (m *MessageListModel) SetMaxMessages(max int) {
	m.MaxMessages = max
}

// TrimmedIndicator returns a message if older messages were trimmed, empty otherwise.
func (m *MessageListModel) TrimmedIndicator() string {
	if m.trimCount == 0 {
		return ""
	}
	return fmt.Sprintf("(%d older messages trimmed)", m.trimCount)
}

// Add appends a message. If MaxMessages is set, trims oldest messages.
func (m *MessageListModel) Add(msg ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.Messages = append(m.Messages, msg)
	m.trim()
}

// Upsert replaces the message with msg.ID in place, or appends it when the
// id is unknown. Messages without an id are always appended.
func (m *MessageListModel) Upsert(msg ChatMessage) {
	if msg.ID != "" {
		for i := range m.Messages {
			if m.Messages[i].ID != msg.ID {
				continue
			}
			if m.Messages[i].Content == msg.Content && m.Messages[i].Pending == msg.Pending {
				msg.Rendered = m.Messages[i].Rendered
			}
			m.Messages[i] = msg
			return
		}
	}
	m.Add(msg)
}

// Replace swaps the whole list, keeping cached renders of unchanged messages.
func (m *MessageListModel) Replace(msgs []ChatMessage) {
	cache := make(map[string]ChatMessage, len(m.Messages))
	for _, old := range m.Messages {
		if old.ID != "" {
			cache[old.ID] = old
		}
	}
	next := make([]ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		if old, ok := cache[msg.ID]; ok && old.Content == msg.Content && old.Pending == msg.Pending {
			msg.Rendered = old.Rendered
		}
		next = append(next, msg)
	}
	m.Messages = next
	m.trimCount = 0
	m.trim()
}

// Clear removes all messages.
func (m *MessageListModel) Clear() {
	m.Messages = nil
	m.trimCount = 0
}

func (m *MessageListModel) trim() {
	if m.MaxMessages > 0 && len(m.Messages) > m.MaxMessages {
		excess := len(m.Messages) - m.MaxMessages
		m.Messages = m.Messages[excess:]
		m.trimCount += excess
	}
}

// View renders all messages as a single string.
func (m *MessageListModel) View() string {
	if len(m.Messages) == 0 {
		return theme.TextMuted.Render("  No messages yet. Start a conversation!")
	}

	contentWidth := ContentWidth(m.width)

	var sb strings.Builder
	if indicator := m.TrimmedIndicator(); indicator != "" {
		sb.WriteString(theme.TextMuted.Render("  "+indicator) + "\n\n")
	}
	for i := range m.Messages {
		msg := &m.Messages[i]
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(msg, contentWidth))
	}
	return sb.String()
}

func (m *MessageListModel) renderMessage(msg *ChatMessage, width int) string {
	label := roleLabel(msg)
	header := label + " " + theme.Timestamp.Render(RelativeTime(msg.Timestamp))
	headerWidth := lipgloss.Width(header)

	// Markdown only once a reply is final; partial markdown renders badly.
	var body string
	switch {
	case msg.Role == RoleAssistant && msg.Pending && msg.Content == "":
		body = theme.TextMuted.Render("thinking" + theme.SymbolEllipsis)
	case msg.Role == RoleAssistant && msg.Pending:
		body = wrapText(msg.Content, width-2)
	case msg.Role == RoleAssistant:
		if msg.Rendered == "" {
			msg.Rendered = m.renderMarkdown(msg.Content, width)
		}
		body = strings.TrimSpace(msg.Rendered)
	case msg.Role == RoleError:
		body = theme.TextError.Render(wrapText(msg.Content, width-2))
	default:
		inlineW := width - headerWidth - 2
		if inlineW < 20 {
			inlineW = width - 2
		}
		body = wrapText(msg.Content, inlineW)
	}

	if body == "" {
		return header
	}
	if width-headerWidth-2 < 20 {
		return header + "\n  " + body
	}

	// Inline: header and first line of body on the same line.
	lines := strings.SplitN(body, "\n", 2)
	result := header + "  " + strings.TrimSpace(lines[0])
	if len(lines) > 1 {
		result += "\n" + lines[1]
	}
	return result
}

func roleLabel(msg *ChatMessage) string {
	switch msg.Role {
	case RoleUser:
		return theme.UserLabel.Render(theme.SymbolUser)
	case RoleAssistant:
		return theme.BotLabel.Render(msg.Sender)
	case RoleSystem:
		return theme.SystemLabel.Render("System")
	case RoleError:
		label := theme.SymbolError + " Error"
		if msg.Sender != "" {
			label = theme.SymbolError + " " + msg.Sender
		}
		return theme.ErrorLabel.Render(label)
	default:
		return theme.TextMuted.Render(string(msg.Role))
	}
}

func (m *MessageListModel) renderMarkdown(content string, width int) string {
	if m.mdRenderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return "  " + content
		}
		m.mdRenderer = r
	}
	rendered, err := m.mdRenderer.Render(content)
	if err != nil {
		return "  " + content
	}
	return rendered
}

// RelativeTime returns a human-readable relative time string.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2 15:04")
	}
}

// wrapText wraps text to the given width with a 2-space indent on continuation lines.
// Uses rune-based indexing to safely handle multibyte UTF-8.
func wrapText(s string, width int) string {
	runes := []rune(s)
	if width <= 0 || len(runes) <= width {
		return s
	}
	var lines []string
	for len(runes) > width {
		idx := -1
		for i := width - 1; i > 0; i-- {
			if runes[i] == ' ' {
				idx = i
				break
			}
		}
		if idx <= 0 {
			idx = width
		}
		lines = append(lines, string(runes[:idx]))
		runes = runes[idx:]
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return strings.Join(lines, "\n  ")
}

// ContentWidth calculates the content width respecting MaxContentWidth.
func ContentWidth(termWidth int) int {
	w := termWidth - 4
	if w > theme.MaxContentWidth {
		w = theme.MaxContentWidth
	}
	if w < 40 {
		w = 40
	}
	return w
}

// Divider renders a horizontal line at the given width.
func Divider(width int) string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorBorder).
		Render(strings.Repeat("─", width))
}
