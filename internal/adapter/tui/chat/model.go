package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chatline/internal/adapter/tui/components"
	"chatline/internal/adapter/tui/theme"
	"chatline/internal/adapter/tui/uxerror"
	"chatline/internal/domain"
)

// ModelDeps are dependencies injected into the chat model.
type ModelDeps struct {
	Session Session
	Logger  *slog.Logger
}

// notice is a local message shown under the chat it was raised in.
type notice struct {
	chat string
	msg  components.ChatMessage
}

// ChatModel is the root Bubble Tea model for the chat TUI. It renders the
// session store and never keeps its own copy of the conversation.
type ChatModel struct {
	deps ModelDeps

	chatView  components.ChatViewModel
	input     components.InputAreaModel
	statusBar components.StatusBarModel
	spinner   spinner.Model

	waiting  bool // true while SendMessage runs
	width    int
	height   int
	quitting bool

	// Request lifecycle: gen is incremented on every send and cancel.
	// SendDoneMsg with an older gen is discarded.
	gen      uint64
	cancelFn context.CancelFunc

	failed  map[string]bool // assistant messages that carry a send failure
	notices []notice
}

var slashCommands = []components.CommandDef{
	{Name: "/help", Description: "Show available commands"},
	{Name: "/new", Description: "Start a new chat"},
	{Name: "/chats", Description: "List chats"},
	{Name: "/use", Description: "Switch chat"},
	{Name: "/rm", Description: "Delete a chat (default: the active one)"},
	{Name: "/bots", Description: "List bots"},
	{Name: "/bot", Description: "Switch bot"},
	{Name: "/cancel", Description: "Cancel the reply being received"},
	{Name: "/quit", Description: "Exit chatline"},
}

// NewChatModel creates the root chat model.
func NewChatModel(deps ModelDeps) ChatModel {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	sb := components.NewStatusBar()
	sb.Hints = defaultHints()

	chatView := components.NewChatView()
	chatView.SetMaxMessages(1000)

	m := ChatModel{
		deps:      deps,
		chatView:  chatView,
		input:     components.NewInputArea(slashCommands),
		statusBar: sb,
		spinner:   s,
		failed:    make(map[string]bool),
	}
	m.sync()
	return m
}

// Init starts the spinner.
func (m ChatModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case components.InputSubmitMsg:
		return m.handleSubmit(msg.Value)

	case SessionEventMsg:
		if msg.Event.Type == domain.EventSendFailed {
			var p struct {
				MessageID string `json:"message_id"`
			}
			if err := json.Unmarshal(msg.Event.Payload, &p); err == nil && p.MessageID != "" {
				m.failed[p.MessageID] = true
			}
		}
		m.sync()
		return m, nil

	case SendDoneMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		m.cancelFn = nil
		m.finishWaiting()
		switch {
		case msg.Err == nil:
		case errors.Is(msg.Err, context.Canceled):
		case domain.IsPrecondition(msg.Err):
			m.addNotice(components.RoleError, uxerror.Humanize(msg.Err).Render())
		default:
			// The failure is already shown as the reply.
			m.statusBar.Extra = theme.SymbolError + " " + uxerror.Humanize(msg.Err).Title
			m.deps.Logger.Debug("send failed", "error", msg.Err)
		}
		m.sync()
		return m, nil

	case ActionDoneMsg:
		if msg.Err != nil {
			m.addNotice(components.RoleError, uxerror.Humanize(msg.Err).Render())
		} else if msg.Notice != "" {
			m.addNotice(components.RoleSystem, msg.Notice)
		}
		m.sync()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if !m.waiting {
		if _, isMouse := msg.(tea.MouseMsg); !isMouse {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.chatView, cmd = m.chatView.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// View renders the entire chat UI.
func (m ChatModel) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	inputView := m.input.View()
	if m.waiting {
		inputView = lipgloss.NewStyle().Faint(true).Render("> waiting for reply...") +
			"\n" + m.spinner.View() + " " + m.statusBar.Extra
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.chatView.View(),
		components.Divider(m.width),
		inputView,
		m.statusBar.View(),
	)
}

// layout recalculates sizes for all sub-models.
func (m *ChatModel) layout() {
	const inputH, statusH, dividerH = 3, 1, 1
	contentH := max(m.height-inputH-statusH-dividerH, 5)

	m.statusBar.SetWidth(m.width)
	m.chatView.SetSize(m.width, contentH)
	m.input.SetWidth(m.width)
}

// isMouseEscapeLeak detects mouse escape sequences that leaked through as
// key input instead of tea.MouseMsg (SGR, X11 and URXVT formats).
func isMouseEscapeLeak(s string) bool {
	digits := func(r string) bool {
		for _, c := range r {
			if c != ';' && (c < '0' || c > '9') {
				return false
			}
		}
		return true
	}
	switch {
	case len(s) >= 5 && s[0] == '<' && (s[len(s)-1] == 'M' || s[len(s)-1] == 'm'):
		return digits(s[1 : len(s)-1])
	case len(s) >= 2 && s[0] == '[' && (s[1] == 'M' || s[1] == 'm'):
		return true
	case len(s) >= 5 && s[0] == '[' && s[len(s)-1] == 'M':
		return digits(s[1 : len(s)-1])
	}
	return false
}

// handleKey processes keyboard input.
func (m ChatModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if isMouseEscapeLeak(msg.String()) {
		return m, nil
	}

	switch msg.Type {
	case tea.KeyCtrlC:
		if m.waiting {
			m.cancelRequest()
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleSubmit processes user input submission.
func (m ChatModel) handleSubmit(value string) (tea.Model, tea.Cmd) {
	if cmd, args, ok := components.ParseSlashCommand(value); ok {
		return m.handleSlashCommand(cmd, args)
	}

	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelFn = cancel

	m.waiting = true
	m.input.SetEnabled(false)
	m.statusBar.Extra = theme.SymbolSpinner + " Thinking..."

	return m, sendMessageCmd(ctx, m.deps.Session, value, m.gen)
}

// handleSlashCommand processes a slash command.
func (m ChatModel) handleSlashCommand(cmd string, args []string) (tea.Model, tea.Cmd) {
	s := m.deps.Session
	arg := strings.Join(args, " ")

	switch cmd {
	case "/help":
		m.addNotice(components.RoleSystem, `Available commands:
  /new         - Start a new chat
  /chats       - List chats
  /use <id>    - Switch chat
  /rm [id]     - Delete a chat (default: the active one)
  /bots        - List bots
  /bot <id>    - Switch bot
  /cancel      - Cancel the reply being received
  /quit        - Exit chatline

Keybindings:
  Enter        - Send message
  Alt+Enter    - New line
  Tab          - Cycle completions
  PgUp/PgDn    - Scroll chat
  Ctrl+C       - Cancel/Quit`)

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit

	case "/cancel":
		if m.waiting {
			m.cancelRequest()
		} else {
			m.addNotice(components.RoleSystem, "No reply to cancel.")
		}

	case "/new":
		return m, actionCmd("", func() error {
			conv, err := s.CreateConversation(context.Background())
			if err == nil {
				m.deps.Logger.Debug("chat created", "conversation", conv.ID)
			}
			return err
		})

	case "/chats":
		m.addNotice(components.RoleSystem, formatChats(s))

	case "/bots":
		m.addNotice(components.RoleSystem, formatBots(s))

	case "/use":
		if !slices.ContainsFunc(s.Conversations(), func(c domain.Conversation) bool { return c.ID == arg }) {
			m.addNotice(components.RoleError, uxerror.Humanize(fmt.Errorf("%w: chat %q", domain.ErrNotFound, arg)).Render())
			break
		}
		return m, actionCmd("", func() error {
			return s.SelectConversation(context.Background(), arg)
		})

	case "/bot":
		if !slices.ContainsFunc(s.Bots(), func(b domain.Bot) bool { return b.ID == arg }) {
			m.addNotice(components.RoleError, uxerror.Humanize(fmt.Errorf("%w: bot %q", domain.ErrNotFound, arg)).Render())
			break
		}
		return m, actionCmd("", func() error {
			return s.SelectBot(context.Background(), arg)
		})

	case "/rm":
		id := arg
		if id == "" {
			active, ok := s.ActiveConversation()
			if !ok {
				m.addNotice(components.RoleSystem, "No active chat to delete.")
				break
			}
			id = active.ID
		}
		return m, actionCmd(theme.SymbolSuccess+" Deleted chat "+id, func() error {
			return s.RemoveConversation(context.Background(), id)
		})

	default:
		m.addNotice(components.RoleSystem, fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd))
	}

	m.sync()
	return m, nil
}

// cancelRequest cancels the in-flight send and bumps the generation so its
// completion is ignored. The store finalizes the reply itself.
func (m *ChatModel) cancelRequest() {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	m.gen++
	m.finishWaiting()
	m.addNotice(components.RoleSystem, "Request cancelled.")
	m.sync()
}

func (m *ChatModel) finishWaiting() {
	m.waiting = false
	m.input.SetEnabled(true)
	m.statusBar.Extra = ""
}

func (m *ChatModel) addNotice(role components.MessageRole, content string) {
	m.notices = append(m.notices, notice{
		chat: m.activeID(),
		msg:  components.ChatMessage{Role: role, Content: content},
	})
}

func (m *ChatModel) activeID() string {
	if conv, ok := m.deps.Session.ActiveConversation(); ok {
		return conv.ID
	}
	return ""
}

// sync re-renders the store's messages followed by the notices raised in
// the active chat, then refreshes the status bar and completions.
func (m *ChatModel) sync() {
	s := m.deps.Session
	msgs := s.Messages()
	active := m.activeID()

	view := make([]components.ChatMessage, 0, len(msgs)+len(m.notices))
	for _, msg := range msgs {
		view = append(view, m.toView(msg))
	}
	for i := range m.notices {
		if m.notices[i].chat == active {
			view = append(view, m.notices[i].msg)
		}
	}
	m.chatView.SetMessages(view)

	m.statusBar.BotName = botName(s)
	m.statusBar.Chat = ""
	m.statusBar.ReadOnly = false
	if conv, ok := s.ActiveConversation(); ok {
		m.statusBar.Chat = chatTitle(conv)
		m.statusBar.ReadOnly = conv.ReadOnly()
	}

	chats := make([]components.CommandDef, 0)
	for _, c := range s.Conversations() {
		chats = append(chats, components.CommandDef{Name: c.ID, Description: chatTitle(c)})
	}
	bots := make([]components.CommandDef, 0)
	for _, b := range s.Bots() {
		bots = append(bots, components.CommandDef{Name: b.ID, Description: b.DisplayName})
	}
	m.input.Autocomplete.SetArgs("/use", chats)
	m.input.Autocomplete.SetArgs("/rm", chats)
	m.input.Autocomplete.SetArgs("/bot", bots)
}

func (m *ChatModel) toView(msg domain.ChatMessage) components.ChatMessage {
	v := components.ChatMessage{
		ID:        msg.ID,
		Role:      components.RoleUser,
		Content:   msg.Text,
		Timestamp: msg.CreatedAt,
	}
	if msg.Author == domain.AuthorAssistant {
		v.Role = components.RoleAssistant
		v.Sender = msg.Sender
		v.Pending = msg.State != domain.StateComplete
		if m.failed[msg.ID] {
			v.Role = components.RoleError
		}
	}
	return v
}

func botName(s Session) string {
	id := s.BotID()
	for _, b := range s.Bots() {
		if b.ID == id && b.DisplayName != "" {
			return b.DisplayName
		}
	}
	return id
}

func chatTitle(c domain.Conversation) string {
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}

func formatChats(s Session) string {
	convs := s.Conversations()
	if len(convs) == 0 {
		return "No chats yet. Send a message or use /new."
	}
	active := ""
	if conv, ok := s.ActiveConversation(); ok {
		active = conv.ID
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Chats (%d):", len(convs)))
	for _, c := range convs {
		marker := " "
		if c.ID == active {
			marker = theme.SymbolArrowR
		}
		line := fmt.Sprintf("\n  %s %s  %s", marker, c.ID, chatTitle(c))
		if c.ReadOnly() {
			line += " " + theme.SymbolLock
		}
		sb.WriteString(line)
	}
	return sb.String()
}

func formatBots(s Session) string {
	bots := s.Bots()
	if len(bots) == 0 {
		return "No bots available."
	}
	selected := s.BotID()
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Bots (%d):", len(bots)))
	for _, b := range bots {
		marker := " "
		if b.ID == selected {
			marker = theme.SymbolArrowR
		}
		sb.WriteString(fmt.Sprintf("\n  %s %s  %s", marker, b.ID, b.DisplayName))
	}
	return sb.String()
}

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "Alt+Enter", Desc: "Newline"},
		{Key: "?", Desc: "/help"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}
