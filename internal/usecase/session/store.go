// Package session holds the client-side state of a chat: the selected bot,
// its conversations and the message list of the active conversation.
package session

import (
	"context"
	"log/slog"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"chatline/internal/domain"
)

const defaultAssistantLabel = "Assistant"

// StoreDeps holds injected dependencies for the store.
type StoreDeps struct {
	Directory      domain.Directory
	Transport      domain.StreamTransport
	Preferences    domain.Preferences // optional, nil = selection not persisted
	Bus            domain.EventBus    // optional, nil = no events
	Logger         *slog.Logger
	AssistantLabel string           // fallback sender label, default "Assistant"
	Now            func() time.Time // optional, default time.Now
}

// Store is the conversation session store. All methods are safe for
// concurrent use. Network calls are made without holding the state lock, so
// readers always observe a consistent snapshot.
type Store struct {
	deps StoreDeps

	mu            sync.RWMutex
	bots          []domain.Bot
	botID         string
	conversations []domain.Conversation // most recent first
	activeID      string
	messages      []domain.ChatMessage
	restored      bool
	entropy       *ulid.MonotonicEntropy

	sending      atomic.Bool
	initializing atomic.Bool
}

// NewStore creates a store with an empty view. Call Initialize to restore the
// persisted selection and load the first view.
func NewStore(deps StoreDeps) *Store {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if strings.TrimSpace(deps.AssistantLabel) == "" {
		deps.AssistantLabel = defaultAssistantLabel
	}
	return &Store{
		deps:    deps,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(deps.Now().UnixNano())), 0),
	}
}

// Initialize resolves the bot, loads its conversations and the messages of
// the active one. A call made while another initialization is running
// returns immediately.
func (s *Store) Initialize(ctx context.Context) error {
	if !s.initializing.CompareAndSwap(false, true) {
		return nil
	}
	defer s.initializing.Store(false)

	s.restoreSelection(ctx)
	return domain.WrapOp("session.Initialize", s.reload(ctx))
}

// SelectBot switches to botID, clears the active conversation and reloads
// the conversation list. Selecting the current bot is a no-op.
func (s *Store) SelectBot(ctx context.Context, botID string) error {
	const op = "session.SelectBot"
	botID = strings.TrimSpace(botID)
	if botID == "" {
		return domain.NewDomainError(op, domain.ErrInvalidInput, "bot id is empty")
	}

	s.mu.Lock()
	if s.botID == botID {
		s.mu.Unlock()
		return nil
	}
	s.botID = botID
	s.activeID = ""
	s.conversations = nil
	s.messages = nil
	s.mu.Unlock()

	s.deps.Logger.Debug("bot selected", "bot", botID)
	s.publish(ctx, domain.EventBotSelected, "", map[string]string{"bot_id": botID})
	s.publish(ctx, domain.EventConversationsChanged, "", []domain.Conversation{})
	s.publish(ctx, domain.EventMessagesReplaced, "", []domain.ChatMessage{})

	if !s.initializing.CompareAndSwap(false, true) {
		return nil
	}
	defer s.initializing.Store(false)
	return domain.WrapOp(op, s.reload(ctx))
}

// SelectConversation makes conversationID active and loads its persisted
// messages. Selecting the active conversation is a no-op.
func (s *Store) SelectConversation(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil
	}

	s.mu.Lock()
	if s.activeID == conversationID {
		s.mu.Unlock()
		return nil
	}
	s.activeID = conversationID
	s.messages = nil
	s.mu.Unlock()

	s.deps.Logger.Debug("conversation selected", "conversation", conversationID)
	s.publish(ctx, domain.EventConversationSelected, conversationID, nil)
	s.persist(ctx)
	return domain.WrapOp("session.SelectConversation", s.loadMessages(ctx, conversationID))
}

// CreateConversation creates a conversation for the current bot, puts it at
// the front of the list and makes it active with an empty message list.
func (s *Store) CreateConversation(ctx context.Context) (domain.Conversation, error) {
	const op = "session.CreateConversation"
	botID := s.ensureBot(ctx)
	if botID == "" {
		return domain.Conversation{}, domain.WrapOp(op, domain.ErrBotNotReady)
	}
	conv, err := s.create(ctx, botID)
	if err != nil {
		return domain.Conversation{}, domain.WrapOp(op, err)
	}
	return conv, nil
}

// RemoveConversation deletes conversationID. When it was active, the first
// remaining conversation becomes active, or the view is cleared.
func (s *Store) RemoveConversation(ctx context.Context, conversationID string) error {
	const op = "session.RemoveConversation"
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil
	}

	if err := s.deps.Directory.DeleteConversation(ctx, conversationID); err != nil {
		return domain.WrapOp(op, err)
	}

	s.mu.Lock()
	s.conversations = without(s.conversations, conversationID)
	remaining := slices.Clone(s.conversations)
	wasActive := s.activeID == conversationID
	next := ""
	if wasActive {
		if len(remaining) > 0 {
			next = remaining[0].ID
		}
		s.activeID = next
		s.messages = nil
	}
	s.mu.Unlock()

	s.deps.Logger.Debug("conversation removed", "conversation", conversationID, "active", wasActive)
	s.publish(ctx, domain.EventConversationsChanged, "", remaining)
	if !wasActive {
		return nil
	}
	s.persist(ctx)
	if next == "" {
		s.publish(ctx, domain.EventMessagesReplaced, "", []domain.ChatMessage{})
		return nil
	}
	s.publish(ctx, domain.EventConversationSelected, next, nil)
	return domain.WrapOp(op, s.loadMessages(ctx, next))
}

// Bots returns the bots seen by the last directory listing.
func (s *Store) Bots() []domain.Bot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.bots)
}

// BotID returns the selected bot id, or "" when none is selected.
func (s *Store) BotID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.botID
}

// Conversations returns the known conversations, most recent first.
func (s *Store) Conversations() []domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.conversations)
}

// ParticipantConversations returns the conversations the user may write to.
func (s *Store) ParticipantConversations() []domain.Conversation {
	return s.filterConversations(func(c domain.Conversation) bool { return !c.ReadOnly() })
}

// ObservedConversations returns the read-only conversations.
func (s *Store) ObservedConversations() []domain.Conversation {
	return s.filterConversations(domain.Conversation.ReadOnly)
}

func (s *Store) filterConversations(keep func(domain.Conversation) bool) []domain.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Conversation
	for _, c := range s.conversations {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// ActiveConversationID returns the active conversation id, or "".
func (s *Store) ActiveConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// ActiveConversation returns the active conversation when it is in the
// known list.
func (s *Store) ActiveConversation() (domain.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked()
}

// ActiveReadOnly reports whether the active conversation rejects sends.
func (s *Store) ActiveReadOnly() bool {
	conv, ok := s.ActiveConversation()
	return ok && conv.ReadOnly()
}

// Messages returns a snapshot of the active conversation's messages.
func (s *Store) Messages() []domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Sending reports whether a SendMessage call is in flight.
func (s *Store) Sending() bool { return s.sending.Load() }

// Initializing reports whether an Initialize or SelectBot reload is running.
func (s *Store) Initializing() bool { return s.initializing.Load() }

func (s *Store) activeLocked() (domain.Conversation, bool) {
	if s.activeID == "" {
		return domain.Conversation{}, false
	}
	i := slices.IndexFunc(s.conversations, func(c domain.Conversation) bool { return c.ID == s.activeID })
	if i < 0 {
		return domain.Conversation{}, false
	}
	return s.conversations[i], true
}

// restoreSelection seeds the view from the persisted selection, once.
func (s *Store) restoreSelection(ctx context.Context) {
	s.mu.RLock()
	restored := s.restored
	s.mu.RUnlock()
	if restored || s.deps.Preferences == nil {
		return
	}

	sel, err := s.deps.Preferences.Load(ctx)
	if err != nil {
		s.deps.Logger.Warn("failed to load saved selection", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.restored = true
	if err != nil {
		return
	}
	if s.botID == "" {
		s.botID = sel.BotID
	}
	if s.activeID == "" {
		s.activeID = sel.ConversationID
	}
}

func (s *Store) persist(ctx context.Context) {
	if s.deps.Preferences == nil {
		return
	}
	s.mu.RLock()
	sel := domain.Selection{BotID: s.botID, ConversationID: s.activeID}
	s.mu.RUnlock()
	if err := s.deps.Preferences.Save(context.WithoutCancel(ctx), sel); err != nil {
		s.deps.Logger.Warn("failed to save selection", "error", err)
	}
}

// reload resolves the bot and rebuilds the conversation list and the active
// conversation's messages.
func (s *Store) reload(ctx context.Context) error {
	botID := s.ensureBot(ctx)
	if botID == "" {
		s.mu.Lock()
		s.conversations = nil
		s.activeID = ""
		s.messages = nil
		s.mu.Unlock()
		s.persist(ctx)
		s.publish(ctx, domain.EventConversationsChanged, "", []domain.Conversation{})
		s.publish(ctx, domain.EventMessagesReplaced, "", []domain.ChatMessage{})
		return nil
	}

	convs, err := s.deps.Directory.ListConversations(ctx, botID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.botID != botID {
		// Another bot was selected while listing.
		s.mu.Unlock()
		return nil
	}
	s.conversations = convs
	if !slices.ContainsFunc(convs, func(c domain.Conversation) bool { return c.ID == s.activeID }) {
		s.activeID = ""
		if len(convs) > 0 {
			s.activeID = convs[0].ID
		}
	}
	activeID := s.activeID
	if activeID == "" {
		s.messages = nil
	}
	snapshot := slices.Clone(convs)
	s.mu.Unlock()

	s.deps.Logger.Debug("conversations loaded", "bot", botID, "count", len(convs), "active", activeID)
	s.publish(ctx, domain.EventConversationsChanged, "", snapshot)
	s.persist(ctx)
	if activeID == "" {
		s.publish(ctx, domain.EventMessagesReplaced, "", []domain.ChatMessage{})
		return nil
	}
	s.publish(ctx, domain.EventConversationSelected, activeID, nil)
	return s.loadMessages(ctx, activeID)
}

// ensureBot lists bots and keeps the selected bot when it is still listed,
// falling back to the first one. A listing failure keeps the current
// selection.
func (s *Store) ensureBot(ctx context.Context) string {
	bots, err := s.deps.Directory.ListBots(ctx)
	if err != nil {
		s.deps.Logger.Error("failed to list bots", "error", err)
		return s.BotID()
	}

	s.mu.Lock()
	s.bots = bots
	prev := s.botID
	switch {
	case len(bots) == 0:
		s.botID = ""
	case !slices.ContainsFunc(bots, func(b domain.Bot) bool { return b.ID == s.botID }):
		s.botID = bots[0].ID
	}
	botID := s.botID
	s.mu.Unlock()

	if botID != prev {
		s.deps.Logger.Debug("bot resolved", "bot", botID, "previous", prev)
		s.publish(ctx, domain.EventBotSelected, "", map[string]string{"bot_id": botID})
	}
	return botID
}

func (s *Store) create(ctx context.Context, botID string) (domain.Conversation, error) {
	conv, err := s.deps.Directory.CreateConversation(ctx, botID)
	if err != nil {
		return domain.Conversation{}, err
	}

	s.mu.Lock()
	s.conversations = append([]domain.Conversation{conv}, without(s.conversations, conv.ID)...)
	s.activeID = conv.ID
	s.messages = nil
	snapshot := slices.Clone(s.conversations)
	s.mu.Unlock()

	s.deps.Logger.Debug("conversation created", "conversation", conv.ID, "bot", botID)
	s.publish(ctx, domain.EventConversationsChanged, "", snapshot)
	s.publish(ctx, domain.EventConversationSelected, conv.ID, conv)
	s.publish(ctx, domain.EventMessagesReplaced, conv.ID, []domain.ChatMessage{})
	s.persist(ctx)
	return conv, nil
}

// loadMessages replaces the message list with the persisted history of
// conversationID, unless another conversation became active meanwhile.
func (s *Store) loadMessages(ctx context.Context, conversationID string) error {
	rows, err := s.deps.Directory.ListMessages(ctx, conversationID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.activeID != conversationID {
		s.mu.Unlock()
		return nil
	}
	msgs := make([]domain.ChatMessage, 0, len(rows))
	for _, row := range rows {
		if msg, ok := s.fromPersistedLocked(row); ok {
			msgs = append(msgs, msg)
		}
	}
	s.messages = msgs
	snapshot := slices.Clone(msgs)
	s.mu.Unlock()

	s.publish(ctx, domain.EventMessagesReplaced, conversationID, snapshot)
	return nil
}

// touch moves conversationID to the front of the list with a fresh
// UpdatedAt.
func (s *Store) touch(ctx context.Context, conversationID string) {
	s.mu.Lock()
	i := slices.IndexFunc(s.conversations, func(c domain.Conversation) bool { return c.ID == conversationID })
	if i < 0 {
		s.mu.Unlock()
		return
	}
	conv := s.conversations[i]
	conv.UpdatedAt = s.deps.Now()
	s.conversations = append([]domain.Conversation{conv}, slices.Delete(s.conversations, i, i+1)...)
	snapshot := slices.Clone(s.conversations)
	s.mu.Unlock()

	s.publish(ctx, domain.EventConversationsChanged, "", snapshot)
}

// publish is a no-op without a bus. The caller's cancellation never drops
// a state change notification.
func (s *Store) publish(ctx context.Context, t domain.EventType, conversationID string, payload any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(context.WithoutCancel(ctx), domain.NewEvent(t, conversationID, payload))
}

// newIDLocked returns a fresh ULID. Times outside the ULID range are
// clamped. Callers hold s.mu.
func (s *Store) newIDLocked(t time.Time) string {
	var ms uint64
	if t.After(time.UnixMilli(0)) {
		ms = min(ulid.Timestamp(t), ulid.MaxTime())
	}
	id, err := ulid.New(ms, s.entropy)
	if err != nil {
		return ulid.Make().String()
	}
	return id.String()
}

// senderLocked resolves the label shown for assistant messages of botID.
func (s *Store) senderLocked(botID string) string {
	if botID == "" {
		botID = s.botID
	}
	if botID == "" {
		return s.deps.AssistantLabel
	}
	i := slices.IndexFunc(s.bots, func(b domain.Bot) bool { return b.ID == botID })
	if i < 0 {
		return s.deps.AssistantLabel
	}
	if name := strings.TrimSpace(s.bots[i].DisplayName); name != "" {
		return name
	}
	return s.bots[i].ID
}

func without(convs []domain.Conversation, id string) []domain.Conversation {
	return slices.DeleteFunc(slices.Clone(convs), func(c domain.Conversation) bool { return c.ID == id })
}
