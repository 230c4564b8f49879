package session

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"chatline/internal/domain"
)

// fromPersistedLocked converts a stored message row. Rows of other roles or
// without text are dropped. Callers hold s.mu.
func (s *Store) fromPersistedLocked(row domain.PersistedMessage) (domain.ChatMessage, bool) {
	var author domain.Author
	switch row.Role {
	case domain.RoleUser:
		author = domain.AuthorUser
	case domain.RoleAssistant:
		author = domain.AuthorAssistant
	default:
		return domain.ChatMessage{}, false
	}

	text := domain.PersistedText(row.Content)
	if text == "" {
		return domain.ChatMessage{}, false
	}

	createdAt, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(row.CreatedAt))
	if err != nil || createdAt.Before(time.Unix(0, 0)) {
		createdAt = s.deps.Now()
	}
	id := row.ID
	if id == "" {
		id = s.newIDLocked(createdAt)
	}

	msg := domain.ChatMessage{
		ID:        id,
		Author:    author,
		Text:      text,
		State:     domain.StateComplete,
		CreatedAt: createdAt,
	}
	if author == domain.AuthorAssistant {
		msg.Sender = s.senderLocked(row.BotID)
	}
	return msg, true
}

// appendLocked adds a message stamped now and returns a copy of it.
// Callers hold s.mu.
func (s *Store) appendLocked(author domain.Author, text string, state domain.MessageState) domain.ChatMessage {
	now := s.deps.Now()
	msg := domain.ChatMessage{
		ID:        s.newIDLocked(now),
		Author:    author,
		Text:      text,
		State:     state,
		CreatedAt: now,
	}
	if author == domain.AuthorAssistant {
		msg.Sender = s.senderLocked("")
	}
	s.messages = append(s.messages, msg)
	return msg
}

// appendExchange adds the user's message and the assistant placeholder in
// one step. It fails when conversationID is no longer active or is read-only.
func (s *Store) appendExchange(conversationID, text string) (domain.ChatMessage, domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID != conversationID {
		return domain.ChatMessage{}, domain.ChatMessage{}, fmt.Errorf("%w: active chat changed", domain.ErrInvalidInput)
	}
	if conv, ok := s.activeLocked(); ok && conv.ReadOnly() {
		return domain.ChatMessage{}, domain.ChatMessage{}, domain.ErrReadOnlyConversation
	}
	user := s.appendLocked(domain.AuthorUser, text, domain.StateComplete)
	placeholder := s.appendLocked(domain.AuthorAssistant, "", domain.StateThinking)
	return user, placeholder, nil
}

// appendAssistant adds a completed assistant message while conversationID
// is still active.
func (s *Store) appendAssistant(conversationID, text string) (domain.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID != conversationID {
		return domain.ChatMessage{}, false
	}
	return s.appendLocked(domain.AuthorAssistant, text, domain.StateComplete), true
}

// patch sets the text and state of message id. It does nothing once the
// message left the live list, for example after the user switched
// conversations, or once the message is complete.
func (s *Store) patch(conversationID, id, text string, state domain.MessageState) (domain.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID != conversationID {
		return domain.ChatMessage{}, false
	}
	i := slices.IndexFunc(s.messages, func(m domain.ChatMessage) bool { return m.ID == id })
	if i < 0 || s.messages[i].State == domain.StateComplete {
		return domain.ChatMessage{}, false
	}
	s.messages[i].Text = text
	s.messages[i].State = state
	return s.messages[i], true
}
