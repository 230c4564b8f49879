// Package chat implements the Bubble Tea chat TUI on top of the session store.
package chat

import (
	"context"

	"chatline/internal/domain"
)

// Session is the part of the session store the TUI binds to.
type Session interface {
	Bots() []domain.Bot
	BotID() string
	Conversations() []domain.Conversation
	ActiveConversation() (domain.Conversation, bool)
	Messages() []domain.ChatMessage

	SelectBot(ctx context.Context, botID string) error
	SelectConversation(ctx context.Context, conversationID string) error
	CreateConversation(ctx context.Context) (domain.Conversation, error)
	RemoveConversation(ctx context.Context, conversationID string) error
	SendMessage(ctx context.Context, text string) error
}

// SessionEventMsg carries a store notification into the update loop.
type SessionEventMsg struct {
	Event domain.Event
}

// SendDoneMsg signals that a SendMessage call returned.
// Gen identifies the request generation so stale completions can be discarded.
type SendDoneMsg struct {
	Err error
	Gen uint64
}

// ActionDoneMsg signals that a slash command finished in the background.
type ActionDoneMsg struct {
	Notice string
	Err    error
}

// QuitMsg signals the program to exit.
type QuitMsg struct{}
