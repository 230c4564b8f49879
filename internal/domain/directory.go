package domain

import (
	"context"
	"io"
)

// Directory is the request/response side of the chat API: bots,
// conversations and persisted history.
type Directory interface {
	ListBots(ctx context.Context) ([]Bot, error)
	ListConversations(ctx context.Context, botID string) ([]Conversation, error)
	CreateConversation(ctx context.Context, botID string) (Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	ListMessages(ctx context.Context, conversationID string) ([]PersistedMessage, error)
}

// StreamTransport opens the streaming response for one outbound message.
// Connection failures, non-success statuses and missing bodies are returned
// as errors before any byte of the body is handed out. Closing the returned
// body abandons the stream.
type StreamTransport interface {
	OpenStream(ctx context.Context, conversationID, query string) (io.ReadCloser, error)
}

// Preferences persists the user's last selection across restarts.
type Preferences interface {
	Load(ctx context.Context) (Selection, error)
	Save(ctx context.Context, sel Selection) error
}
