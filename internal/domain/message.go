package domain

import (
	"encoding/json"
	"time"
)

// Role constants for model message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ModelMessage is a message in the server's model-level transcript.
type ModelMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// UnmarshalJSON accepts any role encoding; a non-string role decodes as "".
func (m *ModelMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    json.RawMessage `json:"role"`
		Content Content         `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role, _ = stringField(raw.Role)
	m.Content = raw.Content
	return nil
}

// Author identifies who wrote a ChatMessage.
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

// MessageState is the rendering state of a ChatMessage. Only assistant
// messages ever leave StateComplete, and StateComplete is terminal.
type MessageState string

const (
	StateThinking   MessageState = "thinking"
	StateGenerating MessageState = "generating"
	StateComplete   MessageState = "complete"
)

// ChatMessage is one entry in the active conversation's message list.
type ChatMessage struct {
	ID        string       `json:"id"`
	Author    Author       `json:"author"`
	Sender    string       `json:"sender,omitempty"` // bot label for assistant messages
	Text      string       `json:"text"`
	State     MessageState `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
}

// AccessMode describes whether the session may write to a conversation.
type AccessMode string

const (
	AccessParticipant AccessMode = "participant"
	AccessObserved    AccessMode = "observed"
)

// Conversation is a chat known to the session. Messages of the active
// conversation are held by the session store, not here.
type Conversation struct {
	ID              string     `json:"id"`
	BotID           string     `json:"bot_id"`
	Kind            string     `json:"kind,omitempty"`
	Title           string     `json:"title,omitempty"`
	AccessMode      AccessMode `json:"access_mode"`
	ParticipantRole string     `json:"participant_role,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastObservedAt  time.Time  `json:"last_observed_at"`
}

// ReadOnly reports whether outbound sends are rejected for this conversation.
func (c Conversation) ReadOnly() bool { return c.AccessMode == AccessObserved }

// Bot is a chat bot the user can talk to.
type Bot struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Type        string `json:"type,omitempty"`
}

// PersistedMessage is a message row as stored by the server.
type PersistedMessage struct {
	ID        string          `json:"id"`
	ChatID    string          `json:"chat_id"`
	BotID     string          `json:"bot_id"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
}

// Selection is the bot and conversation the user last had open.
type Selection struct {
	BotID          string `json:"bot_id"`
	ConversationID string `json:"conversation_id"`
}
