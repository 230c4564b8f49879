package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"chatline/internal/domain"
)

// wireObservedMode is the server's access mode for chats the bot only watches.
const wireObservedMode = "channel_identity_observed"

type listResponse[T any] struct {
	Items []T `json:"items"`
}

type chatSummary struct {
	ID              string `json:"id"`
	BotID           string `json:"bot_id"`
	Kind            string `json:"kind"`
	Title           string `json:"title,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
	AccessMode      string `json:"access_mode,omitempty"`
	ParticipantRole string `json:"participant_role,omitempty"`
	LastObservedAt  string `json:"last_observed_at,omitempty"`
}

type createChatRequest struct {
	Kind string `json:"kind"`
}

func (s chatSummary) toDomain() domain.Conversation {
	return domain.Conversation{
		ID:              s.ID,
		BotID:           s.BotID,
		Kind:            s.Kind,
		Title:           s.Title,
		AccessMode:      accessMode(s.AccessMode),
		ParticipantRole: s.ParticipantRole,
		CreatedAt:       parseTime(s.CreatedAt),
		UpdatedAt:       parseTime(s.UpdatedAt),
		LastObservedAt:  parseTime(s.LastObservedAt),
	}
}

// accessMode maps the wire value; anything unrecognized is a participant chat.
func accessMode(wire string) domain.AccessMode {
	switch wire {
	case wireObservedMode, string(domain.AccessObserved):
		return domain.AccessObserved
	default:
		return domain.AccessParticipant
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ListBots implements domain.Directory.
func (c *Client) ListBots(ctx context.Context) ([]domain.Bot, error) {
	var resp listResponse[domain.Bot]
	if err := c.doJSON(ctx, http.MethodGet, "/bots", nil, &resp); err != nil {
		return nil, domain.WrapOp("list bots", err)
	}
	if resp.Items == nil {
		return []domain.Bot{}, nil
	}
	return resp.Items, nil
}

// ListConversations implements domain.Directory.
func (c *Client) ListConversations(ctx context.Context, botID string) ([]domain.Conversation, error) {
	var resp listResponse[chatSummary]
	if err := c.doJSON(ctx, http.MethodGet, "/bots/"+url.PathEscape(botID)+"/chats", nil, &resp); err != nil {
		return nil, domain.WrapOp("list chats", err)
	}
	convs := make([]domain.Conversation, 0, len(resp.Items))
	for _, item := range resp.Items {
		convs = append(convs, item.toDomain())
	}
	return convs, nil
}

// CreateConversation implements domain.Directory. New chats are always direct.
func (c *Client) CreateConversation(ctx context.Context, botID string) (domain.Conversation, error) {
	var resp chatSummary
	body := createChatRequest{Kind: "direct"}
	if err := c.doJSON(ctx, http.MethodPost, "/bots/"+url.PathEscape(botID)+"/chats", body, &resp); err != nil {
		return domain.Conversation{}, domain.WrapOp("create chat", err)
	}
	conv := resp.toDomain()
	if conv.BotID == "" {
		conv.BotID = botID
	}
	return conv, nil
}

// DeleteConversation implements domain.Directory.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/chats/"+url.PathEscape(conversationID), nil, nil); err != nil {
		return domain.WrapOp("delete chat", err)
	}
	return nil
}

// ListMessages implements domain.Directory.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]domain.PersistedMessage, error) {
	var resp listResponse[domain.PersistedMessage]
	if err := c.doJSON(ctx, http.MethodGet, "/chats/"+url.PathEscape(conversationID)+"/messages", nil, &resp); err != nil {
		return nil, domain.WrapOp("list messages", err)
	}
	if resp.Items == nil {
		return []domain.PersistedMessage{}, nil
	}
	return resp.Items, nil
}
