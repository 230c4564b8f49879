package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of session state change being published.
type EventType string

const (
	EventBotSelected          EventType = "bot.selected"
	EventConversationsChanged EventType = "conversations.changed"
	EventConversationSelected EventType = "conversation.selected"
	EventMessagesReplaced     EventType = "messages.replaced"
	EventMessageAppended      EventType = "message.appended"
	EventMessageUpdated       EventType = "message.updated"
	EventSendFailed           EventType = "send.failed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type           EventType       `json:"type"`
	Timestamp      time.Time       `json:"timestamp"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event stamped with the current time. A payload that
// fails to marshal is dropped rather than failing the publish.
func NewEvent(t EventType, conversationID string, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), ConversationID: conversationID}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus lets UI bindings observe session state changes.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
