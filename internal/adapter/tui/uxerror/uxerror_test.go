package uxerror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"chatline/internal/domain"
)

func TestHumanize(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		title string
	}{
		{"read-only", domain.WrapOp("session.SendMessage", domain.ErrReadOnlyConversation), "Read-only Chat"},
		{"no bot", domain.ErrBotNotReady, "No Bot Selected"},
		{"busy", domain.ErrSendInProgress, "Still Sending"},
		{"rate limited", &domain.TransportError{Status: 429, Message: "slow down", Err: domain.ErrRateLimit}, "Rate Limited"},
		{"auth", &domain.TransportError{Status: 401, Message: "nope", Err: domain.ErrAuthInvalid}, "Authentication Failed"},
		{"protocol", fmt.Errorf("send: %w", &domain.ProtocolError{Message: "model overloaded"}), "Reply Failed"},
		{"refused", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), "Connection Failed"},
		{"timeout", errors.New("context deadline exceeded"), "Request Timed Out"},
		{"other", errors.New("boom"), "Unexpected Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.title, Humanize(tt.err).Title)
		})
	}
}

func TestHumanizeProtocolMessage(t *testing.T) {
	fe := Humanize(&domain.ProtocolError{Message: "model overloaded"})
	assert.Equal(t, "model overloaded", fe.Message)
	assert.Contains(t, fe.Render(), "Suggestions:")
}

func TestHumanizeNil(t *testing.T) {
	assert.Equal(t, "Unknown Error", Humanize(nil).Title)
}

func TestRenderWithoutHints(t *testing.T) {
	fe := FriendlyError{Title: "Empty Message"}
	assert.Equal(t, "Empty Message", fe.Render())
}
