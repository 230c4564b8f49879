// Package uxerror translates raw errors into user-friendly messages with
// recovery hints for the TUI.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"chatline/internal/adapter/tui/theme"
	"chatline/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Connection Failed"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text (for debug)
}

// Render formats the FriendlyError for display in the TUI message list.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	// Session preconditions.
	{
		match:   is(domain.ErrReadOnlyConversation),
		produce: constantError("Read-only Chat", "This chat is observed, you cannot send messages to it.", []string{"Start a new chat with /new", "Switch to another chat with /use <id>"}),
	},
	{
		match:   is(domain.ErrBotNotReady),
		produce: constantError("No Bot Selected", "There is no bot to send the message to.", []string{"List bots with /bots", "Check that the server has at least one bot"}),
	},
	{
		match:   is(domain.ErrSendInProgress),
		produce: constantError("Still Sending", "Wait for the current reply to finish.", []string{"Cancel it with /cancel or Ctrl+C"}),
	},
	{
		match:   is(domain.ErrEmptyMessage),
		produce: constantError("Empty Message", "", nil),
	},

	// Server-reported categories.
	{
		match:   is(domain.ErrRateLimit),
		produce: constantError("Rate Limited", "The server rejected the request because of too many requests.", []string{"Wait a moment before retrying", "Lower api.requests_per_second in config"}),
	},
	{
		match:   is(domain.ErrAuthInvalid),
		produce: constantError("Authentication Failed", "The server rejected the API token.", []string{"Check api.token in config", "Run 'chatline doctor'"}),
	},
	{
		match:   is(domain.ErrNotFound),
		produce: constantError("Not Found", "The bot or chat no longer exists.", []string{"Refresh the list with /chats"}),
	},
	{
		match:   is(domain.ErrUnavailable),
		produce: constantError("Server Unavailable", "The server failed to handle the request.", []string{"Try again later"}),
	},
	{
		match: func(err error) bool {
			var pe *domain.ProtocolError
			return errors.As(err, &pe)
		},
		produce: func(err error) FriendlyError {
			return FriendlyError{
				Title:   "Reply Failed",
				Message: domain.Reason(err),
				Hints:   []string{"Send the message again"},
				Raw:     err.Error(),
			}
		},
	},

	// Network / connectivity patterns (string matching for external errors).
	{
		match:   containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach the chat server.", []string{"Verify api.base_url in config", "Check if the server is running", "Run 'chatline doctor'"}),
	},
	{
		match:   containsAny("deadline exceeded", "timeout", "context deadline"),
		produce: constantError("Request Timed Out", "The server took too long to answer.", []string{"Check your network connection", "Increase api.resp_timeout in config"}),
	},
	{
		match:   containsAny("circuit breaker is open", "too many requests"),
		produce: constantError("Server Backing Off", "Recent requests failed, new ones are paused for a moment.", []string{"Wait for api.breaker.timeout before retrying"}),
	},
}

// Humanize converts a raw error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}

	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}

	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with --verbose for more details"},
		Raw:     err.Error(),
	}
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// containsAny returns a match func that checks if the error string contains
// any of the given substrings (case-insensitive).
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

// constantError returns a produce func that always returns the same FriendlyError.
func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
