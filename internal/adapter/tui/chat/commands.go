package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// sendMessageCmd runs SendMessage in a background goroutine with a
// cancellable context. gen identifies the request so completions of
// cancelled requests can be discarded.
func sendMessageCmd(ctx context.Context, s Session, text string, gen uint64) tea.Cmd {
	return func() tea.Msg {
		return SendDoneMsg{Err: s.SendMessage(ctx, text), Gen: gen}
	}
}

// actionCmd runs a store operation off the update loop and reports notice
// on success.
func actionCmd(notice string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return ActionDoneMsg{Err: err}
		}
		return ActionDoneMsg{Notice: notice}
	}
}
