package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"chatline/internal/domain"
)

// Run starts the chat TUI and blocks until it exits. Store notifications
// published on bus are forwarded into the update loop; cancelling ctx quits.
func Run(ctx context.Context, deps ModelDeps, bus domain.EventBus, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithMouseCellMotion()}, opts...)
	program := tea.NewProgram(NewChatModel(deps), opts...)

	if bus != nil {
		unsubscribe := bus.SubscribeAll(func(_ context.Context, e domain.Event) {
			program.Send(SessionEventMsg{Event: e})
		})
		defer unsubscribe()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			program.Send(QuitMsg{})
		case <-done:
		}
	}()

	_, err := program.Run()
	return err
}
