package main

import (
	"context"

	"github.com/spf13/cobra"

	"chatline/internal/adapter/tui/chat"
)

func newTUICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Chat in a full-screen terminal UI",
		Long: `Chat in a full-screen terminal UI. Replies render as markdown once they
complete. Console logging is muted while the UI runs; set logger.output to a
file to keep logs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.fullscreen = true
			return a.withSession(cmd, func(ctx context.Context, rt *runtime) error {
				return chat.Run(ctx, chat.ModelDeps{Session: rt.store, Logger: rt.log}, rt.bus)
			})
		},
	}
}
