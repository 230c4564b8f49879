package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"chatline/internal/domain"
	"chatline/internal/usecase/session"
)

const timeLayout = "2006-01-02 15:04"

func newBotsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bots",
		Short: "List bots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(_ context.Context, rt *runtime) error {
				printBots(cmd.OutOrStdout(), rt.store)
				return nil
			})
		},
	}
}

func newUseBotCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "use-bot <bot-id>",
		Short: "Select the bot to chat with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, rt *runtime) error {
				if err := selectBot(ctx, rt.store, args[0]); err != nil {
					return err
				}
				printChats(cmd.OutOrStdout(), rt.store)
				return nil
			})
		},
	}
}

func newChatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List chats of the selected bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(_ context.Context, rt *runtime) error {
				printChats(cmd.OutOrStdout(), rt.store)
				return nil
			})
		},
	}
}

func newUseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "use <chat-id>",
		Short: "Make a chat active and show its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, rt *runtime) error {
				if err := selectChat(ctx, rt.store, args[0]); err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), rt.store)
				return nil
			})
		},
	}
}

func newNewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a new chat with the selected bot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(ctx context.Context, rt *runtime) error {
				conv, err := rt.store.CreateConversation(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created chat %s\n", idStyle.Render(conv.ID))
				return nil
			})
		},
	}
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <chat-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a chat",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, rt *runtime) error {
				if err := rt.store.RemoveConversation(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted chat %s\n", idStyle.Render(args[0]))
				return nil
			})
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the messages of the active chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(_ context.Context, rt *runtime) error {
				printHistory(cmd.OutOrStdout(), rt.store)
				return nil
			})
		},
	}
}

// selectBot switches to a listed bot; unknown ids are rejected.
func selectBot(ctx context.Context, store *session.Store, botID string) error {
	botID = strings.TrimSpace(botID)
	if !slices.ContainsFunc(store.Bots(), func(b domain.Bot) bool { return b.ID == botID }) {
		return fmt.Errorf("%w: bot %q", domain.ErrNotFound, botID)
	}
	return store.SelectBot(ctx, botID)
}

// selectChat switches to a known chat of the selected bot.
func selectChat(ctx context.Context, store *session.Store, chatID string) error {
	chatID = strings.TrimSpace(chatID)
	if !slices.ContainsFunc(store.Conversations(), func(c domain.Conversation) bool { return c.ID == chatID }) {
		return fmt.Errorf("%w: chat %q", domain.ErrNotFound, chatID)
	}
	return store.SelectConversation(ctx, chatID)
}

func printBots(w io.Writer, store *session.Store) {
	bots := store.Bots()
	if len(bots) == 0 {
		fmt.Fprintln(w, headerStyle.Render("No bots available"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Bots (%d)", len(bots))))
	selected := store.BotID()
	for _, b := range bots {
		marker := " "
		if b.ID == selected {
			marker = "*"
		}
		name := strings.TrimSpace(b.DisplayName)
		if name == "" {
			name = b.ID
		}
		fmt.Fprintf(w, "%s %s  %s\n", marker, titleStyle.Render(name), idStyle.Render(b.ID))
	}
}

func printChats(w io.Writer, store *session.Store) {
	participant := store.ParticipantConversations()
	observed := store.ObservedConversations()
	if len(participant) == 0 && len(observed) == 0 {
		fmt.Fprintln(w, headerStyle.Render("No chats yet"))
		return
	}
	active := store.ActiveConversationID()

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Chats (%d)", len(participant))))
	for _, c := range participant {
		printChat(w, c, active)
	}
	if len(observed) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Observed (%d)", len(observed))))
		for _, c := range observed {
			printChat(w, c, active)
		}
	}
}

func printChat(w io.Writer, c domain.Conversation, active string) {
	marker := " "
	if c.ID == active {
		marker = "*"
	}
	title := c.Title
	if title == "" {
		title = "(untitled)"
	}
	line := fmt.Sprintf("%s %s  %s", marker, titleStyle.Render(title), idStyle.Render(c.ID))
	if !c.UpdatedAt.IsZero() {
		line += "  " + dateStyle.Render(c.UpdatedAt.Local().Format(timeLayout))
	}
	if c.ReadOnly() {
		line += "  " + readOnlyStyle.Render("read-only")
	}
	fmt.Fprintln(w, line)
}

func printHistory(w io.Writer, store *session.Store) {
	msgs := store.Messages()
	if store.ActiveConversationID() == "" {
		fmt.Fprintln(w, headerStyle.Render("No active chat"))
		return
	}
	if len(msgs) == 0 {
		fmt.Fprintln(w, headerStyle.Render("No messages yet"))
		return
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "%s %s\n%s\n\n", authorLabel(m), dateStyle.Render(m.CreatedAt.Local().Format(timeLayout)), m.Text)
	}
}

func authorLabel(m domain.ChatMessage) string {
	if m.Author == domain.AuthorUser {
		return userStyle.Render("You")
	}
	return senderStyle.Render(m.Sender)
}
