package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"chatline/internal/domain"
)

// eventFlush is published by the CLI itself; the renderer acknowledges it
// once every earlier event has been printed.
const eventFlush domain.EventType = "cli.flush"

const failurePrefix = "Failed to send message: "

// renderer prints assistant replies as they stream in. It runs on the event
// bus goroutine of its subscription, so events arrive in publish order.
type renderer struct {
	out     io.Writer
	target  string
	printed string
	flushed chan struct{}

	// failureShown is set when the last send's failure was printed as its
	// reply. Read it only after flush.
	failureShown bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, flushed: make(chan struct{}, 1)}
}

func (r *renderer) handle(_ context.Context, e domain.Event) {
	if e.Type == eventFlush {
		r.flushed <- struct{}{}
		return
	}
	if e.Type != domain.EventMessageAppended && e.Type != domain.EventMessageUpdated {
		return
	}
	var msg domain.ChatMessage
	if err := json.Unmarshal(e.Payload, &msg); err != nil || msg.Author != domain.AuthorAssistant {
		return
	}

	switch {
	case e.Type == domain.EventMessageAppended && msg.State == domain.StateThinking:
		r.target = msg.ID
		r.printed = ""
		fmt.Fprintf(r.out, "%s ", senderStyle.Render(msg.Sender+":"))
	case e.Type == domain.EventMessageAppended:
		fmt.Fprintf(r.out, "%s %s\n", senderStyle.Render(msg.Sender+":"), msg.Text)
	case msg.ID == r.target:
		r.update(msg)
	}
}

func (r *renderer) update(msg domain.ChatMessage) {
	switch {
	case strings.HasPrefix(msg.Text, failurePrefix):
		r.failureShown = true
		if r.printed != "" {
			fmt.Fprintln(r.out)
		}
		fmt.Fprint(r.out, errorStyle.Render(msg.Text))
	case strings.TrimSpace(r.printed) == msg.Text:
	case strings.HasPrefix(msg.Text, r.printed):
		fmt.Fprint(r.out, msg.Text[len(r.printed):])
	default:
		if r.printed != "" {
			fmt.Fprintln(r.out)
		}
		fmt.Fprint(r.out, msg.Text)
	}
	r.printed = msg.Text
	if msg.State == domain.StateComplete {
		fmt.Fprintln(r.out)
		r.target = ""
	}
}

// flush waits until the renderer has printed everything published so far.
func (r *renderer) flush(ctx context.Context, bus domain.EventBus) {
	bus.Publish(ctx, domain.NewEvent(eventFlush, "", nil))
	select {
	case <-r.flushed:
	case <-ctx.Done():
	}
}

// send sends text and waits for the reply to be printed.
func send(ctx context.Context, rt *runtime, r *renderer, text string) error {
	r.failureShown = false
	err := rt.store.SendMessage(ctx, text)
	r.flush(context.WithoutCancel(ctx), rt.bus)
	return err
}

func newSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send <text...>",
		Short: "Send a message on the active chat and stream the reply",
		Long: `Send a message on the active chat. A new chat is created when none is
active. The reply is printed as it streams in.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, rt *runtime) error {
				r := newRenderer(cmd.OutOrStdout())
				unsubscribe := rt.bus.SubscribeAll(r.handle)
				defer unsubscribe()
				return send(ctx, rt, r, strings.Join(args, " "))
			})
		},
	}
}

func newReplCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Chat interactively",
		Long: `Chat interactively. Lines are sent on the active chat; lines starting
with / are commands (type /help).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(ctx context.Context, rt *runtime) error {
				r := newRenderer(cmd.OutOrStdout())
				unsubscribe := rt.bus.SubscribeAll(r.handle)
				defer unsubscribe()
				return repl(ctx, rt, r, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
}

const replHelp = `Commands:
  /bots            list bots
  /bot <id>        select a bot
  /chats           list chats
  /use <id>        select a chat
  /new             start a new chat
  /rm <id>         delete a chat
  /history         show the active chat
  /quit            leave`

var errQuit = errors.New("quit")

func repl(ctx context.Context, rt *runtime, r *renderer, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	printChats(out, rt.store)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(out, promptStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var err error
		r.failureShown = false
		if strings.HasPrefix(line, "/") {
			err = replCommand(ctx, rt, out, line)
		} else {
			err = send(ctx, rt, r, line)
		}
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil && !r.failureShown:
			fmt.Fprintln(out, errorStyle.Render(err.Error()))
		}
	}
}

func replCommand(ctx context.Context, rt *runtime, out io.Writer, line string) error {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		fmt.Fprintln(out, replHelp)
	case "bots":
		printBots(out, rt.store)
	case "bot":
		if err := selectBot(ctx, rt.store, arg); err != nil {
			return err
		}
		printChats(out, rt.store)
	case "chats":
		printChats(out, rt.store)
	case "use":
		if err := selectChat(ctx, rt.store, arg); err != nil {
			return err
		}
		printHistory(out, rt.store)
	case "new":
		conv, err := rt.store.CreateConversation(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Created chat %s\n", idStyle.Render(conv.ID))
	case "rm":
		if err := rt.store.RemoveConversation(ctx, arg); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted chat %s\n", idStyle.Render(arg))
	case "history":
		printHistory(out, rt.store)
	default:
		return fmt.Errorf("unknown command /%s, type /help", name)
	}
	return nil
}
