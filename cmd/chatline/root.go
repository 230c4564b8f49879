package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"chatline/internal/adapter/api"
	"chatline/internal/adapter/prefs"
	"chatline/internal/domain"
	"chatline/internal/infra/config"
	"chatline/internal/infra/logger"
	"chatline/internal/infra/tracer"
	"chatline/internal/usecase/eventbus"
	"chatline/internal/usecase/session"
)

var (
	version = "dev"
	commit  = "unknown"
)

// app carries the global flags shared by every command.
type app struct {
	cfgPath string
	verbose bool

	// fullscreen drops console log output, which would tear the TUI.
	fullscreen bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "chatline",
		Short: "Chat with bots from the terminal",
		Long: `chatline talks to a chat server: it lists your bots and chats, shows
history and streams replies as they are generated.

Quick Start:
  chatline bots                 # List bots, * marks the selected one
  chatline chats                # List chats of the selected bot
  chatline send "hello there"   # Send on the active chat (created if needed)
  chatline repl                 # Interactive session
  chatline tui                  # Full-screen chat`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", defaultConfigPath(), "Config file path")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newBotsCmd(a),
		newUseBotCmd(a),
		newChatsCmd(a),
		newUseCmd(a),
		newNewCmd(a),
		newRmCmd(a),
		newHistoryCmd(a),
		newSendCmd(a),
		newReplCmd(a),
		newTUICmd(a),
		newEncryptCmd(),
		newDoctorCmd(a),
	)
	return root
}

// defaultConfigPath is $CHATLINE_CONFIG, else ~/.chatline/config.yaml.
func defaultConfigPath() string {
	if p := os.Getenv("CHATLINE_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".chatline", "config.yaml")
}

// runtime is the wired object graph behind one command invocation.
type runtime struct {
	cfg     *config.Config
	log     *slog.Logger
	client  *api.Client
	bus     *eventbus.Bus
	store   *session.Store
	closers []func() error
}

// open loads the config and wires logger, tracer, API client, preferences,
// event bus and session store. Callers must call close.
func (a *app) open(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if a.verbose {
		cfg.Logger.Level = "debug"
	}

	rt := &runtime{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			rt.close()
		}
	}()

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	rt.closers = append(rt.closers, logCloser)
	if a.fullscreen && logger.IsConsole(cfg.Logger.Output) {
		log = logger.Discard()
	}
	rt.log = log

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}
	rt.closers = append(rt.closers, func() error { return tracerShutdown(context.Background()) })

	rt.client, err = api.New(cfg.API, log)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	preferences, err := openPreferences(cfg.Session.StatePath)
	if err != nil {
		return nil, err
	}
	if closer, isCloser := preferences.(interface{ Close() error }); isCloser {
		rt.closers = append(rt.closers, closer.Close)
	}

	rt.bus = eventbus.New(log)
	rt.closers = append(rt.closers, func() error { rt.bus.Close(); return nil })

	rt.store = session.NewStore(session.StoreDeps{
		Directory:      rt.client,
		Transport:      rt.client,
		Preferences:    preferences,
		Bus:            rt.bus,
		Logger:         log,
		AssistantLabel: cfg.Session.AssistantLabel,
	})
	ok = true
	return rt, nil
}

// openPreferences returns the SQLite store, or an in-memory one when
// statePath is empty.
func openPreferences(statePath string) (domain.Preferences, error) {
	if statePath == "" {
		return prefs.NewMemoryStore(), nil
	}
	store, err := prefs.NewSQLiteStore(statePath)
	if err != nil {
		return nil, fmt.Errorf("state: %w", err)
	}
	return store, nil
}

// close releases resources in reverse order of acquisition.
func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && rt.log != nil {
			rt.log.Warn("shutdown step failed", "error", err)
		}
	}
	rt.closers = nil
}

// withSession opens the runtime, initializes the store and runs fn.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	ctx := cmd.Context()
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.store.Initialize(ctx); err != nil {
		return err
	}
	return fn(ctx, rt)
}
