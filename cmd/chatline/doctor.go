package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"chatline/internal/adapter/api"
	"chatline/internal/infra/config"
	"chatline/internal/infra/logger"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

const doctorTimeout = 10 * time.Second

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, server connectivity and local state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd.OutOrStdout(), a.cfgPath)
		},
	}
}

// runDoctor executes all health checks and reports results.
func runDoctor(ctx context.Context, out io.Writer, cfgPath string) error {
	// Some checks work without a loaded config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "API token", Fn: checkAPIToken},
		{Name: "API connectivity", Fn: checkAPIConnectivity},
		{Name: "State store", Fn: checkStateStore},
	}

	fmt.Fprintln(out, headerStyle.Render("chatline doctor"))
	fmt.Fprintln(out, strings.Repeat("=", 50))

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(ctx, cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return readOnlyStyle.Render("[WARN]")
	case StatusFail:
		return errorStyle.Render("[FAIL]")
	default:
		return "[????]"
	}
}

// checkConfigFile returns a check that verifies the config file parses.
// A missing file is only a warning: defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check the syntax and permissions of %s", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
				Fix:     "Create it to point chatline at your server (api.base_url)",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

func checkAPIToken(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	if cfg.API.Token == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no api.token configured, requests are sent without Authorization",
			Fix:     fmt.Sprintf("Run 'chatline encrypt <token>' with %s set and add it as api.token", config.KeyEnv),
		}
	}
	return CheckResult{Status: StatusPass, Message: "token configured"}
}

func checkAPIConnectivity(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	client, err := api.New(cfg.API, logger.Discard())
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()
	bots, err := client.ListBots(ctx)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s: %v", cfg.API.BaseURL, err),
			Fix:     "Check api.base_url and that the server is running",
		}
	}
	if len(bots) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s reachable but lists no bots", cfg.API.BaseURL),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable, %d bot(s)", cfg.API.BaseURL, len(bots)),
	}
}

func checkStateStore(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusFail, Message: "cannot check: config not loaded"}
	}
	if cfg.Session.StatePath == "" {
		return CheckResult{Status: StatusPass, Message: "in-memory, selection is not kept between runs"}
	}
	preferences, err := openPreferences(cfg.Session.StatePath)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Check that session.state_path is writable",
		}
	}
	if closer, ok := preferences.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	if _, err := preferences.Load(ctx); err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	return CheckResult{Status: StatusPass, Message: cfg.Session.StatePath}
}
