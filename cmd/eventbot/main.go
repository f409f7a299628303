// Command eventbot runs the campus events bot and its maintenance tasks.
//
// Usage:
//
//	eventbot run --config config.yaml
//	eventbot setup --write-config
//	eventbot seed
//	eventbot event add --title "Open day" --date 2026-11-02T10:00:00
//	eventbot event list
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"eventbot/internal/app"
	"eventbot/internal/config"
	"eventbot/internal/storage"
	logx "eventbot/pkg/logx"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "eventbot",
		Short:         "Campus events bot with scheduled reminders",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")

	root.AddCommand(runCmd(&cfgPath))
	root.AddCommand(setupCmd(&cfgPath))
	root.AddCommand(seedCmd(&cfgPath))
	root.AddCommand(eventCmd(&cfgPath))
	return root
}

func runCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), *cfgPath)
		},
	}
}

func runBot(parent context.Context, cfgPath string) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, app.WithVersion(version))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig parses cfgPath, falling back to defaults when the file does not
// exist so that offline commands work before setup.
func loadConfig(cfgPath string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
		cfg.Storage.Path = ""
		return cfg, nil
	}
	return cfg, err
}

// openStore also returns the zone event dates are written in, so dates
// entered here line up with what the reminder engine reads.
func openStore(cfgPath string) (storage.Store, *time.Location, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	loc, err := app.EventLocation(cfg)
	if err != nil {
		return nil, nil, err
	}
	st, err := app.OpenStore(cfg, logx.NewConsole("warn"))
	if err != nil {
		return nil, nil, err
	}
	return st, loc, nil
}
