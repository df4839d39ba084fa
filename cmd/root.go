package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/apptrack/config"
	"github.com/dhcgn/apptrack/model"
	"github.com/dhcgn/apptrack/runner"
	"github.com/dhcgn/apptrack/state"
)

var commands []*cobra.Command

func register(cmd *cobra.Command) {
	commands = append(commands, cmd)
}

// AddCommands attaches every subcommand to root.
func AddCommands(root *cobra.Command) {
	for _, c := range commands {
		root.AddCommand(c)
	}
}

// app bundles what a subcommand needs: the validated config, the logger and
// a runner over the record file.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	runner  *runner.Runner
	journal *state.Journal
	cleanup func() error
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, cleanup, err := setupLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	journal, err := state.OpenJournal(cfg.JournalPath())
	if err != nil {
		_ = cleanup()
		return nil, err
	}

	r, err := runner.New(cfg, logger, runner.Deps{Journal: journal})
	if err != nil {
		_ = journal.Close()
		_ = cleanup()
		return nil, fmt.Errorf("runner.New: %w", err)
	}
	logger.Debug("records loaded", "records", cfg.RecordsPath, "dataDir", cfg.DataDir)
	return &app{cfg: cfg, logger: logger, runner: r, journal: journal, cleanup: cleanup}, nil
}

func (a *app) Close() error {
	return errors.Join(a.runner.Close(), a.journal.Close(), a.cleanup())
}

// withApp runs fn with an opened app and a context canceled on interrupt.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return errors.Join(fn(ctx, a), a.Close())
}

func (a *app) find(ctx context.Context, ref string) (model.Entity, error) {
	e, err := a.runner.Find(ctx, ref)
	if err != nil {
		return model.Entity{}, fmt.Errorf("application %q: %w", ref, err)
	}
	return e, nil
}

func setupLogger(cfg config.Config, console io.Writer) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("apptrack-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(console, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(console, opts)
	return slog.New(handler), cleanup, nil
}
