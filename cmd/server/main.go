package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"wplacebot/internal/app"
	"wplacebot/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "wplacebot",
	Short:        "Paint charge monitor for wplace accounts",
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run panels, notifications and the HTTP API",
	RunE:  runServe,
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Save or restore the state snapshot",
}

var stateSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Write a snapshot of local state now",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			saved, err := a.Snapshots().Save(ctx, "manual")
			if err != nil {
				return err
			}
			if !saved {
				return fmt.Errorf("snapshot backend not configured")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "snapshot saved")
			return nil
		})
	},
}

var stateRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Overwrite local state with the newest snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res := a.Restore(ctx)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Restored() {
				return fmt.Errorf("restore %s", res.Status)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./wplacebot.yaml if present)")
	stateCmd.AddCommand(stateSaveCmd, stateRestoreCmd)
	rootCmd.AddCommand(serveCmd, stateCmd)
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func setup() (*app.App, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg)
	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, logger, fmt.Errorf("init: %w", err)
	}
	return a, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, logger, err := setup()
	if err != nil {
		return err
	}
	logger.Info("starting wplacebot")
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

func withApp(cmd *cobra.Command, fn func(context.Context, *app.App) error) error {
	a, _, err := setup()
	if err != nil {
		return err
	}
	runErr := fn(cmd.Context(), a)
	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
