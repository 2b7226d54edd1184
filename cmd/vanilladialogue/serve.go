package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikastamm/mantella-vanilla-dialogue/internal/app"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/config"
	"github.com/mikastamm/mantella-vanilla-dialogue/internal/observe"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the capture service",
		Long:  "Serves the ingest API, event stream, MCP tools, health probes, and metrics until interrupted. Pending lines are saved on exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, envFile)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "vanilladialogue.yaml", "path to the YAML configuration file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file with credential overrides")
	return cmd
}

func runServe(parent context.Context, configPath, envFile string) error {
	// ── Environment + configuration ───────────────────────────────────────────
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("cannot read env file", "path", envFile, "err", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	rot := cfg.Server.LogRotation
	logger, logCloser := observe.NewLogger(level, observe.LogFileConfig{
		Path:       cfg.Server.LogFile,
		MaxSizeMB:  rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAgeDays: rot.MaxAgeDays,
		Compress:   rot.Compress,
	})
	defer logCloser.Close()
	slog.SetDefault(logger)

	slog.Info("vanilladialogue starting",
		"version", Version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"backend", cfg.Persistence.Backend,
		"mantella", cfg.Mantella.BaseURL,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: Version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(sctx)
	}()

	application, err := app.New(ctx, cfg,
		app.WithTelemetry(tel),
		app.WithLevel(level),
		app.WithVersion(Version),
		app.WithConfigPath(configPath),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return err
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return err
	}
	slog.Info("goodbye")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
