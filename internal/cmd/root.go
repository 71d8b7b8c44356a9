// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dotandev/ilpatch/internal/config"
	"github.com/dotandev/ilpatch/internal/logger"
	"github.com/dotandev/ilpatch/internal/shutdown"
	"github.com/dotandev/ilpatch/internal/telemetry"
	"github.com/dotandev/ilpatch/internal/vm"
)

// Global flag variables
var (
	ConfigFlag    string
	LogLevelFlag  string
	DebugFlag     bool
	DebugLogFlag  string
	JournalFlag   string
	TelemetryFlag string
)

// settings is the configuration resolved for the running command.
var settings *config.Config

func currentConfig() *config.Config {
	if settings == nil {
		return config.DefaultConfig()
	}
	return settings
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ilpatch",
	Short: "Decode, rewrite and hot-patch CIL method bodies",
	Long: `ilpatch decodes CIL method bodies into editable instruction lists, runs
transpilers over them, and composes replacements with prefix and postfix
hooks. Replacements are installed by writing a jump at the original's
entry point.

The commands run against a small sample program hosted in an in-process
CIL interpreter.

Examples:
  ilpatch disasm Double                 List the decoded body of Double
  ilpatch disasm --patched              List every composed replacement
  ilpatch demo --journal ./journal.db   Patch the sample and journal it
  ilpatch history --journal ./journal.db
  ilpatch version`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		settings = cfg
		logger.Configure(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

		stop, err := telemetry.Init(cmd.Context(), telemetry.Config{
			Enabled:     cfg.TelemetryEnabled,
			ExporterURL: cfg.TelemetryEndpoint,
			ServiceName: cfg.ServiceName,
			Version:     Version,
		})
		if err != nil {
			return err
		}
		registerShutdownHook("telemetry", func(context.Context) error {
			stop()
			return nil
		})
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig layers the command-line flags over config.Load.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if ConfigFlag != "" {
		if err := cfg.LoadFile(ConfigFlag); err != nil {
			return nil, err
		}
	}
	if LogLevelFlag != "" {
		cfg.WithLogLevel(LogLevelFlag)
	}
	if DebugFlag || DebugLogFlag != "" {
		cfg.WithDebug(DebugLogFlag)
	}
	if JournalFlag != "" {
		cfg.WithJournal(JournalFlag)
	}
	if TelemetryFlag != "" {
		cfg.WithTelemetry(TelemetryFlag)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func vmOptions(cfg *config.Config) []vm.Option {
	if cfg.PointerSize == 0 {
		return nil
	}
	return []vm.Option{vm.WithPointerSize(cfg.PointerSize)}
}

// Execute runs the root command, cancelling it on SIGINT or SIGTERM.
// Shutdown hooks run in both cases.
func Execute() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	coordinator := shutdown.NewCoordinator()
	setShutdownCoordinator(coordinator)
	defer clearShutdownCoordinator()

	return executeWithSignals(ctx, cancel, sigCh, coordinator, func(execCtx context.Context) error {
		return rootCmd.ExecuteContext(execCtx)
	})
}

func executeWithSignals(
	ctx context.Context,
	cancel context.CancelFunc,
	sigCh <-chan os.Signal,
	coordinator *shutdown.Coordinator,
	exec func(context.Context) error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- exec(ctx)
	}()

	select {
	case err := <-done:
		runShutdownHooksWithTimeout(coordinator, shutdownTimeout)
		return err
	case sig := <-sigCh:
		logger.Logger.Info("Signal received, shutting down", "signal", sig.String())
		cancel()
		runShutdownHooksWithTimeout(coordinator, shutdownTimeout)
		select {
		case <-done:
		case <-time.After(shutdownTimeout):
			logger.Logger.Warn("Command did not stop after cancellation")
		}
		return ErrInterrupted
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&ConfigFlag,
		"config",
		"",
		"TOML file merged over the default configuration",
	)

	rootCmd.PersistentFlags().StringVar(
		&LogLevelFlag,
		"log-level",
		"",
		"Log level (debug, info, warn, error)",
	)

	rootCmd.PersistentFlags().BoolVar(
		&DebugFlag,
		"debug",
		false,
		"Write every decoded and emitted instruction to the debug log",
	)

	rootCmd.PersistentFlags().StringVar(
		&DebugLogFlag,
		"debug-log",
		"",
		"Debug log path (implies --debug)",
	)

	rootCmd.PersistentFlags().StringVar(
		&JournalFlag,
		"journal",
		"",
		"SQLite file recording installed patch generations",
	)

	rootCmd.PersistentFlags().StringVar(
		&TelemetryFlag,
		"telemetry",
		"",
		"Export spans to this OTLP/HTTP endpoint",
	)

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Core Commands:"},
		&cobra.Group{ID: "utility", Title: "Utility Commands:"},
	)
}
