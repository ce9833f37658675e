package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/zoobzio/calltrace"
)

// setupLogger builds the CLI logger from --log-level. Logs go to stderr so
// they never mix with the summary.
func setupLogger(cmd *cobra.Command) (*zap.Logger, error) {
	levelStr, err := cmd.Root().PersistentFlags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	level, err := zap.ParseAtomicLevel(strings.ToLower(strings.TrimSpace(levelStr)))
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level value %q (expected debug|info|warn|error)", levelStr)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = level
	cfg.DisableStacktrace = true
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// setupColor applies --color to the global color switch.
func setupColor(cmd *cobra.Command) error {
	value, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return fmt.Errorf("failed to get color flag: %w", err)
	}
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		color.NoColor = !isTerminal(os.Stdout)
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", value)
	}
	return nil
}

// isTerminal reports whether f is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// loadConfig reads --config, if given, and applies the command's flags on top.
func loadConfig(cmd *cobra.Command) (calltrace.Config, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return calltrace.Config{}, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg := calltrace.DefaultConfig()
	if path != "" {
		if cfg, err = calltrace.LoadConfig(path); err != nil {
			return calltrace.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("output") {
		if cfg.Output, err = flags.GetString("output"); err != nil {
			return calltrace.Config{}, fmt.Errorf("failed to get output flag: %w", err)
		}
	}
	if flags.Changed("record") {
		if cfg.Record, err = flags.GetString("record"); err != nil {
			return calltrace.Config{}, fmt.Errorf("failed to get record flag: %w", err)
		}
	}
	if flags.Changed("max-events") {
		if cfg.MaxEvents, err = flags.GetInt("max-events"); err != nil {
			return calltrace.Config{}, fmt.Errorf("failed to get max-events flag: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

// prepare performs the setup shared by the tracing commands.
func prepare(cmd *cobra.Command) (calltrace.Config, *zap.Logger, error) {
	if err := setupColor(cmd); err != nil {
		return calltrace.Config{}, nil, err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return calltrace.Config{}, nil, err
	}
	logger, err := setupLogger(cmd)
	if err != nil {
		return calltrace.Config{}, nil, err
	}
	return cfg, logger, nil
}
