package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zoobzio/calltrace"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [flags] <recording>",
		Short: "Reconcile a recorded notification stream into a trace",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}
	cmd.Flags().StringP("output", "o", calltrace.DefaultOutput, "trace output path")
	cmd.Flags().Int("max-events", calltrace.DefaultMaxEvents, "notification buffer bound")
	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, logger, err := prepare(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // stderr sync errors are not actionable

	rec, err := calltrace.ReadRecording(args[0])
	if err != nil {
		return err
	}
	logger.Debug("recording loaded",
		zap.String("path", args[0]),
		zap.Int("notifications", len(rec.Notifications)),
	)

	out := newSummary(cmd.OutOrStdout())
	src := rec.Source()
	err = calltrace.Run(src, cfg.Output, src.Play,
		calltrace.WithConfig(cfg),
		calltrace.WithLogger(logger),
		calltrace.WithHandler(out.handler(args[0], cfg.Output)),
	)
	if err != nil {
		out.failure(args[0], err)
		return fmt.Errorf("replay %s: %w", args[0], err)
	}
	return nil
}
