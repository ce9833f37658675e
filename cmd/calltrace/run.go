package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zoobzio/calltrace"
	"github.com/zoobzio/calltrace/internal/workload"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] <workload>...",
		Short: "Run workloads under tracing",
		Long: `Run one or more registered workloads, each under its own tracing session.
A single workload is written to --output. Several workloads run concurrently,
each on its own probe, and are written to "<prefix><name>.json".`,
		Args: cobra.MinimumNArgs(1),
		RunE: runWorkloads,
	}

	cmd.Flags().StringP("output", "o", calltrace.DefaultOutput, "trace output path")
	cmd.Flags().String("record", "", "also write the raw notification stream to this path")
	cmd.Flags().Int("max-events", calltrace.DefaultMaxEvents, "notification buffer bound")
	cmd.Flags().String("prefix", "trace_", "output prefix when running several workloads")
	cmd.Flags().IntP("jobs", "j", 0, "workloads traced at once (0 = all)")
	return cmd
}

func runWorkloads(cmd *cobra.Command, args []string) error {
	cfg, logger, err := prepare(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // stderr sync errors are not actionable

	workloads := make([]workload.Workload, 0, len(args))
	for _, name := range args {
		w, err := workload.Lookup(name)
		if err != nil {
			return err
		}
		workloads = append(workloads, w)
	}

	out := newSummary(cmd.OutOrStdout())
	if len(workloads) == 1 {
		return traceOne(workloads[0], cfg, logger, out)
	}

	if cfg.Record != "" {
		return errors.New("--record needs a single workload")
	}
	prefix, err := cmd.Flags().GetString("prefix")
	if err != nil {
		return fmt.Errorf("failed to get prefix flag: %w", err)
	}
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return fmt.Errorf("failed to get jobs flag: %w", err)
	}

	var g errgroup.Group
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for _, w := range workloads {
		g.Go(func() error {
			// A probe traces the goroutine it is used on, so each workload gets its own.
			probe := calltrace.NewProbe()
			traced := calltrace.Traceable(probe, prefix, w.Name, func() error { return w.Run(probe) },
				calltrace.WithConfig(cfg),
				calltrace.WithLogger(logger.With(zap.String("workload", w.Name))),
				calltrace.WithHandler(out.handler(w.Name, prefix+w.Name+".json")),
			)
			if err := traced(); err != nil {
				out.failure(w.Name, err)
				return fmt.Errorf("%s: %w", w.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func traceOne(w workload.Workload, cfg calltrace.Config, logger *zap.Logger, out *summary) error {
	probe := calltrace.NewProbe()
	err := calltrace.Run(probe, cfg.Output, func() error { return w.Run(probe) },
		calltrace.WithConfig(cfg),
		calltrace.WithLogger(logger.With(zap.String("workload", w.Name))),
		calltrace.WithHandler(out.handler(w.Name, cfg.Output)),
	)
	if err != nil {
		out.failure(w.Name, err)
		return fmt.Errorf("%s: %w", w.Name, err)
	}
	if cfg.Record != "" {
		logger.Info("raw notifications recorded", zap.String("path", cfg.Record))
	}
	return nil
}
