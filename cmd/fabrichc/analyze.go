package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/analyze"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/metrics"
)

func newAnalyzeCmd(configPath *string) *cobra.Command {
	var inputDir string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one diagnostic pass over the input directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			if inputDir != "" {
				cfg.Input.Dir = inputDir
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := analyze.New(ctx, cfg, logger, metrics.DefaultRegistry())
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.Run(ctx)
			if err != nil {
				return err
			}

			stats := res.Graph.Stats()
			fields := []logging.Field{
				logging.RunID(res.RunID),
				logging.Bool("from_cache", res.FromCache),
				logging.Int("nodes", stats.Nodes),
				logging.Int("links", stats.Links),
				logging.Int("switches", stats.Switches),
				logging.Int("adapters", stats.Adapters),
				logging.Int("gpus", stats.GPUs),
				logging.Int("unreachable", len(res.Unreachable)),
				logging.Latency(res.Duration),
			}
			if res.Roles != nil {
				fields = append(fields,
					logging.Int("leaf", res.Roles.Leaf),
					logging.Int("spine", res.Roles.Spine),
					logging.Int("core", res.Roles.Core),
					logging.Int("unknown_role", res.Roles.Unknown))
			}
			logger.Info("analysis run finished", fields...)
			return nil
		},
	}
	cmd.Flags().StringVar(&inputDir, "input", "", "override the artifact input directory")
	return cmd
}
