package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/config"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
)

// Set at build time via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "fabrichc",
		Short: "Reconstruct and diagnose InfiniBand fabric topology from diagnostic dumps",
		Long: `fabrichc rebuilds the fabric graph from net dump, fabric manager log
and PM counter artifacts, infers switch roles, planes and racks, and
materializes the result into queryable node and edge tables.

Run it once with "analyze", or keep it resident with "agent" to
re-analyze on new dumps and serve the GraphQL query API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		newAnalyzeCmd(&configPath),
		newAgentCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fabrichc %s (%s)\n", version, commit)
		},
	}
}

// setup loads the configuration and builds the process logger from it
func setup(configPath string) (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewJSONLogger(os.Stdout, cfg.LogLevel())
	return cfg, logger, nil
}
