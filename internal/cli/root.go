// Package cli holds the radar command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nounsdev/nouners-farcaster/internal/bot"
	"github.com/nounsdev/nouners-farcaster/pkg/config"
	"github.com/nounsdev/nouners-farcaster/pkg/logging"
	"github.com/nounsdev/nouners-farcaster/pkg/version"
)

// NewRootCmd returns the root command for the radar binary.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "radar",
		Short:         "Nouns Radar, the Nouns governance bot for Farcaster",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newTriggerCmd())
	rootCmd.AddCommand(newDLQCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", bot.ServiceName, version.String())
			return nil
		},
	}
}

// setup loads configuration and connects every backend.
func setup(ctx context.Context) (*bot.Deps, *logrus.Logger, error) {
	logger := logging.NewLoggerWithService(bot.ServiceName)
	config.LoadEnv(logger)
	logger.SetLevel(config.GetLogLevel())

	cfg, err := bot.LoadConfig()
	if err != nil {
		return nil, logger, err
	}
	deps, err := bot.NewDeps(ctx, cfg, logger)
	if err != nil {
		return nil, logger, fmt.Errorf("initialise dependencies: %w", err)
	}
	return deps, logger, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
