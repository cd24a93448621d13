package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDLQCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and recover dead-lettered tasks",
	}

	var limit int
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Put dead-lettered tasks back on the task topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			deps, _, err := setup(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			n, err := deps.ReplayDeadLetters(ctx, limit)
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d task(s)\n", n)
			return err
		},
	}
	replay.Flags().IntVar(&limit, "limit", 0, "replay at most this many tasks (0 for all)")

	cmd.AddCommand(replay)
	return cmd
}
