package cli

import (
	"github.com/spf13/cobra"

	"github.com/nounsdev/nouners-farcaster/internal/scheduler"
)

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <cron>",
		Short: "Run the jobs of one cron schedule once and exit",
		Example: `  radar trigger "0 * * * *"
  radar trigger "0 14 * * *"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			deps, logger, err := setup(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			sched := scheduler.New(deps.Table(), logger, nil)
			sched.StepTimeout = deps.Config.JobTimeout
			return sched.Dispatch(ctx, args[0])
		},
	}
}
