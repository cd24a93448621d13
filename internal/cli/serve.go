package cli

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nounsdev/nouners-farcaster/internal/bot"
	"github.com/nounsdev/nouners-farcaster/internal/scheduler"
	"github.com/nounsdev/nouners-farcaster/pkg/middleware"
	"github.com/nounsdev/nouners-farcaster/pkg/server"
)

func newServeCmd() *cobra.Command {
	var noScheduler, noConsumer bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the task consumer and the health server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			deps, logger, err := setup(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			sched := scheduler.New(deps.Table(), logger, scheduler.NewMetrics(deps.Metrics))
			sched.StepTimeout = deps.Config.JobTimeout
			// Triggered runs finish before deps are closed.
			defer sched.Stop()

			router := server.SetupServiceRouter(logger, bot.ServiceName, deps.Health, deps.Metrics)
			registerTrigger(ctx, router, sched, deps.Config.TriggerToken, logger)

			g, gctx := errgroup.WithContext(ctx)
			if !noScheduler {
				g.Go(func() error { return sched.Start(gctx) })
			}
			if !noConsumer {
				g.Go(func() error { return deps.RunConsumer(gctx) })
			}
			g.Go(func() error {
				return server.Start(gctx, server.ConfigFromEnv(bot.ServiceName, "8080"), router, logger)
			})

			logger.WithFields(logrus.Fields{
				"scheduler": !noScheduler,
				"consumer":  !noConsumer,
			}).Info("Nouns Radar started")
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run cron schedules")
	cmd.Flags().BoolVar(&noConsumer, "no-consumer", false, "do not consume queued tasks")
	return cmd
}

type triggerRequest struct {
	Cron string `json:"cron" binding:"required"`
}

// registerTrigger exposes POST /trigger. The route always exists but is
// refused unless a token is configured. Runs go through the scheduler so a
// manual run never overlaps a cron run of the same pattern.
func registerTrigger(ctx context.Context, router gin.IRoutes, sched *scheduler.Scheduler, token string, logger *logrus.Logger) {
	router.POST("/trigger", middleware.BearerTokenMiddleware(token), func(c *gin.Context) {
		var req triggerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		err := sched.Trigger(ctx, req.Cron)
		switch {
		case err == nil:
			logger.WithField("cron", req.Cron).Info("Schedule triggered")
			c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "cron": req.Cron})
		case errors.Is(err, scheduler.ErrUnknownSchedule):
			c.JSON(http.StatusNotFound, gin.H{"error": "No handler for the cron schedule", "cron": req.Cron})
		case errors.Is(err, scheduler.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "cron": req.Cron})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "cron": req.Cron})
		}
	})
}
