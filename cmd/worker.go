package cmd

import (
	"context"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-ingest/internal/app"
)

func newWorkerCmd() *cobra.Command {
	var noSchedule bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consumes tasks from every queue",
		Long: `Starts the worker fleet sized by workers.default and workers.mailing and,
unless --no-schedule is set, the periodic category sweep and product reclaim.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runWorkers(cmd.Context(), appInstance, !noSchedule)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "do not submit periodic maintenance tasks")
	return cmd
}

// runWorkers blocks until ctx is done and every worker has returned.
func runWorkers(ctx context.Context, a *app.App, schedule bool) {
	logger := a.Logger()
	dispatch := a.Dispatcher()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("dispatcher started", zap.Int("workers", dispatch.Size()))
		dispatch.Run(ctx)
	}()
	if schedule {
		sched := a.Scheduler()
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("scheduler started", zap.Int("jobs", len(sched.Jobs())))
			sched.Run(ctx)
		}()
	}
	wg.Wait()
	logger.Info("workers stopped")
}
