package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var withWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the operator HTTP API",
		Long: `Serves /healthz, /readyz, /metrics and the /v1/tasks submission API on
server.port (or $PORT). With --with-workers the worker fleet and scheduler run
in the same process, which the in-memory queue requires.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			logger := appInstance.Logger()

			port := appInstance.Config().Server.Port
			if env := os.Getenv("PORT"); env != "" {
				if p, perr := strconv.Atoi(env); perr == nil {
					port = p
				}
			}
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", port),
				Handler:           appInstance.APIServer().Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			done := make(chan struct{})
			if withWorkers {
				go func() {
					defer close(done)
					runWorkers(ctx, appInstance, true)
				}()
			} else {
				close(done)
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server started", zap.Int("port", port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			var serveErr error
			select {
			case <-ctx.Done():
			case serveErr = <-errCh:
			}
			logger.Info("shutdown initiated")
			cancel()

			shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer stop()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
			<-done
			logger.Info("shutdown complete")
			if serveErr != nil {
				return fmt.Errorf("http server: %w", serveErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withWorkers, "with-workers", false, "run the worker fleet and scheduler in-process")
	return cmd
}
