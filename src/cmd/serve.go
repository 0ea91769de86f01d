package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"budgeteer-server/src/api"
	"budgeteer-server/src/db"
	"budgeteer-server/src/handlers"
	"budgeteer-server/src/scheduler"
	"budgeteer-server/src/util"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the background sync scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrate {
				if err := db.Migrate(ctx, a.pool, logger); err != nil {
					return err
				}
			}

			webhooks := handlers.NewWebhookHandler(a.store, a.syncer, util.NewWebhookVerifier(a.plaid), cfg.Sync.MaxDuration+time.Minute, logger)
			router := api.NewRouter(api.Deps{
				Store:          a.store,
				Provider:       a.plaid,
				Syncer:         a.syncer,
				Webhooks:       webhooks,
				Metrics:        a.metrics,
				Logger:         logger,
				JWTSecret:      cfg.JWTSecret,
				AllowedOrigins: cfg.AllowedOrigins,
				DemoMode:       cfg.DemoMode,
			})

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			schedCtx, stopScheduler := context.WithCancel(ctx)
			defer stopScheduler()
			schedDone := make(chan struct{})
			if cfg.Sync.Interval > 0 {
				go func() {
					defer close(schedDone)
					scheduler.New(a.store, a.syncer, cfg.Sync.Interval, logger).Run(schedCtx)
				}()
			} else {
				close(schedDone)
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("API server running", zap.String("port", cfg.Port), zap.String("plaid_env", cfg.PlaidEnv), zap.Bool("demo_mode", cfg.DemoMode))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("server shutdown", zap.Error(err))
			}
			stopScheduler()
			<-schedDone
			webhooks.Wait()
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}
