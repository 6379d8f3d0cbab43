package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"fund-etl-service/cmd/fundetl/config"
	"fund-etl-service/internal/etl"
	"fund-etl-service/internal/reconciler"
	"fund-etl-service/internal/scheduler"
	"fund-etl-service/internal/server"
	"fund-etl-service/internal/tracker"
	"fund-etl-service/pkg/logger"

	"github.com/spf13/cobra"
)

// Flags for the serve command
var (
	serveAddr        string
	serveNoScheduler bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the daily scheduler",
	Long: `Serve runs the service as a daemon: the HTTP API for on-demand
operations and the cron scheduler for the daily load. On startup the
scheduler backfills recent trading days missed while the daemon was down.

The daemon shuts down cleanly on SIGINT or SIGTERM.

Examples:
  fundetl serve
  fundetl serve --addr :9090
  fundetl serve --no-scheduler`,

	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default :8080)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "serve the API without the cron scheduler")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := config.OpenStore()
	if err != nil {
		return err
	}
	defer s.Close()

	f, err := config.CreateFetcher()
	if err != nil {
		return err
	}

	engineConfig, err := config.CreateReconcilerConfig("")
	if err != nil {
		return err
	}
	engine, err := reconciler.New(s, f, engineConfig)
	if err != nil {
		return err
	}

	pipeline := etl.New(s, f)
	tr := tracker.New(s.DB())
	serverConfig := config.CreateServerConfig(serveAddr)
	srv := server.New(serverConfig, pipeline, engine, tr)

	log := logger.GetGlobalLogger().WithComponent("serve")

	if !serveNoScheduler {
		schedConfig := config.CreateSchedulerConfig()
		schedConfig.UpdateMode = engineConfig.UpdateMode
		sched, err := scheduler.New(schedConfig, pipeline, engine)
		if err != nil {
			return err
		}
		go func() {
			if err := sched.Start(ctx); err != nil && err != context.Canceled {
				log.WithError(err).Error("Scheduler stopped")
			}
		}()
	}

	go cleanupWorkflows(ctx, tr, serverConfig.WorkflowRetention, log)

	err = srv.ListenAndServe(ctx)
	if err == http.ErrServerClosed || err == nil {
		log.Info("Shut down cleanly")
		return nil
	}
	return err
}

// cleanupWorkflows prunes finished workflows past the retention window once
// an hour.
func cleanupWorkflows(ctx context.Context, tr *tracker.Tracker, retention time.Duration, log logger.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := tr.Cleanup(ctx, retention)
			if err != nil {
				log.WithError(err).Error("Workflow cleanup failed")
				continue
			}
			if removed > 0 {
				log.WithField("removed", removed).Info("Pruned old workflows")
			}
		}
	}
}
