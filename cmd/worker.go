package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal/commission"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start worker pools for background reconciliation work",
	Long:  `Run commission disbursement through the worker pool, or sweep failed webhooks on a schedule.`,
}

var disburseWorkerCmd = &cobra.Command{
	Use:   "disburse [external-id...]",
	Short: "Disburse commissions for paid charges through the worker pool",
	Long:  `Queue commission disbursement for each given charge and wait for the pool to drain. Unpaid charges are skipped.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDisburseWorker(args)
	},
}

var sweepWorkerCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Replay due webhook errors on a fixed schedule",
	Long:  `Run the webhook error sweep every --every until interrupted, honoring the configured backoff and retry limit.`,
	Run: func(cmd *cobra.Command, args []string) {
		startSweepWorker()
	},
}

var (
	maxWorkers    int
	jobQueueSize  int
	drainTimeout  time.Duration
	sweepInterval time.Duration
)

func runDisburseWorker(externalIDs []string) error {
	app, err := newApp(appOptions{publish: true})
	if err != nil {
		return err
	}

	// Use command line flags if provided, otherwise use config values
	queue := commission.NewQueue(app.Disburser, app.Recorder, commission.QueueConfig{
		MaxWorkers:   getIntFlag(maxWorkers, app.Config.Commission.MaxWorkers),
		JobQueueSize: getIntFlag(jobQueueSize, app.Config.Commission.JobQueueSize),
	}, app.Logger)
	app.Queue = queue

	ctx := context.Background()
	queued := 0
	for _, externalID := range externalIDs {
		p, err := app.Payments.GetByExternalID(ctx, externalID)
		if err != nil {
			app.Logger.Error("failed to load payment", "external_id", externalID, "error", err)
			continue
		}
		if !p.IsPaid() {
			app.Logger.Info("skipping unpaid payment", "external_id", externalID, "status", p.Status)
			continue
		}
		if _, err := queue.Disburse(ctx, p); err != nil {
			app.Logger.Error("failed to queue disbursement", "external_id", externalID, "error", err)
			continue
		}
		queued++
	}

	app.Logger.Info("disbursement jobs queued", "queued", queued, "requested", len(externalIDs))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	app.Close(shutdownCtx)

	if queued < len(externalIDs) {
		return fmt.Errorf("%d of %d charges were not queued", len(externalIDs)-queued, len(externalIDs))
	}
	return nil
}

func startSweepWorker() {
	app, err := newApp(appOptions{publish: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	app.Logger.Info("webhook error sweeper is running. Press Ctrl+C to stop.", "every", sweepInterval)

	sweep := func() {
		result, err := app.Replayer.SweepPending(ctx)
		if err != nil {
			app.Logger.Error("sweep failed", "error", err)
			return
		}
		app.Logger.Info("sweep completed",
			"considered", result.Considered,
			"replayed", result.Replayed,
			"resolved", result.Resolved,
			"failed", result.Failed)
	}

	sweep()
	for {
		select {
		case sig := <-sigChan:
			app.Logger.Info("received signal, shutting down sweeper", "signal", sig)
			cancel()
			shutdownCtx, done := context.WithTimeout(context.Background(), drainTimeout)
			app.Close(shutdownCtx)
			done()
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	disburseWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	disburseWorkerCmd.Flags().IntVar(&jobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")
	workerCmd.PersistentFlags().DurationVar(&drainTimeout, "drain-timeout", 30*time.Second, "How long to wait for in-flight work on shutdown")
	sweepWorkerCmd.Flags().DurationVar(&sweepInterval, "every", time.Minute, "Interval between sweeps")

	workerCmd.AddCommand(disburseWorkerCmd)
	workerCmd.AddCommand(sweepWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
