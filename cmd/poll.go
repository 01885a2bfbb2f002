package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal/core/common/validation"
	"github.com/frahmantamala/payment-reconciliation/internal/poller"
	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll [external-id]",
	Short: "Wait for a charge to settle",
	Long:  `Poll a charge until it is paid, fails terminally or the timeout elapses. Stale pending charges are checked against the gateway.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPoll(args[0])
	},
}

var (
	pollInterval time.Duration
	pollTimeout  time.Duration
)

func runPoll(externalID string) error {
	app, err := newApp(appOptions{publish: true})
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	opts := app.Poller.Defaults()
	if pollInterval > 0 {
		opts.Interval = pollInterval
	}
	if pollTimeout > 0 {
		opts.Timeout = pollTimeout
	}
	if appErr := validation.ValidatePollWindow(opts.Interval, opts.Timeout, app.Config.Poller.MaxTimeout); appErr != nil {
		return appErr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome := app.Poller.Poll(ctx, externalID, opts)
	if err := printJSON(map[string]interface{}{
		"external_id":    externalID,
		"kind":           outcome.Kind,
		"payment_status": outcome.Status,
		"reason":         outcome.Reason,
		"attempts":       outcome.Attempts,
		"elapsed_ms":     outcome.Elapsed.Milliseconds(),
	}); err != nil {
		return err
	}

	switch outcome.Kind {
	case poller.KindSuccess:
		return nil
	case poller.KindTimedOut:
		return fmt.Errorf("charge %s did not settle within %s", externalID, opts.Timeout)
	default:
		if outcome.Err != nil {
			return outcome.Err
		}
		return fmt.Errorf("poll for %s ended: %s", externalID, outcome.Reason)
	}
}

func init() {
	pollCmd.Flags().DurationVar(&pollInterval, "interval", 0, "Time between checks (overrides config)")
	pollCmd.Flags().DurationVar(&pollTimeout, "timeout", 0, "Overall deadline (overrides config)")

	rootCmd.AddCommand(pollCmd)
}
