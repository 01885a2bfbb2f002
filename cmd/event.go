package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Apply gateway events outside the webhook endpoint, e.g. when re-delivering from gateway exports`,
}

var applyEventCmd = &cobra.Command{
	Use:   "apply [file|-]",
	Short: "Apply a gateway event from a file or stdin",
	Long:  `Apply one gateway event payload through the reconciliation engine. Failures are recorded as webhook errors exactly like webhook deliveries.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := "-"
		if len(args) == 1 {
			source = args[0]
		}
		return applyEvent(cmd.Context(), source)
	},
}

var eventTimeout time.Duration

func readPayload(source string) ([]byte, error) {
	if source == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(source)
}

func applyEvent(ctx context.Context, source string) error {
	raw, err := readPayload(source)
	if err != nil {
		return fmt.Errorf("failed to read event payload: %w", err)
	}

	app, err := newApp(appOptions{publish: true})
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	outcome, err := app.Engine.ApplyRaw(ctx, raw)
	if err != nil {
		id := app.Recorder.Record(ctx, payment.PaymentRef(raw), webhookerror.StageReconcile, err, raw)
		app.Logger.Error("failed to apply event", "webhook_error_id", id, "error", err)
		return err
	}

	app.Logger.Info("event applied",
		"event", outcome.EventType,
		"applied", outcome.Applied,
		"from", outcome.From,
		"to", outcome.To,
		"affected", outcome.Affected,
		"commissions", len(outcome.Commissions))
	if outcome.DisburseErr != nil {
		app.Logger.Warn("disbursement failed and was recorded for replay", "error", outcome.DisburseErr)
	}
	return nil
}

func init() {
	applyEventCmd.Flags().DurationVar(&eventTimeout, "timeout", time.Minute, "Maximum time to spend applying the event")

	eventCmd.AddCommand(applyEventCmd)

	rootCmd.AddCommand(eventCmd)
}
