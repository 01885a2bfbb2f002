package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/frahmantamala/payment-reconciliation/internal/webhookerror"
	"github.com/spf13/cobra"
)

var webhookErrorsCmd = &cobra.Command{
	Use:     "webhook-errors",
	Aliases: []string{"we"},
	Short:   "Inspect and replay failed webhook deliveries",
}

var listWebhookErrorsCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded webhook errors, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer app.Close(context.Background())

		filter := webhookerror.ListFilter{
			PaymentID: listPaymentID,
			Limit:     listLimit,
			Offset:    listOffset,
		}
		if cmd.Flags().Changed("resolved") {
			filter.Resolved = &listResolved
		}

		records, err := app.Replayer.List(cmd.Context(), filter)
		if err != nil {
			return err
		}
		return printJSON(records)
	},
}

var replayWebhookErrorCmd = &cobra.Command{
	Use:   "replay [id]",
	Short: "Replay one webhook error through the engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(appOptions{publish: true})
		if err != nil {
			return err
		}
		defer app.Close(context.Background())

		outcome, err := app.Replayer.Replay(cmd.Context(), args[0])
		if outcome != nil {
			if printErr := printJSON(outcome); printErr != nil {
				return printErr
			}
		}
		return err
	},
}

var resolveWebhookErrorCmd = &cobra.Command{
	Use:   "resolve [id]",
	Short: "Mark a webhook error resolved without replaying it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer app.Close(context.Background())

		outcome, err := app.Replayer.MarkResolved(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(outcome)
	},
}

var sweepWebhookErrorsCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Replay every due webhook error once",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApp(appOptions{publish: true})
		if err != nil {
			return err
		}
		defer app.Close(context.Background())

		result, err := app.Replayer.SweepPending(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var (
	listResolved  bool
	listPaymentID string
	listLimit     int
	listOffset    int
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	listWebhookErrorsCmd.Flags().BoolVar(&listResolved, "resolved", false, "Filter by resolved flag")
	listWebhookErrorsCmd.Flags().StringVar(&listPaymentID, "payment-id", "", "Filter by gateway charge id")
	listWebhookErrorsCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum records to return (1-200)")
	listWebhookErrorsCmd.Flags().IntVar(&listOffset, "offset", 0, "Records to skip")

	webhookErrorsCmd.AddCommand(listWebhookErrorsCmd)
	webhookErrorsCmd.AddCommand(replayWebhookErrorCmd)
	webhookErrorsCmd.AddCommand(resolveWebhookErrorCmd)
	webhookErrorsCmd.AddCommand(sweepWebhookErrorsCmd)

	rootCmd.AddCommand(webhookErrorsCmd)
}
