package cmd

import (
	"context"
	"time"

	commissionpg "github.com/frahmantamala/payment-reconciliation/internal/commission/postgres"
	"github.com/frahmantamala/payment-reconciliation/internal/core/common/validation"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/split"
	paymentpg "github.com/frahmantamala/payment-reconciliation/internal/payment/postgres"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var chargeCmd = &cobra.Command{
	Use:   "charge",
	Short: "Charge management commands",
}

var createChargeCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a charge at the gateway and track it locally",
	Long:  `Register a charge at the gateway, then persist it as a PENDING payment with an optional affiliate split.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return createCharge(cmd.Context())
	},
}

var (
	chargeCustomer    string
	chargeBillingType string
	chargeValue       string
	chargeDueDays     int
	chargeDescription string
	chargeServiceType string
	chargeServiceData string
	chargeAffiliate   string
	chargeWallet      string
	chargePercentage  string
)

func createCharge(ctx context.Context) error {
	value, err := decimal.NewFromString(chargeValue)
	if err != nil {
		return err
	}
	if appErr := validation.ValidateChargeValue(value); appErr != nil {
		return appErr
	}

	var percentage decimal.Decimal
	if chargeAffiliate != "" {
		percentage, err = decimal.NewFromString(chargePercentage)
		if err != nil {
			return err
		}
		if appErr := validation.ValidatePercentage(percentage); appErr != nil {
			return appErr
		}
	}

	app, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	dueDate := time.Now().UTC().AddDate(0, 0, chargeDueDays)
	snapshot, err := app.Gateway.CreateCharge(ctx, &gatewaytypes.CreateChargeRequest{
		Customer:    chargeCustomer,
		BillingType: chargeBillingType,
		Value:       value,
		DueDate:     dueDate.Format("2006-01-02"),
		Description: chargeDescription,
	})
	if err != nil {
		return err
	}

	p := &payment.Payment{
		ExternalID:  snapshot.ID,
		CustomerID:  chargeCustomer,
		Value:       value,
		NetValue:    snapshot.NetValue,
		BillingType: chargeBillingType,
		Status:      payment.StatusPending,
		DueDate:     dueDate,
		ServiceType: chargeServiceType,
	}
	if p.NetValue.IsZero() {
		p.NetValue = value
	}
	if snapshot.Subscription != "" {
		subscription := snapshot.Subscription
		p.SubscriptionID = &subscription
	}
	if chargeServiceData != "" {
		p.ServiceData = datatypes.JSON(chargeServiceData)
	}

	var s *split.Split
	err = app.Gorm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := paymentpg.NewPaymentRepository(tx).Create(ctx, p); err != nil {
			return err
		}
		if chargeAffiliate == "" {
			return nil
		}
		wallet := chargeWallet
		if wallet == "" {
			wallet = "wallet_" + chargeAffiliate
		}
		s = &split.Split{
			PaymentID:   p.ID,
			AffiliateID: chargeAffiliate,
			WalletID:    wallet,
			Percentage:  percentage,
			Status:      split.StatusActive,
		}
		return commissionpg.NewCommissionRepository(tx).InsertSplit(ctx, s)
	})
	if err != nil {
		app.Logger.Error("charge created at gateway but not persisted", "external_id", snapshot.ID, "error", err)
		return err
	}

	result := map[string]interface{}{
		"payment_id":  p.ID,
		"external_id": p.ExternalID,
		"status":      p.Status,
		"value":       p.Value.StringFixed(2),
		"due_date":    dueDate.Format("2006-01-02"),
	}
	if s != nil {
		result["split_id"] = s.ID
		result["affiliate_id"] = s.AffiliateID
		result["percentage"] = s.Percentage.String()
	}
	return printJSON(result)
}

func init() {
	createChargeCmd.Flags().StringVar(&chargeCustomer, "customer", "", "Gateway customer id")
	createChargeCmd.Flags().StringVar(&chargeBillingType, "billing-type", "PIX", "Billing type (PIX, BOLETO, CREDIT_CARD)")
	createChargeCmd.Flags().StringVar(&chargeValue, "value", "", "Charge value, e.g. 100.00")
	createChargeCmd.Flags().IntVar(&chargeDueDays, "due-days", 7, "Days until the charge is due")
	createChargeCmd.Flags().StringVar(&chargeDescription, "description", "", "Charge description shown to the customer")
	createChargeCmd.Flags().StringVar(&chargeServiceType, "service-type", "", "Service the charge pays for")
	createChargeCmd.Flags().StringVar(&chargeServiceData, "service-data", "", "Opaque JSON describing the service")
	createChargeCmd.Flags().StringVar(&chargeAffiliate, "affiliate", "", "Affiliate receiving a commission split")
	createChargeCmd.Flags().StringVar(&chargeWallet, "wallet", "", "Affiliate wallet id (defaults to wallet_<affiliate>)")
	createChargeCmd.Flags().StringVar(&chargePercentage, "percentage", "0", "Commission percentage for the affiliate")
	_ = createChargeCmd.MarkFlagRequired("customer")
	_ = createChargeCmd.MarkFlagRequired("value")

	chargeCmd.AddCommand(createChargeCmd)

	rootCmd.AddCommand(chargeCmd)
}
