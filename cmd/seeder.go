package cmd

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/commission"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/split"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample charges and affiliate splits for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		sqlDB, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer sqlDB.Close()

		db, err := initGorm(sqlDB)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		if clearData {
			// children first
			for _, model := range []interface{}{&commission.Commission{}, &split.Split{}, &webhookerror.WebhookError{}, &payment.Payment{}} {
				if err := db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
					log.Fatalf("failed to clear %T: %v", model, err)
				}
			}
			fmt.Println("Cleared existing payments, splits, commissions and webhook errors")
		}

		subscription := "sub_seed_0001"
		charges := []struct {
			ExternalID   string
			Value        string
			Subscription *string
			Splits       map[string]string
		}{
			{"pay_seed_0001", "100.00", nil, map[string]string{"aff_alice": "10"}},
			{"pay_seed_0002", "250.00", nil, map[string]string{"aff_alice": "5", "aff_bob": "7.5"}},
			{"pay_seed_0003", "49.90", &subscription, map[string]string{"aff_bob": "20"}},
			{"pay_seed_0004", "20.00", nil, map[string]string{"aff_carol": "1"}},
		}

		for _, c := range charges {
			var existing payment.Payment
			err := db.Where("external_id = ?", c.ExternalID).First(&existing).Error
			if err == nil {
				fmt.Printf("payment %s already exists; skipping\n", c.ExternalID)
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Fatalf("failed to look up payment %s: %v", c.ExternalID, err)
			}

			err = db.Transaction(func(tx *gorm.DB) error {
				p := &payment.Payment{
					ExternalID:     c.ExternalID,
					CustomerID:     "cus_seed",
					SubscriptionID: c.Subscription,
					Value:          decimal.RequireFromString(c.Value),
					NetValue:       decimal.RequireFromString(c.Value),
					BillingType:    "PIX",
					Status:         payment.StatusPending,
					DueDate:        time.Now().UTC().AddDate(0, 0, 7),
					ServiceType:    "filiacao",
					ServiceData:    datatypes.JSON(`{"source":"seed"}`),
				}
				if err := tx.Create(p).Error; err != nil {
					return err
				}
				for affiliate, pct := range c.Splits {
					s := &split.Split{
						PaymentID:   p.ID,
						AffiliateID: affiliate,
						WalletID:    "wallet_" + affiliate,
						Percentage:  decimal.RequireFromString(pct),
						Status:      split.StatusActive,
					}
					if err := tx.Create(s).Error; err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				log.Fatalf("failed to seed payment %s: %v", c.ExternalID, err)
			}
			fmt.Printf("Seeded payment %s (%s) with %d split(s)\n", c.ExternalID, c.Value, len(c.Splits))
		}

		fmt.Println("Payments seeded successfully")
	},
}
