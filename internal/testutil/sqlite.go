// Package testutil holds fixtures shared by store and engine suites.
package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/commission"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/split"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
)

// NewSQLiteDB opens an isolated in-memory database with every table migrated.
func NewSQLiteDB() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// one connection keeps the shared in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&payment.Payment{}, &split.Split{}, &commission.Commission{}, &webhookerror.WebhookError{}); err != nil {
		return nil, err
	}
	return db, nil
}

// SeedPayment inserts a PENDING charge with the given value.
func SeedPayment(db *gorm.DB, externalID, value string) (*payment.Payment, error) {
	p := &payment.Payment{
		ExternalID:  externalID,
		CustomerID:  "cus_" + externalID,
		Value:       decimal.RequireFromString(value),
		NetValue:    decimal.RequireFromString(value),
		BillingType: "PIX",
		Status:      payment.StatusPending,
		DueDate:     time.Now().UTC().AddDate(0, 0, 7),
		ServiceType: "filiacao",
	}
	if err := db.Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// SeedSplit attaches an active split for affiliateID to p.
func SeedSplit(db *gorm.DB, p *payment.Payment, affiliateID, percentage string) (*split.Split, error) {
	s := &split.Split{
		PaymentID:   p.ID,
		AffiliateID: affiliateID,
		WalletID:    "wallet_" + affiliateID,
		Percentage:  decimal.RequireFromString(percentage),
		Status:      split.StatusActive,
	}
	if err := db.Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}
