package commission

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Commission struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	AffiliateID     string          `gorm:"column:affiliate_id;not null;index"`
	PaymentID       uuid.UUID       `gorm:"column:payment_id;type:uuid;not null;index"`
	SplitID         uuid.UUID       `gorm:"column:split_id;type:uuid;not null;uniqueIndex"`
	CommissionValue decimal.Decimal `gorm:"column:commission_value;type:numeric(12,2);not null"`
	PaymentValue    decimal.Decimal `gorm:"column:payment_value;type:numeric(12,2);not null"`
	Percentage      decimal.Decimal `gorm:"column:percentage;type:numeric(5,2);not null"`
	TransferID      string          `gorm:"column:transfer_id;index"`
	Status          string          `gorm:"column:status;not null"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
}

func (Commission) TableName() string {
	return "commissions"
}

func (c *Commission) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = StatusPending
	}
	return nil
}
