package split

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	StatusActive    = "active"
	StatusProcessed = "processed"
	StatusCancelled = "cancelled"
	StatusError     = "error"
)

// Split allocates a percentage of a charge to one affiliate.
type Split struct {
	ID              uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	PaymentID       uuid.UUID        `gorm:"column:payment_id;type:uuid;not null;index"`
	AffiliateID     string           `gorm:"column:affiliate_id;not null"`
	WalletID        string           `gorm:"column:wallet_id;not null"`
	Percentage      decimal.Decimal  `gorm:"column:percentage;type:numeric(5,2);not null"`
	Status          string           `gorm:"column:status;not null"`
	CommissionValue *decimal.Decimal `gorm:"column:commission_value;type:numeric(12,2)"`
	TransferID      *string          `gorm:"column:transfer_id"`
	ErrorMessage    *string          `gorm:"column:error_message"`
	ClaimedAt       *time.Time       `gorm:"column:claimed_at"`
	ProcessedAt     *time.Time       `gorm:"column:processed_at"`
	CreatedAt       time.Time        `gorm:"column:created_at"`
	UpdatedAt       time.Time        `gorm:"column:updated_at"`
}

func (Split) TableName() string {
	return "splits"
}

func (s *Split) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = StatusActive
	}
	return nil
}
