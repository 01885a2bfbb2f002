package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusPending   = "PENDING"
	StatusReceived  = "RECEIVED"
	StatusConfirmed = "CONFIRMED"
	StatusOverdue   = "OVERDUE"
	StatusDeleted   = "DELETED"
	StatusRestored  = "RESTORED"
	StatusRefunded  = "REFUNDED"
)

type Payment struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ExternalID     string          `gorm:"column:external_id;not null;uniqueIndex"`
	CustomerID     string          `gorm:"column:customer_id;not null"`
	SubscriptionID *string         `gorm:"column:subscription_id;index"`
	Value          decimal.Decimal `gorm:"column:value;type:numeric(12,2);not null"`
	NetValue       decimal.Decimal `gorm:"column:net_value;type:numeric(12,2);not null"`
	BillingType    string          `gorm:"column:billing_type;not null"`
	Status         string          `gorm:"column:status;not null;index"`
	DueDate        time.Time       `gorm:"column:due_date"`
	PaidAt         *time.Time      `gorm:"column:paid_at"`
	ServiceType    string          `gorm:"column:service_type"`
	ServiceData    datatypes.JSON  `gorm:"column:service_data"`
	Version        int64           `gorm:"column:version;not null"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	return nil
}

// IsPaid reports whether the charge has been settled by the customer.
func (p *Payment) IsPaid() bool {
	return IsPaidStatus(p.Status)
}

func IsPaidStatus(status string) bool {
	return status == StatusReceived || status == StatusConfirmed
}

// IsTerminalFailure reports statuses the client should treat as a failed charge.
func IsTerminalFailure(status string) bool {
	switch status {
	case StatusOverdue, StatusRefunded, StatusDeleted:
		return true
	}
	return false
}
