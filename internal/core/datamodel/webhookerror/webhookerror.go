package webhookerror

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Stage tells the replayer which part of the pipeline failed.
const (
	StageReconcile = "reconcile"
	StageDisburse  = "disburse"
)

// WebhookError is an audit record of an inbound event that failed to apply.
// Rows are never deleted.
type WebhookError struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	PaymentID    string     `gorm:"column:payment_id;index" json:"payment_id"`
	Stage        string     `gorm:"column:stage;not null" json:"stage"`
	ErrorMessage string     `gorm:"column:error_message;not null" json:"error_message"`
	Payload      string     `gorm:"column:payload;type:text" json:"payload"`
	RetryCount   int        `gorm:"column:retry_count;not null" json:"retry_count"`
	LastRetryAt  *time.Time `gorm:"column:last_retry_at" json:"last_retry_at,omitempty"`
	Resolved     bool       `gorm:"column:resolved;not null;index" json:"resolved"`
	ResolvedAt   *time.Time `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (WebhookError) TableName() string {
	return "webhook_errors"
}

func (w *WebhookError) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Stage == "" {
		w.Stage = StageReconcile
	}
	return nil
}
