package commission

import (
	"context"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/commission"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/split"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RepositoryAPI interface {
	// PaymentStatus returns the stored status of a payment, not a caller's snapshot.
	PaymentStatus(ctx context.Context, paymentID uuid.UUID) (string, error)
	InsertSplit(ctx context.Context, s *split.Split) error
	ListSplitsByPayment(ctx context.Context, paymentID uuid.UUID) ([]*split.Split, error)
	// GetCommissionBySplit returns nil without error when none exists.
	GetCommissionBySplit(ctx context.Context, splitID uuid.UUID) (*commission.Commission, error)
	ListCommissionsByPayment(ctx context.Context, paymentID uuid.UUID) ([]*commission.Commission, error)
	// ClaimSplit marks an active or errored split as in flight. It reports
	// false when another caller already holds it or it is settled.
	ClaimSplit(ctx context.Context, splitID uuid.UUID) (bool, error)
	MarkSplitError(ctx context.Context, splitID uuid.UUID, value decimal.Decimal, reason string) error
	MarkSplitCancelled(ctx context.Context, splitID uuid.UUID, value decimal.Decimal, reason string) error
	// MarkSplitProcessed records the transfer on the split and inserts c in one
	// transaction. c is stored as failed when the payment is no longer paid.
	MarkSplitProcessed(ctx context.Context, splitID uuid.UUID, transferID string, c *commission.Commission) error
	// SettleByTransfer moves a pending commission to status. It returns the rows changed.
	SettleByTransfer(ctx context.Context, transferID, status string) (int64, error)
}

type TransferCreator interface {
	CreateTransfer(ctx context.Context, req *paymentgateway.TransferRequest) (*paymentgateway.TransferResponse, error)
}

// FailureRecorder captures failures for later replay. It never fails.
type FailureRecorder interface {
	Record(ctx context.Context, paymentRef, stage string, cause error, payload []byte) string
}
