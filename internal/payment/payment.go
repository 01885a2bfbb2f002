package payment

import (
	"context"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/commission"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/google/uuid"
)

// SideEffects are applied in the same transaction as a status change.
type SideEffects struct {
	PaidAt                 *time.Time
	ClearPaidAt            bool
	FailPendingCommissions bool
}

type RepositoryAPI interface {
	Create(ctx context.Context, p *payment.Payment) error
	GetByExternalID(ctx context.Context, externalID string) (*payment.Payment, error)
	ListPendingBySubscription(ctx context.Context, subscriptionID string) ([]*payment.Payment, error)
	// CompareAndSetStatus moves id from expected to next only if the stored
	// status still equals expected. It returns internal.ErrStatusConflict otherwise.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next string, effects SideEffects) (*payment.Payment, error)
}

// Disburser pays affiliate commissions for a payment that just became paid.
type Disburser interface {
	Disburse(ctx context.Context, p *payment.Payment) ([]*commission.Commission, error)
}

// TransferSettler applies gateway transfer outcomes to commissions.
type TransferSettler interface {
	SettleTransfer(ctx context.Context, transferID, status string) error
}

// FailureRecorder captures failures for later replay. It never fails.
type FailureRecorder interface {
	Record(ctx context.Context, paymentRef, stage string, cause error, payload []byte) string
}
