package webhookerror

import (
	"context"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/commission"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
	paymentpkg "github.com/frahmantamala/payment-reconciliation/internal/payment"
	"github.com/google/uuid"
)

type ListFilter struct {
	Resolved  *bool
	PaymentID string
	Limit     int
	Offset    int
}

type RepositoryAPI interface {
	Insert(ctx context.Context, w *webhookerror.WebhookError) error
	GetByID(ctx context.Context, id uuid.UUID) (*webhookerror.WebhookError, error)
	List(ctx context.Context, filter ListFilter) ([]*webhookerror.WebhookError, error)
	// ListReplayable returns unresolved records below maxRetries, oldest first.
	ListReplayable(ctx context.Context, maxRetries, limit int) ([]*webhookerror.WebhookError, error)
	// MarkResolved flips resolved from false to true and reports whether it did.
	MarkResolved(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	RecordRetry(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Reconciler is the engine surface replays funnel through.
type Reconciler interface {
	ApplyRaw(ctx context.Context, raw []byte) (*paymentpkg.Outcome, error)
	Redisburse(ctx context.Context, externalID string) ([]*commission.Commission, error)
}

type ReplayOutcome struct {
	ID              string     `json:"id"`
	Resolved        bool       `json:"resolved"`
	AlreadyResolved bool       `json:"already_resolved"`
	RetryCount      int        `json:"retry_count"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	Error           string     `json:"error,omitempty"`
}

type SweepResult struct {
	Considered int              `json:"considered"`
	Replayed   int              `json:"replayed"`
	Resolved   int              `json:"resolved"`
	Failed     int              `json:"failed"`
	Outcomes   []*ReplayOutcome `json:"outcomes"`
}
