package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/commission"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/payment-reconciliation/internal/payment"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{
		db: db,
	}
}

var _ paymentpkg.RepositoryAPI = (*PaymentRepository)(nil)

func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.NewNotFoundError(fmt.Sprintf("payment %s not found", externalID), internal.ErrCodePaymentNotFound).WithCause(err)
		}
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) ListPendingBySubscription(ctx context.Context, subscriptionID string) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND status = ?", subscriptionID, payment.StatusPending).
		Order("due_date ASC").
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next string, effects paymentpkg.SideEffects) (*payment.Payment, error) {
	var updated payment.Payment

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":     next,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		}
		if effects.PaidAt != nil {
			updates["paid_at"] = *effects.PaidAt
		}
		if effects.ClearPaidAt {
			updates["paid_at"] = nil
		}

		res := tx.Model(&payment.Payment{}).
			Where("id = ? AND status = ?", id, expected).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return internal.ErrStatusConflict
		}

		if effects.FailPendingCommissions {
			err := tx.Model(&commission.Commission{}).
				Where("payment_id = ? AND status = ?", id, commission.StatusPending).
				Updates(map[string]interface{}{
					"status":     commission.StatusFailed,
					"updated_at": time.Now().UTC(),
				}).Error
			if err != nil {
				return fmt.Errorf("failed to fail pending commissions: %w", err)
			}
		}

		return tx.First(&updated, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}

	return &updated, nil
}
