package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	commissionpkg "github.com/frahmantamala/payment-reconciliation/internal/commission"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/commission"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/split"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CommissionRepository struct {
	db *gorm.DB
}

func NewCommissionRepository(db *gorm.DB) *CommissionRepository {
	return &CommissionRepository{db: db}
}

var _ commissionpkg.RepositoryAPI = (*CommissionRepository)(nil)

func (r *CommissionRepository) InsertSplit(ctx context.Context, s *split.Split) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *CommissionRepository) ListSplitsByPayment(ctx context.Context, paymentID uuid.UUID) ([]*split.Split, error) {
	var splits []*split.Split
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&splits).Error
	return splits, err
}

func (r *CommissionRepository) PaymentStatus(ctx context.Context, paymentID uuid.UUID) (string, error) {
	var p payment.Payment
	err := r.db.WithContext(ctx).Select("status").Where("id = ?", paymentID).First(&p).Error
	if err != nil {
		return "", err
	}
	return p.Status, nil
}

func (r *CommissionRepository) GetCommissionBySplit(ctx context.Context, splitID uuid.UUID) (*commission.Commission, error) {
	var c commission.Commission
	err := r.db.WithContext(ctx).Where("split_id = ?", splitID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *CommissionRepository) ListCommissionsByPayment(ctx context.Context, paymentID uuid.UUID) ([]*commission.Commission, error) {
	var commissions []*commission.Commission
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&commissions).Error
	return commissions, err
}

func (r *CommissionRepository) ClaimSplit(ctx context.Context, splitID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&split.Split{}).
		Where("id = ? AND claimed_at IS NULL AND status IN ?", splitID, []string{split.StatusActive, split.StatusError}).
		Updates(map[string]interface{}{
			"claimed_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *CommissionRepository) MarkSplitError(ctx context.Context, splitID uuid.UUID, value decimal.Decimal, reason string) error {
	return r.db.WithContext(ctx).Model(&split.Split{}).
		Where("id = ?", splitID).
		Updates(map[string]interface{}{
			"status":           split.StatusError,
			"commission_value": value,
			"error_message":    reason,
			"claimed_at":       nil,
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (r *CommissionRepository) MarkSplitCancelled(ctx context.Context, splitID uuid.UUID, value decimal.Decimal, reason string) error {
	return r.db.WithContext(ctx).Model(&split.Split{}).
		Where("id = ?", splitID).
		Updates(map[string]interface{}{
			"status":           split.StatusCancelled,
			"commission_value": value,
			"error_message":    reason,
			"updated_at":       time.Now().UTC(),
		}).Error
}

func (r *CommissionRepository) MarkSplitProcessed(ctx context.Context, splitID uuid.UUID, transferID string, c *commission.Commission) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the row lock orders this insert against a concurrent refund, which
		// fails pending commissions in its own transaction
		var p payment.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("status").
			Where("id = ?", c.PaymentID).
			First(&p).Error; err != nil {
			return fmt.Errorf("failed to lock payment %s: %w", c.PaymentID, err)
		}
		if !payment.IsPaidStatus(p.Status) {
			c.Status = commission.StatusFailed
		}

		now := time.Now().UTC()
		res := tx.Model(&split.Split{}).
			Where("id = ? AND status <> ?", splitID, split.StatusProcessed).
			Updates(map[string]interface{}{
				"status":           split.StatusProcessed,
				"commission_value": c.CommissionValue,
				"transfer_id":      transferID,
				"error_message":    nil,
				"processed_at":     now,
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("split %s already processed", splitID)
		}

		return tx.Create(c).Error
	})
}

func (r *CommissionRepository) SettleByTransfer(ctx context.Context, transferID, status string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&commission.Commission{}).
		Where("transfer_id = ? AND status = ?", transferID, commission.StatusPending).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
