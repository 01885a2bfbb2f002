package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
	webhookerrorpkg "github.com/frahmantamala/payment-reconciliation/internal/webhookerror"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type WebhookErrorRepository struct {
	db *gorm.DB
}

func NewWebhookErrorRepository(db *gorm.DB) *WebhookErrorRepository {
	return &WebhookErrorRepository{db: db}
}

var _ webhookerrorpkg.RepositoryAPI = (*WebhookErrorRepository)(nil)

func (r *WebhookErrorRepository) Insert(ctx context.Context, w *webhookerror.WebhookError) error {
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *WebhookErrorRepository) GetByID(ctx context.Context, id uuid.UUID) (*webhookerror.WebhookError, error) {
	var w webhookerror.WebhookError
	err := r.db.WithContext(ctx).First(&w, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrWebhookErrorNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *WebhookErrorRepository) List(ctx context.Context, filter webhookerrorpkg.ListFilter) ([]*webhookerror.WebhookError, error) {
	query := r.db.WithContext(ctx).Model(&webhookerror.WebhookError{})
	if filter.Resolved != nil {
		query = query.Where("resolved = ?", *filter.Resolved)
	}
	if filter.PaymentID != "" {
		query = query.Where("payment_id = ?", filter.PaymentID)
	}

	var records []*webhookerror.WebhookError
	err := query.
		Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&records).Error
	return records, err
}

func (r *WebhookErrorRepository) ListReplayable(ctx context.Context, maxRetries, limit int) ([]*webhookerror.WebhookError, error) {
	query := r.db.WithContext(ctx).Where("resolved = ?", false)
	if maxRetries > 0 {
		query = query.Where("retry_count < ?", maxRetries)
	}

	var records []*webhookerror.WebhookError
	err := query.
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	return records, err
}

func (r *WebhookErrorRepository) MarkResolved(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&webhookerror.WebhookError{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_at": at,
			"updated_at":  at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *WebhookErrorRepository) RecordRetry(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&webhookerror.WebhookError{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_retry_at": at,
			"updated_at":    at,
		}).Error
}
