package webhookerror

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
	"github.com/google/uuid"
)

type ReplayConfig struct {
	MaxRetries int
	Backoff    []time.Duration
	BatchSize  int
}

// Replayer re-runs recorded failures through the engine. Replays rely on the
// engine's transition guard for idempotency.
type Replayer struct {
	repo       RepositoryAPI
	reconciler Reconciler
	config     ReplayConfig
	logger     *slog.Logger
	now        func() time.Time
}

func NewReplayer(repo RepositoryAPI, reconciler Reconciler, config ReplayConfig, logger *slog.Logger) *Replayer {
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	return &Replayer{
		repo:       repo,
		reconciler: reconciler,
		config:     config,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *Replayer) Get(ctx context.Context, id string) (*webhookerror.WebhookError, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, internal.ErrWebhookErrorNotFound
	}
	w, err := r.repo.GetByID(ctx, uid)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (r *Replayer) List(ctx context.Context, filter ListFilter) ([]*webhookerror.WebhookError, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return r.repo.List(ctx, filter)
}

// Replay re-applies one record. A resolved record is returned untouched.
func (r *Replayer) Replay(ctx context.Context, id string) (*ReplayOutcome, error) {
	w, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.replay(ctx, w)
}

func (r *Replayer) replay(ctx context.Context, w *webhookerror.WebhookError) (*ReplayOutcome, error) {
	outcome := &ReplayOutcome{
		ID:         w.ID.String(),
		Resolved:   w.Resolved,
		RetryCount: w.RetryCount,
		ResolvedAt: w.ResolvedAt,
	}

	if w.Resolved {
		outcome.AlreadyResolved = true
		r.logger.Info("replay skipped, already resolved", "webhook_error_id", w.ID)
		return outcome, nil
	}

	now := r.now()
	if runErr := r.run(ctx, w); runErr != nil {
		if err := r.repo.RecordRetry(ctx, w.ID, now); err != nil {
			return nil, fmt.Errorf("failed to record retry for %s: %w", w.ID, err)
		}
		outcome.RetryCount++
		outcome.Error = runErr.Error()

		r.logger.Warn("replay failed",
			"webhook_error_id", w.ID,
			"external_id", w.PaymentID,
			"stage", w.Stage,
			"retry_count", outcome.RetryCount,
			"error", runErr)

		return outcome, internal.NewReplayError(fmt.Sprintf("replay of webhook error %s failed", w.ID), runErr)
	}

	if _, err := r.repo.MarkResolved(ctx, w.ID, now); err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", w.ID, err)
	}
	outcome.Resolved = true
	outcome.ResolvedAt = &now

	r.logger.Info("replay succeeded",
		"webhook_error_id", w.ID,
		"external_id", w.PaymentID,
		"stage", w.Stage)

	return outcome, nil
}

func (r *Replayer) run(ctx context.Context, w *webhookerror.WebhookError) error {
	if w.Stage == webhookerror.StageDisburse {
		if w.PaymentID == "" {
			return internal.NewBadEventError("disbursement record without payment reference")
		}
		_, err := r.reconciler.Redisburse(ctx, w.PaymentID)
		return err
	}

	_, err := r.reconciler.ApplyRaw(ctx, []byte(w.Payload))
	return err
}

// MarkResolved closes a record without replaying it.
func (r *Replayer) MarkResolved(ctx context.Context, id string) (*ReplayOutcome, error) {
	w, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	outcome := &ReplayOutcome{ID: w.ID.String(), Resolved: true, RetryCount: w.RetryCount, ResolvedAt: w.ResolvedAt}
	if w.Resolved {
		outcome.AlreadyResolved = true
		return outcome, nil
	}

	now := r.now()
	if _, err := r.repo.MarkResolved(ctx, w.ID, now); err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", w.ID, err)
	}
	outcome.ResolvedAt = &now

	r.logger.Info("webhook error resolved manually", "webhook_error_id", w.ID, "external_id", w.PaymentID)
	return outcome, nil
}

// SweepPending replays up to BatchSize unresolved records whose backoff has
// elapsed and whose retry budget is not spent.
func (r *Replayer) SweepPending(ctx context.Context) (*SweepResult, error) {
	candidates, err := r.repo.ListReplayable(ctx, r.config.MaxRetries, r.config.BatchSize*10)
	if err != nil {
		return nil, fmt.Errorf("failed to list replayable webhook errors: %w", err)
	}

	result := &SweepResult{Considered: len(candidates)}
	now := r.now()

	for _, w := range candidates {
		if result.Replayed >= r.config.BatchSize {
			break
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !r.due(w, now) {
			continue
		}

		result.Replayed++
		outcome, err := r.replay(ctx, w)
		if err != nil && !internal.HasCode(err, internal.ErrCodeReplayFailed) {
			return result, err
		}
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Resolved {
			result.Resolved++
		} else {
			result.Failed++
		}
	}

	r.logger.Info("webhook error sweep finished",
		"considered", result.Considered,
		"replayed", result.Replayed,
		"resolved", result.Resolved,
		"failed", result.Failed)

	return result, nil
}

// due reports whether the backoff for w's next attempt has elapsed. The first
// attempt waits Backoff[0] from creation.
func (r *Replayer) due(w *webhookerror.WebhookError, now time.Time) bool {
	if r.config.MaxRetries > 0 && w.RetryCount >= r.config.MaxRetries {
		return false
	}
	if len(r.config.Backoff) == 0 {
		return true
	}

	idx := w.RetryCount
	if idx >= len(r.config.Backoff) {
		idx = len(r.config.Backoff) - 1
	}

	base := w.CreatedAt
	if w.LastRetryAt != nil {
		base = *w.LastRetryAt
	}
	return !now.Before(base.Add(r.config.Backoff[idx]))
}
