package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/commission"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
)

// maxCASAttempts bounds reloads when another process changes the row between
// our read and our conditional write.
const maxCASAttempts = 3

// Outcome describes what applying one event did.
type Outcome struct {
	EventType string
	Payment   *payment.Payment
	Applied   bool
	From      string
	To        string
	// Affected counts charges changed by a subscription-level event.
	Affected    int
	Commissions []*commission.Commission
	DisburseErr error
}

// Engine applies gateway events to payments. Mutations for one charge are
// serialized by a keyed lock and committed with a compare-and-set on status.
// Disbursement runs after the lock is released.
type Engine struct {
	repo      RepositoryAPI
	disburser Disburser
	settler   TransferSettler
	recorder  FailureRecorder
	eventBus  *events.EventBus
	locks     *KeyedLocker
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(repo RepositoryAPI, disburser Disburser, settler TransferSettler, recorder FailureRecorder, eventBus *events.EventBus, logger *slog.Logger) *Engine {
	return &Engine{
		repo:      repo,
		disburser: disburser,
		settler:   settler,
		recorder:  recorder,
		eventBus:  eventBus,
		locks:     NewKeyedLocker(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ApplyRaw parses a webhook body and applies it.
func (e *Engine) ApplyRaw(ctx context.Context, raw []byte) (*Outcome, error) {
	evt, err := ParseEvent(raw)
	if err != nil {
		return nil, err
	}
	return e.ApplyEvent(ctx, evt)
}

func (e *Engine) ApplyEvent(ctx context.Context, evt *Event) (*Outcome, error) {
	eventType := evt.CanonicalType()

	switch {
	case eventType == EventTransferDone || eventType == EventTransferFailed:
		return e.applyTransfer(ctx, evt)
	case eventType == EventSubscriptionDeleted:
		return e.applySubscription(ctx, evt)
	case paymentEvents[eventType]:
		return e.applyToPayment(ctx, evt.Payment.ID, eventType, evt.Raw)
	}

	e.logger.Info("ignoring unrecognized event", "event", evt.Type, "reference", evt.Reference())
	return &Outcome{EventType: evt.Type}, nil
}

// Redisburse re-runs commission disbursement for a charge that is already paid.
func (e *Engine) Redisburse(ctx context.Context, externalID string) ([]*commission.Commission, error) {
	p, err := e.repo.GetByExternalID(ctx, externalID)
	if err != nil {
		if internal.HasCode(err, internal.ErrCodePaymentNotFound) {
			return nil, internal.NewUnknownPaymentError(externalID).WithCause(err)
		}
		return nil, err
	}

	if !p.IsPaid() {
		e.logger.Info("skipping disbursement for unpaid payment", "external_id", externalID, "status", p.Status)
		return nil, nil
	}
	if e.disburser == nil {
		return nil, nil
	}
	return e.disburser.Disburse(ctx, p)
}

// lockedTransition releases the payment lock before disbursement starts, and on panic.
func (e *Engine) lockedTransition(ctx context.Context, externalID, eventType string) (*Outcome, Transition, error) {
	unlock := e.locks.Lock(externalID)
	defer unlock()
	return e.transition(ctx, externalID, eventType)
}

func (e *Engine) applyToPayment(ctx context.Context, externalID, eventType string, raw []byte) (*Outcome, error) {
	outcome, rule, err := e.lockedTransition(ctx, externalID, eventType)
	if err != nil {
		return nil, err
	}
	outcome.EventType = eventType

	if !outcome.Applied {
		return outcome, nil
	}

	e.logger.Info("payment status changed",
		"payment_id", outcome.Payment.ID,
		"external_id", externalID,
		"event", eventType,
		"from", outcome.From,
		"to", outcome.To)

	e.publishStatusChanged(ctx, outcome, eventType)

	if rule.Disburse && e.disburser != nil {
		commissions, err := e.disburser.Disburse(ctx, outcome.Payment)
		outcome.Commissions = commissions
		if err != nil {
			outcome.DisburseErr = err
			e.logger.Error("commission disbursement failed",
				"payment_id", outcome.Payment.ID,
				"external_id", externalID,
				"error", err)
			if e.recorder != nil {
				e.recorder.Record(ctx, externalID, webhookerror.StageDisburse, err, raw)
			}
		}
	}

	return outcome, nil
}

// transition runs the check-then-set under the caller's lock.
func (e *Engine) transition(ctx context.Context, externalID, eventType string) (*Outcome, Transition, error) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		p, err := e.repo.GetByExternalID(ctx, externalID)
		if err != nil {
			if internal.HasCode(err, internal.ErrCodePaymentNotFound) {
				return nil, Transition{}, internal.NewUnknownPaymentError(externalID).WithCause(err)
			}
			return nil, Transition{}, fmt.Errorf("failed to load payment %s: %w", externalID, err)
		}

		rule, ok := LookupTransition(p.Status, eventType)
		if !ok || (rule.SubscriptionOnly && p.SubscriptionID == nil) {
			e.logger.Debug("no transition for event",
				"external_id", externalID,
				"status", p.Status,
				"event", eventType)
			return &Outcome{Payment: p, From: p.Status, To: p.Status}, rule, nil
		}

		updated, err := e.repo.CompareAndSetStatus(ctx, p.ID, p.Status, rule.To, rule.sideEffects(p, e.now()))
		if errors.Is(err, internal.ErrStatusConflict) {
			e.logger.Warn("payment status changed concurrently, reloading",
				"external_id", externalID,
				"expected", p.Status,
				"attempt", attempt)
			continue
		}
		if err != nil {
			return nil, rule, fmt.Errorf("failed to update payment %s: %w", externalID, err)
		}

		return &Outcome{Payment: updated, Applied: true, From: p.Status, To: updated.Status}, rule, nil
	}

	return nil, Transition{}, internal.ErrStatusConflict
}

func (e *Engine) applySubscription(ctx context.Context, evt *Event) (*Outcome, error) {
	subscriptionID := evt.Subscription.ID

	pending, err := e.repo.ListPendingBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments for subscription %s: %w", subscriptionID, err)
	}

	outcome := &Outcome{EventType: evt.Type}
	var errs []error
	for _, p := range pending {
		result, err := e.applyToPayment(ctx, p.ExternalID, EventSubscriptionDeleted, evt.Raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if result.Applied {
			outcome.Affected++
		}
	}

	e.logger.Info("subscription event applied",
		"subscription_id", subscriptionID,
		"event", evt.Type,
		"affected", outcome.Affected)

	return outcome, errors.Join(errs...)
}

func (e *Engine) applyTransfer(ctx context.Context, evt *Event) (*Outcome, error) {
	if e.settler == nil {
		return &Outcome{EventType: evt.Type}, nil
	}
	if err := e.settler.SettleTransfer(ctx, evt.Transfer.ID, evt.Type); err != nil {
		return nil, err
	}
	return &Outcome{EventType: evt.Type}, nil
}

func (e *Engine) publishStatusChanged(ctx context.Context, outcome *Outcome, eventType string) {
	if e.eventBus == nil {
		return
	}
	p := outcome.Payment
	event := events.NewPaymentStatusChangedEvent(
		p.ID.String(),
		p.ExternalID,
		outcome.From,
		outcome.To,
		eventType,
		p.ServiceType,
		[]byte(p.ServiceData),
	)
	if err := e.eventBus.Publish(ctx, event); err != nil {
		e.logger.Error("failed to publish status change", "payment_id", p.ID, "error", err)
	}
}
