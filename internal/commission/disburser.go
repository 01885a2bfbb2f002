package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/commission"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/split"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
	"github.com/shopspring/decimal"
)

type Config struct {
	// MinTransfer cancels splits whose commission falls below it. Zero disables the check.
	MinTransfer         decimal.Decimal
	TransferDescription string
}

// Disburser computes affiliate commissions for a paid charge and initiates
// one transfer per affiliate. Each split is an independent attempt.
type Disburser struct {
	repo     RepositoryAPI
	gateway  TransferCreator
	eventBus *events.EventBus
	config   Config
	logger   *slog.Logger
}

func NewDisburser(repo RepositoryAPI, gateway TransferCreator, eventBus *events.EventBus, config Config, logger *slog.Logger) *Disburser {
	if config.TransferDescription == "" {
		config.TransferDescription = "Affiliate commission"
	}
	return &Disburser{
		repo:     repo,
		gateway:  gateway,
		eventBus: eventBus,
		config:   config,
		logger:   logger,
	}
}

// Disburse returns the commissions that exist for p after this call, whether
// created now or earlier. Per-split failures are joined into the error.
func (d *Disburser) Disburse(ctx context.Context, p *payment.Payment) ([]*commission.Commission, error) {
	// p may be a snapshot taken before a refund committed
	status, err := d.repo.PaymentStatus(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load status of payment %s: %w", p.ID, err)
	}
	if !payment.IsPaidStatus(status) {
		d.logger.Info("payment no longer paid, skipping disbursement",
			"payment_id", p.ID,
			"external_id", p.ExternalID,
			"status", status)
		return nil, nil
	}

	splits, err := d.repo.ListSplitsByPayment(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list splits for payment %s: %w", p.ID, err)
	}
	if len(splits) == 0 {
		d.logger.Debug("no splits configured", "payment_id", p.ID)
		return nil, nil
	}

	var (
		commissions []*commission.Commission
		errs        []error
	)

	for _, group := range groupByAffiliate(splits) {
		c, err := d.disburseAffiliate(ctx, p, group)
		if err != nil {
			errs = append(errs, err)
		}
		if c != nil {
			commissions = append(commissions, c)
		}
	}

	return commissions, errors.Join(errs...)
}

func (d *Disburser) disburseAffiliate(ctx context.Context, p *payment.Payment, group []*split.Split) (*commission.Commission, error) {
	for _, s := range group {
		if s.Status == split.StatusProcessed {
			existing, err := d.repo.GetCommissionBySplit(ctx, s.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to load commission for split %s: %w", s.ID, err)
			}
			d.logger.Debug("split already processed",
				"payment_id", p.ID,
				"split_id", s.ID,
				"affiliate_id", s.AffiliateID)
			return existing, nil
		}
	}

	for _, s := range group {
		if s.Status == split.StatusActive || s.Status == split.StatusError {
			if s.ClaimedAt != nil {
				return nil, splitInFlight(s)
			}
			return d.disburseSplit(ctx, p, s)
		}
	}
	return nil, nil
}

// splitInFlight keeps a replay open while another attempt holds the claim.
func splitInFlight(s *split.Split) error {
	return internal.NewDisburseError(fmt.Sprintf("split %s for affiliate %s is in flight", s.ID, s.AffiliateID), nil)
}

func (d *Disburser) disburseSplit(ctx context.Context, p *payment.Payment, s *split.Split) (*commission.Commission, error) {
	value := Compute(p.Value, s.Percentage)

	claimed, err := d.repo.ClaimSplit(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim split %s: %w", s.ID, err)
	}
	if !claimed {
		d.logger.Info("split claimed elsewhere",
			"payment_id", p.ID,
			"split_id", s.ID,
			"affiliate_id", s.AffiliateID)
		return nil, splitInFlight(s)
	}

	// split state is written even when ctx ends mid-transfer, or the claim is never released
	persistCtx := context.WithoutCancel(ctx)

	if !value.IsPositive() || (d.config.MinTransfer.IsPositive() && value.LessThan(d.config.MinTransfer)) {
		reason := fmt.Sprintf("commission %s below minimum transfer %s", value.StringFixed(2), d.config.MinTransfer.StringFixed(2))
		if err := d.repo.MarkSplitCancelled(persistCtx, s.ID, value, reason); err != nil {
			return nil, fmt.Errorf("failed to cancel split %s: %w", s.ID, err)
		}
		d.logger.Info("split cancelled",
			"payment_id", p.ID,
			"split_id", s.ID,
			"affiliate_id", s.AffiliateID,
			"commission_value", value.StringFixed(2))
		return nil, nil
	}

	// the claim is held across the network call; the payment lock is not
	transfer, err := d.gateway.CreateTransfer(ctx, &paymentgateway.TransferRequest{
		Value:       value,
		WalletID:    s.WalletID,
		Description: fmt.Sprintf("%s %s", d.config.TransferDescription, p.ExternalID),
	})
	if err != nil {
		if markErr := d.repo.MarkSplitError(persistCtx, s.ID, value, err.Error()); markErr != nil {
			d.logger.Error("failed to mark split error", "split_id", s.ID, "error", markErr)
		}
		d.logger.Warn("commission transfer failed",
			"payment_id", p.ID,
			"split_id", s.ID,
			"affiliate_id", s.AffiliateID,
			"error", err)
		return nil, internal.NewDisburseError(fmt.Sprintf("transfer for split %s failed", s.ID), err)
	}

	c := &commission.Commission{
		AffiliateID:     s.AffiliateID,
		PaymentID:       p.ID,
		SplitID:         s.ID,
		CommissionValue: value,
		PaymentValue:    p.Value,
		Percentage:      s.Percentage,
		TransferID:      transfer.ID,
		Status:          commission.StatusPending,
	}
	if err := d.repo.MarkSplitProcessed(persistCtx, s.ID, transfer.ID, c); err != nil {
		// the transfer exists at the gateway; the split stays claimed so it is never paid twice
		d.logger.Error("transfer accepted but not recorded",
			"payment_id", p.ID,
			"split_id", s.ID,
			"transfer_id", transfer.ID,
			"error", err)
		return nil, internal.NewDisburseError(fmt.Sprintf("transfer %s for split %s not recorded", transfer.ID, s.ID), err)
	}

	if c.Status == commission.StatusFailed {
		d.logger.Warn("payment refunded during transfer, commission recorded as failed",
			"payment_id", p.ID,
			"split_id", s.ID,
			"affiliate_id", s.AffiliateID,
			"transfer_id", transfer.ID)
		return c, nil
	}

	d.logger.Info("commission disbursed",
		"payment_id", p.ID,
		"split_id", s.ID,
		"affiliate_id", s.AffiliateID,
		"commission_value", value.StringFixed(2),
		"transfer_id", transfer.ID)

	if d.eventBus != nil {
		_ = d.eventBus.Publish(ctx, events.NewCommissionDisbursedEvent(
			c.ID.String(), p.ID.String(), c.AffiliateID, value.StringFixed(2), transfer.ID))
	}

	return c, nil
}

// SettleTransfer applies a TRANSFER_DONE or TRANSFER_FAILED notification.
// Unknown transfers and commissions already settled are left alone.
func (d *Disburser) SettleTransfer(ctx context.Context, transferID, eventType string) error {
	status := commission.StatusCompleted
	if eventType == "TRANSFER_FAILED" {
		status = commission.StatusFailed
	}

	n, err := d.repo.SettleByTransfer(ctx, transferID, status)
	if err != nil {
		return fmt.Errorf("failed to settle transfer %s: %w", transferID, err)
	}

	d.logger.Info("transfer settled", "transfer_id", transferID, "status", status, "rows", n)
	return nil
}

func groupByAffiliate(splits []*split.Split) [][]*split.Split {
	index := make(map[string]int)
	var groups [][]*split.Split
	for _, s := range splits {
		i, ok := index[s.AffiliateID]
		if !ok {
			i = len(groups)
			index[s.AffiliateID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], s)
	}
	return groups
}
