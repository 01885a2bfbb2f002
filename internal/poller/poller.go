package poller

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	gatewaytypes "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/paymentgateway"
	paymentpkg "github.com/frahmantamala/payment-reconciliation/internal/payment"
)

type PaymentReader interface {
	GetByExternalID(ctx context.Context, externalID string) (*payment.Payment, error)
}

type ChargeFetcher interface {
	GetCharge(ctx context.Context, externalID string) (*gatewaytypes.ChargeSnapshot, error)
}

// EventApplier persists discrepancies found at the gateway.
type EventApplier interface {
	ApplyEvent(ctx context.Context, evt *paymentpkg.Event) (*paymentpkg.Outcome, error)
}

type Kind string

const (
	KindSuccess  Kind = "success"
	KindTimedOut Kind = "timed_out"
	KindFailed   Kind = "failed"
)

const ReasonCancelled = "cancelled"

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
}

// MaxAttempts is the number of status checks that fit in the timeout.
func (o Options) MaxAttempts() int {
	return int(math.Ceil(float64(o.Timeout) / float64(o.Interval)))
}

type Outcome struct {
	Kind     Kind
	Status   string
	Reason   string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

type Config struct {
	Interval   time.Duration
	Timeout    time.Duration
	StaleAfter time.Duration
}

type session struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Poller watches a charge until it settles, the deadline passes, or the caller
// cancels. One session per charge: a new Poll cancels the previous one.
type Poller struct {
	payments PaymentReader
	gateway  ChargeFetcher
	applier  EventApplier
	config   Config
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func NewPoller(payments PaymentReader, gateway ChargeFetcher, applier EventApplier, config Config, logger *slog.Logger) *Poller {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 2 * time.Second
	}
	return &Poller{
		payments: payments,
		gateway:  gateway,
		applier:  applier,
		config:   config,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

func (p *Poller) Defaults() Options {
	return Options{Interval: p.config.Interval, Timeout: p.config.Timeout}
}

func (p *Poller) Poll(ctx context.Context, externalID string, opts Options) *Outcome {
	if opts.Interval <= 0 {
		opts.Interval = p.config.Interval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = p.config.Timeout
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &session{cancel: cancel, done: make(chan struct{})}
	p.acquire(externalID, s)
	defer p.release(externalID, s)

	return p.run(ctx, externalID, opts)
}

// Cancel stops the active session for externalID, if any.
func (p *Poller) Cancel(externalID string) bool {
	p.mu.Lock()
	s, ok := p.sessions[externalID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	<-s.done
	return true
}

// Active reports the number of running sessions.
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *Poller) acquire(externalID string, s *session) {
	for {
		p.mu.Lock()
		prev, ok := p.sessions[externalID]
		if !ok {
			p.sessions[externalID] = s
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		p.logger.Debug("superseding poll session", "external_id", externalID)
		prev.cancel()
		<-prev.done
	}
}

func (p *Poller) release(externalID string, s *session) {
	p.mu.Lock()
	if p.sessions[externalID] == s {
		delete(p.sessions, externalID)
	}
	p.mu.Unlock()
	close(s.done)
}

func (p *Poller) run(ctx context.Context, externalID string, opts Options) *Outcome {
	start := time.Now()
	maxAttempts := opts.MaxAttempts()

	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	outcome := &Outcome{}
	var lastGatewayCheck time.Time

	finish := func(kind Kind) *Outcome {
		outcome.Kind = kind
		outcome.Elapsed = time.Since(start)
		p.logger.Info("poll finished",
			"external_id", externalID,
			"outcome", kind,
			"status", outcome.Status,
			"attempts", outcome.Attempts,
			"elapsed_ms", outcome.Elapsed.Milliseconds())
		return outcome
	}

	for {
		if ctx.Err() != nil {
			outcome.Reason = ReasonCancelled
			return finish(KindFailed)
		}

		if outcome.Attempts < maxAttempts {
			outcome.Attempts++

			status, err := p.check(ctx, externalID, &lastGatewayCheck)
			switch {
			case internal.HasCode(err, internal.ErrCodePaymentNotFound):
				outcome.Reason = "payment not found"
				outcome.Err = err
				return finish(KindFailed)
			case err != nil && ctx.Err() == nil:
				p.logger.Warn("poll attempt failed", "external_id", externalID, "attempt", outcome.Attempts, "error", err)
			}

			if status != "" {
				outcome.Status = status
			}
			if payment.IsPaidStatus(status) || payment.IsTerminalFailure(status) {
				return finish(KindSuccess)
			}
		}

		select {
		case <-ctx.Done():
			outcome.Reason = ReasonCancelled
			return finish(KindFailed)
		case <-deadline.C:
			return finish(KindTimedOut)
		case <-ticker.C:
		}
	}
}

// check reads the local status and, when it is PENDING and has not moved for
// StaleAfter, asks the gateway and applies any difference through the engine.
func (p *Poller) check(ctx context.Context, externalID string, lastGatewayCheck *time.Time) (string, error) {
	current, err := p.payments.GetByExternalID(ctx, externalID)
	if err != nil {
		return "", err
	}

	if current.Status != payment.StatusPending {
		return current.Status, nil
	}
	if time.Since(current.UpdatedAt) < p.config.StaleAfter || time.Since(*lastGatewayCheck) < p.config.StaleAfter {
		return current.Status, nil
	}

	*lastGatewayCheck = time.Now()
	snapshot, err := p.gateway.GetCharge(ctx, externalID)
	if err != nil {
		// the local row exists; a gateway miss is not fatal to the session
		if internal.HasCode(err, internal.ErrCodePaymentNotFound) {
			return current.Status, nil
		}
		return current.Status, err
	}
	if snapshot.Status == current.Status {
		return current.Status, nil
	}

	evt, ok := paymentpkg.SynthesizeEvent(externalID, snapshot.Status)
	if !ok {
		return current.Status, nil
	}

	p.logger.Info("gateway status ahead of local record",
		"external_id", externalID,
		"local_status", current.Status,
		"gateway_status", snapshot.Status)

	result, err := p.applier.ApplyEvent(ctx, evt)
	if err != nil {
		return current.Status, err
	}
	if result.Payment != nil {
		return result.Payment.Status, nil
	}
	return current.Status, nil
}
