package poller

import (
	"net/http"
	"strings"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/core/common/validation"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/transport"
	"github.com/go-chi/chi"
)

const (
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

type Handler struct {
	*transport.BaseHandler
	poller     *Poller
	maxTimeout time.Duration
}

func NewHandler(baseHandler *transport.BaseHandler, poller *Poller, maxTimeout time.Duration) *Handler {
	if maxTimeout <= 0 {
		maxTimeout = time.Minute
	}
	return &Handler{
		BaseHandler: baseHandler,
		poller:      poller,
		maxTimeout:  maxTimeout,
	}
}

type PollRequest struct {
	IntervalMs int64 `json:"interval_ms"`
	TimeoutMs  int64 `json:"timeout_ms"`
}

type PollResponse struct {
	ExternalID    string `json:"external_id"`
	Status        string `json:"status"`
	Step          string `json:"step"`
	Progress      int    `json:"progress"`
	PaymentStatus string `json:"payment_status,omitempty"`
	Attempts      int    `json:"attempts"`
	ElapsedMs     int64  `json:"elapsed_ms"`
}

// Poll handles POST /payments/{id}/poll. The request blocks until the charge
// settles or the poll window closes.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "id")

	var req PollRequest
	if err := h.DecodeJSON(r, &req, internal.ErrCodeInvalidPollRequest); err != nil {
		h.HandleError(w, err)
		return
	}

	opts := h.poller.Defaults()
	if req.IntervalMs > 0 {
		opts.Interval = time.Duration(req.IntervalMs) * time.Millisecond
	}
	if req.TimeoutMs > 0 {
		opts.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	if appErr := validation.ValidatePollWindow(opts.Interval, opts.Timeout, h.maxTimeout); appErr != nil {
		h.HandleError(w, appErr)
		return
	}

	outcome := h.poller.Poll(r.Context(), externalID, opts)
	if outcome.Kind == KindFailed && outcome.Err != nil {
		h.HandleError(w, outcome.Err)
		return
	}

	h.WriteJSON(w, http.StatusOK, toResponse(externalID, outcome, opts))
}

// Cancel handles DELETE /payments/{id}/poll
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	cancelled := h.poller.Cancel(chi.URLParam(r, "id"))
	h.WriteJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func toResponse(externalID string, outcome *Outcome, opts Options) PollResponse {
	resp := PollResponse{
		ExternalID:    externalID,
		PaymentStatus: outcome.Status,
		Attempts:      outcome.Attempts,
		ElapsedMs:     outcome.Elapsed.Milliseconds(),
	}

	switch {
	case outcome.Kind == KindSuccess && payment.IsPaidStatus(outcome.Status):
		resp.Status = StateCompleted
		resp.Step = "confirmed"
		resp.Progress = 100
	case outcome.Kind == KindSuccess:
		resp.Status = StateFailed
		resp.Step = "payment_" + strings.ToLower(outcome.Status)
		resp.Progress = 100
	case outcome.Kind == KindTimedOut:
		resp.Status = StateProcessing
		resp.Step = "awaiting_confirmation"
		resp.Progress = progress(outcome.Attempts, opts.MaxAttempts())
	default:
		resp.Status = StateProcessing
		resp.Step = outcome.Reason
		resp.Progress = progress(outcome.Attempts, opts.MaxAttempts())
	}
	return resp
}

// progress never reports 100 for an unsettled charge.
func progress(attempts, max int) int {
	if max <= 0 {
		return 0
	}
	p := attempts * 90 / max
	if p > 90 {
		p = 90
	}
	return p
}
