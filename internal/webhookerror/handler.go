package webhookerror

import (
	"net/http"
	"strconv"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
	"github.com/frahmantamala/payment-reconciliation/internal/transport"
	"github.com/go-chi/chi"
)

// Handler exposes the failure log to operators.
type Handler struct {
	*transport.BaseHandler
	replayer *Replayer
}

func NewHandler(baseHandler *transport.BaseHandler, replayer *Replayer) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		replayer:    replayer,
	}
}

type ListResponse struct {
	Data []*webhookerror.WebhookError `json:"data"`
}

type ReplayFailedResponse struct {
	Outcome *ReplayOutcome     `json:"outcome"`
	Error   *internal.AppError `json:"error"`
}

// List handles GET /admin/webhook-errors
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{PaymentID: q.Get("payment_id")}

	if v := q.Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			h.HandleError(w, internal.NewValidationFieldError("resolved", "resolved must be true or false", internal.ErrCodeValidationFailed))
			return
		}
		filter.Resolved = &resolved
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	records, err := h.replayer.List(r.Context(), filter)
	if err != nil {
		h.HandleError(w, err)
		return
	}
	if records == nil {
		records = []*webhookerror.WebhookError{}
	}

	h.WriteJSON(w, http.StatusOK, ListResponse{Data: records})
}

// Replay handles POST /admin/webhook-errors/{id}/replay
func (h *Handler) Replay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	outcome, err := h.replayer.Replay(r.Context(), id)
	if err != nil {
		appErr, ok := internal.IsAppError(err)
		if ok && appErr.Code == internal.ErrCodeReplayFailed && outcome != nil {
			h.WriteJSON(w, appErr.StatusCode, ReplayFailedResponse{Outcome: outcome, Error: appErr})
			return
		}
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, outcome)
}

// Resolve handles POST /admin/webhook-errors/{id}/resolve
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.replayer.MarkResolved(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, outcome)
}

// Sweep handles POST /admin/webhook-errors/sweep
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.replayer.SweepPending(r.Context())
	if err != nil {
		h.HandleError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}
