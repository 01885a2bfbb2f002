package payment

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
	"github.com/frahmantamala/payment-reconciliation/internal/transport"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"
)

const (
	// maxWebhookBody caps how much of an inbound body is read and stored.
	maxWebhookBody = 1 << 20

	WebhookTokenHeader = "asaas-access-token"
)

type Applier interface {
	ApplyRaw(ctx context.Context, raw []byte) (*Outcome, error)
}

// WebhookHandler is the gateway ingress. It answers 200 to every request so
// the gateway never retries; failures become WebhookError records instead.
type WebhookHandler struct {
	*transport.BaseHandler
	engine   Applier
	recorder FailureRecorder
	token    []byte
	logger   *slog.Logger
}

// NewWebhookHandler builds the ingress. Deliveries must carry token in the
// asaas-access-token header unless token is empty.
func NewWebhookHandler(baseHandler *transport.BaseHandler, engine Applier, recorder FailureRecorder, token string, logger *slog.Logger) *WebhookHandler {
	if token == "" {
		logger.Warn("webhook token not configured, deliveries are not authenticated")
	}
	return &WebhookHandler{
		BaseHandler: baseHandler,
		engine:      engine,
		recorder:    recorder,
		token:       []byte(token),
		logger:      logger,
	}
}

type WebhookResponse struct {
	Received bool `json:"received"`
}

func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.Scoped(r.Context(), h.logger)

	var raw []byte
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic while applying webhook",
				"error", rec,
				"stack", string(debug.Stack()))
			h.recorder.Record(context.WithoutCancel(r.Context()), PaymentRef(raw), webhookerror.StageReconcile, fmt.Errorf("panic: %v", rec), raw)
			h.WriteJSON(w, http.StatusOK, WebhookResponse{Received: true})
		}
	}()

	if !h.authorized(r) {
		// not recorded: a replay would apply a forged event
		log.Warn("webhook rejected, invalid access token", "remote_addr", r.RemoteAddr)
		h.WriteJSON(w, http.StatusOK, WebhookResponse{Received: true})
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		h.recorder.Record(r.Context(), "", webhookerror.StageReconcile, err, raw)
		h.WriteJSON(w, http.StatusOK, WebhookResponse{Received: true})
		return
	}

	// the request context ends when the gateway disconnects; applying must not
	ctx := context.WithoutCancel(r.Context())

	outcome, err := h.engine.ApplyRaw(ctx, raw)
	if err != nil {
		ref := PaymentRef(raw)
		id := h.recorder.Record(ctx, ref, webhookerror.StageReconcile, err, raw)
		log.Warn("webhook event not applied",
			"external_id", ref,
			"webhook_error_id", id,
			"error", err)
		h.WriteJSON(w, http.StatusOK, WebhookResponse{Received: true})
		return
	}

	log.Info("webhook event processed",
		"event", outcome.EventType,
		"applied", outcome.Applied,
		"from", outcome.From,
		"to", outcome.To)

	h.WriteJSON(w, http.StatusOK, WebhookResponse{Received: true})
}

func (h *WebhookHandler) authorized(r *http.Request) bool {
	if len(h.token) == 0 {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(r.Header.Get(WebhookTokenHeader)), h.token) == 1
}
