package webhookerror

import (
	"context"
	"log/slog"
	"strings"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
)

// Recorder stores failed events. Record never fails: when the write itself
// fails the event is logged and an empty id is returned.
type Recorder struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewRecorder(repo RepositoryAPI, logger *slog.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

func (r *Recorder) Record(ctx context.Context, paymentRef, stage string, cause error, payload []byte) string {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}

	w := &webhookerror.WebhookError{
		PaymentID:    paymentRef,
		Stage:        stage,
		ErrorMessage: message,
		Payload:      sanitizePayload(payload),
	}

	if err := r.repo.Insert(context.WithoutCancel(ctx), w); err != nil {
		r.logger.Error("failed to record webhook error",
			"external_id", paymentRef,
			"stage", stage,
			"cause", message,
			"payload", w.Payload,
			"error", err)
		return ""
	}

	r.logger.Warn("webhook error recorded",
		"webhook_error_id", w.ID,
		"external_id", paymentRef,
		"stage", stage,
		"cause", message)

	return w.ID.String()
}

// sanitizePayload keeps the body verbatim where a text column allows it.
func sanitizePayload(payload []byte) string {
	s := strings.ToValidUTF8(string(payload), "�")
	return strings.ReplaceAll(s, "\x00", "")
}
