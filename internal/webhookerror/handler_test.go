package webhookerror_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
	"github.com/frahmantamala/payment-reconciliation/internal/transport"
	webhookerrorpkg "github.com/frahmantamala/payment-reconciliation/internal/webhookerror"
)

var _ = Describe("Handler", func() {
	var (
		h      *harness
		router chi.Router
	)

	BeforeEach(func() {
		h = newHarness()
		handler := webhookerrorpkg.NewHandler(transport.NewBaseHandler(h.logger), h.replayer(webhookerrorpkg.ReplayConfig{MaxRetries: 3}))

		router = chi.NewRouter()
		router.Get("/admin/webhook-errors", handler.List)
		router.Post("/admin/webhook-errors/sweep", handler.Sweep)
		router.Post("/admin/webhook-errors/{id}/replay", handler.Replay)
		router.Post("/admin/webhook-errors/{id}/resolve", handler.Resolve)
	})

	serve := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec
	}

	It("lists records", func() {
		h.record("pay_1", webhookerror.StageReconcile, `{}`)

		rec := serve(http.MethodGet, "/admin/webhook-errors?resolved=false&payment_id=pay_1")

		Expect(rec.Code).To(Equal(http.StatusOK))
		var body webhookerrorpkg.ListResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Data).To(HaveLen(1))
		Expect(body.Data[0].PaymentID).To(Equal("pay_1"))
	})

	It("returns an empty list rather than null", func() {
		rec := serve(http.MethodGet, "/admin/webhook-errors")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{"data":[]}`))
	})

	It("rejects a malformed resolved filter", func() {
		rec := serve(http.MethodGet, "/admin/webhook-errors?resolved=maybe")

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("replays a record", func() {
		w := h.record("pay_1", webhookerror.StageReconcile, `{}`)

		rec := serve(http.MethodPost, "/admin/webhook-errors/"+w.ID.String()+"/replay")

		Expect(rec.Code).To(Equal(http.StatusOK))
		var outcome webhookerrorpkg.ReplayOutcome
		Expect(json.Unmarshal(rec.Body.Bytes(), &outcome)).To(Succeed())
		Expect(outcome.Resolved).To(BeTrue())
	})

	It("answers 422 with the outcome when the replay fails", func() {
		h.reconciler.setErr(errors.New("still broken"))
		w := h.record("pay_1", webhookerror.StageReconcile, `{}`)

		rec := serve(http.MethodPost, "/admin/webhook-errors/"+w.ID.String()+"/replay")

		Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		var body struct {
			Outcome webhookerrorpkg.ReplayOutcome `json:"outcome"`
			Error   struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
		Expect(body.Outcome.RetryCount).To(Equal(1))
		Expect(body.Outcome.Error).To(Equal("still broken"))
		Expect(body.Error.Code).To(Equal("REPLAY_FAILED"))
	})

	It("answers 404 for an unknown record", func() {
		rec := serve(http.MethodPost, "/admin/webhook-errors/"+uuid.NewString()+"/replay")

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("resolves a record by hand", func() {
		w := h.record("pay_1", webhookerror.StageReconcile, `{}`)

		rec := serve(http.MethodPost, "/admin/webhook-errors/"+w.ID.String()+"/resolve")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(h.load(w.ID.String()).Resolved).To(BeTrue())
		Expect(h.reconciler.applied).To(BeEmpty())
	})

	It("runs a sweep", func() {
		h.record("pay_1", webhookerror.StageReconcile, `{}`)

		rec := serve(http.MethodPost, "/admin/webhook-errors/sweep")

		Expect(rec.Code).To(Equal(http.StatusOK))
		var result webhookerrorpkg.SweepResult
		Expect(json.Unmarshal(rec.Body.Bytes(), &result)).To(Succeed())
		Expect(result.Resolved).To(Equal(1))
	})
})
