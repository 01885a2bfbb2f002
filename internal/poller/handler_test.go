package poller_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/poller"
	"github.com/frahmantamala/payment-reconciliation/internal/transport"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Handler", func() {
	var (
		store  *MockStore
		router chi.Router
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		store = &MockStore{status: payment.StatusPending, updatedAt: time.Now()}
		p := poller.NewPoller(store, &MockGateway{status: payment.StatusPending}, &MockApplier{store: store}, poller.Config{
			Interval:   20 * time.Millisecond,
			Timeout:    100 * time.Millisecond,
			StaleAfter: time.Hour,
		}, logger)

		h := poller.NewHandler(transport.NewBaseHandler(logger), p, time.Second)
		router = chi.NewRouter()
		router.Post("/payments/{id}/poll", h.Poll)
		router.Delete("/payments/{id}/poll", h.Cancel)
	})

	poll := func(body string) (*httptest.ResponseRecorder, poller.PollResponse) {
		req := httptest.NewRequest(http.MethodPost, "/payments/pay_1/poll", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		var resp poller.PollResponse
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		return rec, resp
	}

	It("reports completed for a paid charge", func() {
		store.set(payment.StatusConfirmed)

		rec, resp := poll(`{}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(resp.Status).To(Equal(poller.StateCompleted))
		Expect(resp.Progress).To(Equal(100))
		Expect(resp.PaymentStatus).To(Equal(payment.StatusConfirmed))
	})

	It("reports failed for a refunded charge", func() {
		store.set(payment.StatusRefunded)

		_, resp := poll(`{}`)

		Expect(resp.Status).To(Equal(poller.StateFailed))
		Expect(resp.Step).To(Equal("payment_refunded"))
	})

	It("reports processing when the window closes first", func() {
		rec, resp := poll(`{"interval_ms": 20, "timeout_ms": 100}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(resp.Status).To(Equal(poller.StateProcessing))
		Expect(resp.Step).To(Equal("awaiting_confirmation"))
		Expect(resp.Progress).To(BeNumerically("<", 100))
		Expect(resp.Attempts).To(BeNumerically(">", 0))
	})

	It("accepts an empty body", func() {
		store.set(payment.StatusReceived)

		rec, _ := poll(``)

		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	DescribeTable("rejects invalid poll windows",
		func(body string) {
			rec, _ := poll(body)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		},
		Entry("interval too short", `{"interval_ms": 10, "timeout_ms": 100}`),
		Entry("timeout shorter than interval", `{"interval_ms": 500, "timeout_ms": 200}`),
		Entry("timeout above maximum", `{"interval_ms": 100, "timeout_ms": 5000}`),
		Entry("malformed body", `{"interval_ms":`),
	)

	It("returns 404 for an unknown charge", func() {
		store.missing = true

		rec, _ := poll(`{}`)

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("cancels nothing when no session is running", func() {
		req := httptest.NewRequest(http.MethodDelete, "/payments/pay_1/poll", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"cancelled":false`))
	})
})
