package payment_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
	paymentpkg "github.com/frahmantamala/payment-reconciliation/internal/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/testutil"
	"github.com/frahmantamala/payment-reconciliation/internal/transport"
)

type panickingApplier struct{}

func (panickingApplier) ApplyRaw(ctx context.Context, raw []byte) (*paymentpkg.Outcome, error) {
	panic("nil outcome")
}

var _ = Describe("WebhookHandler", func() {
	var (
		h       *harness
		handler *paymentpkg.WebhookHandler
	)

	BeforeEach(func() {
		h = newHarness()
		handler = paymentpkg.NewWebhookHandler(transport.NewBaseHandler(h.logger), h.engine, h.recorder, "", h.logger)
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.HandleWebhook(rec, req)
		return rec
	}

	unresolved := func() []webhookerror.WebhookError {
		var out []webhookerror.WebhookError
		Expect(h.db.Where("resolved = ?", false).Find(&out).Error).To(Succeed())
		return out
	}

	It("applies a valid event", func() {
		_, err := testutil.SeedPayment(h.db, "pay_1", "100.00")
		Expect(err).NotTo(HaveOccurred())

		rec := post(`{"event":"PAYMENT_RECEIVED","payment":{"id":"pay_1","value":100}}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{"received":true}`))

		var p payment.Payment
		Expect(h.db.Where("external_id = ?", "pay_1").First(&p).Error).To(Succeed())
		Expect(p.Status).To(Equal(payment.StatusReceived))
		Expect(unresolved()).To(BeEmpty())
	})

	It("answers 200 and records an event without any reference", func() {
		rec := post(`{"event":"X"}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{"received":true}`))

		records := unresolved()
		Expect(records).To(HaveLen(1))
		Expect(records[0].Stage).To(Equal(webhookerror.StageReconcile))
		Expect(records[0].Payload).To(Equal(`{"event":"X"}`))
	})

	It("answers 200 and records a body that is not JSON", func() {
		rec := post(`not json`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(unresolved()).To(HaveLen(1))
	})

	It("records the charge reference for an unknown payment", func() {
		rec := post(`{"event":"PAYMENT_CONFIRMED","payment":{"id":"pay_missing"}}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		records := unresolved()
		Expect(records).To(HaveLen(1))
		Expect(records[0].PaymentID).To(Equal("pay_missing"))
	})

	It("does not record no-op events", func() {
		_, err := testutil.SeedPayment(h.db, "pay_2", "10.00")
		Expect(err).NotTo(HaveOccurred())

		rec := post(`{"event":"PAYMENT_REFUNDED","payment":{"id":"pay_2"}}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(unresolved()).To(BeEmpty())
	})

	It("answers 200 and records the payload when applying panics", func() {
		handler = paymentpkg.NewWebhookHandler(transport.NewBaseHandler(h.logger), panickingApplier{}, h.recorder, "", h.logger)

		rec := post(`{"event":"PAYMENT_RECEIVED","payment":{"id":"pay_panic"}}`)

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{"received":true}`))
		records := unresolved()
		Expect(records).To(HaveLen(1))
		Expect(records[0].PaymentID).To(Equal("pay_panic"))
		Expect(records[0].ErrorMessage).To(ContainSubstring("panic: nil outcome"))
	})

	Describe("access token", func() {
		const token = "whsec_test"

		BeforeEach(func() {
			handler = paymentpkg.NewWebhookHandler(transport.NewBaseHandler(h.logger), h.engine, h.recorder, token, h.logger)
			_, err := testutil.SeedPayment(h.db, "pay_1", "100.00")
			Expect(err).NotTo(HaveOccurred())
		})

		postWithToken := func(value string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook",
				strings.NewReader(`{"event":"PAYMENT_RECEIVED","payment":{"id":"pay_1","value":100}}`))
			req.Header.Set("Content-Type", "application/json")
			if value != "" {
				req.Header.Set(paymentpkg.WebhookTokenHeader, value)
			}
			rec := httptest.NewRecorder()
			handler.HandleWebhook(rec, req)
			return rec
		}

		status := func() string {
			var p payment.Payment
			Expect(h.db.Where("external_id = ?", "pay_1").First(&p).Error).To(Succeed())
			return p.Status
		}

		It("applies a delivery carrying the token", func() {
			rec := postWithToken(token)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(status()).To(Equal(payment.StatusReceived))
		})

		It("answers 200 but ignores a delivery with a wrong token", func() {
			rec := postWithToken("whsec_forged")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"received":true}`))
			Expect(status()).To(Equal(payment.StatusPending))
			Expect(unresolved()).To(BeEmpty())
		})

		It("ignores a delivery without the header", func() {
			rec := postWithToken("")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(status()).To(Equal(payment.StatusPending))
		})
	})
})
