package webhookerror_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
	webhookerrorpkg "github.com/frahmantamala/payment-reconciliation/internal/webhookerror"
)

var _ = Describe("Recorder", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
	})

	It("stores the payload verbatim as an unresolved record", func() {
		payload := `{"event":"PAYMENT_RECEIVED","payment":{"id":"pay_1"}}`

		w := h.record("pay_1", webhookerror.StageReconcile, payload)

		Expect(w.PaymentID).To(Equal("pay_1"))
		Expect(w.Stage).To(Equal(webhookerror.StageReconcile))
		Expect(w.ErrorMessage).To(Equal("boom"))
		Expect(w.Payload).To(Equal(payload))
		Expect(w.RetryCount).To(BeZero())
		Expect(w.Resolved).To(BeFalse())
	})

	It("keeps records without a payment reference", func() {
		w := h.record("", webhookerror.StageReconcile, "not json")

		Expect(w.PaymentID).To(BeEmpty())
		Expect(w.Payload).To(Equal("not json"))
	})

	It("defaults a missing cause", func() {
		id := h.recorder.Record(context.Background(), "pay_1", webhookerror.StageDisburse, nil, nil)

		Expect(h.load(id).ErrorMessage).To(Equal("unknown error"))
	})

	It("strips bytes a text column cannot hold", func() {
		w := h.record("pay_1", webhookerror.StageReconcile, "a\x00b\xffc")

		Expect(w.Payload).To(Equal("ab�c"))
	})

	It("still records after the request context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		id := h.recorder.Record(ctx, "pay_1", webhookerror.StageReconcile, errors.New("late"), []byte("{}"))

		Expect(id).NotTo(BeEmpty())
	})

	It("returns an empty id when the store rejects the write", func() {
		recorder := webhookerrorpkg.NewRecorder(failingRepository{}, h.logger)

		Expect(recorder.Record(context.Background(), "pay_1", webhookerror.StageReconcile, errors.New("boom"), []byte("{}"))).To(BeEmpty())
	})
})
