package webhookerror_test

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
	webhookerrorpkg "github.com/frahmantamala/payment-reconciliation/internal/webhookerror"
)

var _ = Describe("Replayer", func() {
	var (
		h        *harness
		replayer *webhookerrorpkg.Replayer
		ctx      context.Context
	)

	BeforeEach(func() {
		h = newHarness()
		replayer = h.replayer(webhookerrorpkg.ReplayConfig{MaxRetries: 3})
		ctx = context.Background()
	})

	Describe("Replay", func() {
		It("resolves a record once the event applies", func() {
			w := h.record("pay_1", webhookerror.StageReconcile, `{"event":"PAYMENT_RECEIVED"}`)

			outcome, err := replayer.Replay(ctx, w.ID.String())

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Resolved).To(BeTrue())
			Expect(outcome.AlreadyResolved).To(BeFalse())
			Expect(outcome.ResolvedAt).NotTo(BeNil())
			Expect(h.reconciler.applied).To(HaveLen(1))
			Expect(string(h.reconciler.applied[0])).To(Equal(`{"event":"PAYMENT_RECEIVED"}`))

			stored := h.load(w.ID.String())
			Expect(stored.Resolved).To(BeTrue())
			Expect(stored.ResolvedAt).NotTo(BeNil())
		})

		It("routes disbursement failures to redisbursement", func() {
			w := h.record("pay_1", webhookerror.StageDisburse, `{"id":"pay_1"}`)

			outcome, err := replayer.Replay(ctx, w.ID.String())

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Resolved).To(BeTrue())
			Expect(h.reconciler.redisburse).To(Equal([]string{"pay_1"}))
			Expect(h.reconciler.applied).To(BeEmpty())
		})

		It("counts a failed attempt and keeps the original error", func() {
			h.reconciler.setErr(errors.New("still broken"))
			w := h.record("pay_1", webhookerror.StageReconcile, `{}`)

			outcome, err := replayer.Replay(ctx, w.ID.String())

			Expect(internal.HasCode(err, internal.ErrCodeReplayFailed)).To(BeTrue())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.StatusCode).To(Equal(422))
			Expect(outcome.Resolved).To(BeFalse())
			Expect(outcome.RetryCount).To(Equal(1))
			Expect(outcome.Error).To(Equal("still broken"))

			stored := h.load(w.ID.String())
			Expect(stored.RetryCount).To(Equal(1))
			Expect(stored.LastRetryAt).NotTo(BeNil())
			Expect(stored.ErrorMessage).To(Equal("boom"))
			Expect(stored.Resolved).To(BeFalse())
		})

		It("leaves a resolved record untouched", func() {
			w := h.record("pay_1", webhookerror.StageReconcile, `{}`)
			_, err := replayer.Replay(ctx, w.ID.String())
			Expect(err).NotTo(HaveOccurred())

			outcome, err := replayer.Replay(ctx, w.ID.String())

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.AlreadyResolved).To(BeTrue())
			Expect(h.reconciler.applied).To(HaveLen(1))
		})

		It("fails a disbursement record without a payment reference", func() {
			w := h.record("", webhookerror.StageDisburse, `{}`)

			_, err := replayer.Replay(ctx, w.ID.String())

			Expect(internal.HasCode(err, internal.ErrCodeReplayFailed)).To(BeTrue())
			Expect(h.reconciler.redisburse).To(BeEmpty())
		})

		It("reports unknown and malformed ids as not found", func() {
			_, err := replayer.Replay(ctx, uuid.NewString())
			Expect(internal.HasCode(err, internal.ErrCodeWebhookErrorNotFound)).To(BeTrue())

			_, err = replayer.Replay(ctx, "not-a-uuid")
			Expect(internal.HasCode(err, internal.ErrCodeWebhookErrorNotFound)).To(BeTrue())
		})
	})

	Describe("MarkResolved", func() {
		It("closes a record without replaying it", func() {
			w := h.record("pay_1", webhookerror.StageReconcile, `{}`)

			outcome, err := replayer.MarkResolved(ctx, w.ID.String())

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Resolved).To(BeTrue())
			Expect(outcome.ResolvedAt).NotTo(BeNil())
			Expect(h.reconciler.applied).To(BeEmpty())

			again, err := replayer.MarkResolved(ctx, w.ID.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(again.AlreadyResolved).To(BeTrue())
		})
	})

	Describe("List", func() {
		It("filters by resolution and payment", func() {
			first := h.record("pay_1", webhookerror.StageReconcile, `{}`)
			h.record("pay_2", webhookerror.StageReconcile, `{}`)
			h.record("pay_1", webhookerror.StageDisburse, `{}`)
			_, err := replayer.MarkResolved(ctx, first.ID.String())
			Expect(err).NotTo(HaveOccurred())

			unresolved := false
			records, err := replayer.List(ctx, webhookerrorpkg.ListFilter{Resolved: &unresolved})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))

			records, err = replayer.List(ctx, webhookerrorpkg.ListFilter{PaymentID: "pay_1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))

			records, err = replayer.List(ctx, webhookerrorpkg.ListFilter{Limit: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
		})
	})

	Describe("SweepPending", func() {
		BeforeEach(func() {
			replayer = h.replayer(webhookerrorpkg.ReplayConfig{
				MaxRetries: 3,
				Backoff:    []time.Duration{time.Minute, 5 * time.Minute},
				BatchSize:  10,
			})
		})

		It("waits for the first backoff before replaying", func() {
			w := h.record("pay_1", webhookerror.StageReconcile, `{}`)

			result, err := replayer.SweepPending(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Considered).To(Equal(1))
			Expect(result.Replayed).To(BeZero())

			h.age(w, 2*time.Minute)

			result, err = replayer.SweepPending(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Replayed).To(Equal(1))
			Expect(result.Resolved).To(Equal(1))
			Expect(h.load(w.ID.String()).Resolved).To(BeTrue())
		})

		It("backs off further after each failure", func() {
			h.reconciler.setErr(errors.New("gateway down"))
			w := h.record("pay_1", webhookerror.StageReconcile, `{}`)
			h.age(w, 2*time.Minute)

			result, err := replayer.SweepPending(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Failed).To(Equal(1))

			w = h.load(w.ID.String())
			Expect(w.RetryCount).To(Equal(1))

			By("skipping the record inside the second backoff window")
			h.age(w, 2*time.Minute)
			result, err = replayer.SweepPending(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Replayed).To(BeZero())

			By("retrying after the second backoff elapses")
			h.reconciler.setErr(nil)
			h.age(h.load(w.ID.String()), 4*time.Minute)
			result, err = replayer.SweepPending(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Resolved).To(Equal(1))
		})

		It("stops replaying once the retry budget is spent", func() {
			w := h.record("pay_1", webhookerror.StageReconcile, `{}`)
			Expect(h.db.Model(&webhookerror.WebhookError{}).Where("id = ?", w.ID).Update("retry_count", 3).Error).To(Succeed())
			h.age(h.load(w.ID.String()), time.Hour)

			result, err := replayer.SweepPending(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Considered).To(BeZero())
			Expect(h.reconciler.applied).To(BeEmpty())

			By("still allowing a manual replay")
			outcome, err := replayer.Replay(ctx, w.ID.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Resolved).To(BeTrue())
		})

		It("replays at most one batch per sweep", func() {
			replayer = h.replayer(webhookerrorpkg.ReplayConfig{MaxRetries: 3, BatchSize: 2})
			for _, ref := range []string{"pay_1", "pay_2", "pay_3"} {
				h.record(ref, webhookerror.StageReconcile, `{}`)
			}

			result, err := replayer.SweepPending(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Replayed).To(Equal(2))
			Expect(result.Resolved).To(Equal(2))

			result, err = replayer.SweepPending(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Considered).To(Equal(1))
			Expect(result.Resolved).To(Equal(1))
		})

		It("stops when the context is cancelled", func() {
			replayer = h.replayer(webhookerrorpkg.ReplayConfig{MaxRetries: 3})
			h.record("pay_1", webhookerror.StageReconcile, `{}`)
			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			_, err := replayer.SweepPending(cancelled)

			Expect(err).To(HaveOccurred())
		})
	})
})
