package payment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-reconciliation/internal"
	commissionpkg "github.com/frahmantamala/payment-reconciliation/internal/commission"
	commissionpg "github.com/frahmantamala/payment-reconciliation/internal/commission/postgres"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/commission"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/split"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
	paymentpkg "github.com/frahmantamala/payment-reconciliation/internal/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/testutil"
)

var _ = Describe("Engine", func() {
	var (
		h   *harness
		ctx context.Context
	)

	BeforeEach(func() {
		h = newHarness()
		ctx = context.Background()
	})

	reload := func(externalID string) *payment.Payment {
		var p payment.Payment
		Expect(h.db.Where("external_id = ?", externalID).First(&p).Error).To(Succeed())
		return &p
	}

	commissionsFor := func(p *payment.Payment) []commission.Commission {
		var out []commission.Commission
		Expect(h.db.Where("payment_id = ?", p.ID).Find(&out).Error).To(Succeed())
		return out
	}

	webhookErrors := func() []webhookerror.WebhookError {
		var out []webhookerror.WebhookError
		Expect(h.db.Find(&out).Error).To(Succeed())
		return out
	}

	Describe("transition table", func() {
		for i, row := range paymentpkg.Transitions() {
			row := row
			externalID := fmt.Sprintf("pay_row_%d", i)

			It(fmt.Sprintf("moves %s to %s on %s", row.From, row.To, row.Event), func() {
				p, err := testutil.SeedPayment(h.db, externalID, "100.00")
				Expect(err).NotTo(HaveOccurred())

				ref := externalID
				updates := map[string]interface{}{"status": row.From}
				if row.SubscriptionOnly {
					ref = "sub_" + externalID
					updates["subscription_id"] = ref
				}
				Expect(h.db.Model(p).Updates(updates).Error).To(Succeed())

				_, err = h.engine.ApplyRaw(ctx, eventBody(row.Event, ref))
				Expect(err).NotTo(HaveOccurred())

				after := reload(externalID)
				Expect(after.Status).To(Equal(row.To))
				Expect(after.Version).To(Equal(p.Version + 1))
				if row.MarkPaid {
					Expect(after.PaidAt).NotTo(BeNil())
				}
				if row.Refund {
					Expect(after.PaidAt).To(BeNil())
				}
			})
		}

		It("leaves the payment unchanged for pairs outside the table", func() {
			statuses := []string{
				payment.StatusPending, payment.StatusReceived, payment.StatusConfirmed, payment.StatusOverdue,
				payment.StatusDeleted, payment.StatusRestored, payment.StatusRefunded,
			}
			eventTypes := []string{
				paymentpkg.EventPaymentCreated, paymentpkg.EventPaymentConfirmed, paymentpkg.EventPaymentReceived,
				paymentpkg.EventPaymentOverdue, paymentpkg.EventPaymentDeleted, paymentpkg.EventPaymentRestored,
				paymentpkg.EventPaymentRefunded,
			}

			checked := 0
			for _, status := range statuses {
				for _, eventType := range eventTypes {
					if _, ok := paymentpkg.LookupTransition(status, eventType); ok {
						continue
					}
					externalID := fmt.Sprintf("pay_%s_%s", status, eventType)
					p, err := testutil.SeedPayment(h.db, externalID, "100.00")
					Expect(err).NotTo(HaveOccurred())
					Expect(h.db.Model(p).Update("status", status).Error).To(Succeed())

					outcome, err := h.engine.ApplyRaw(ctx, eventBody(eventType, externalID))
					Expect(err).NotTo(HaveOccurred())
					Expect(outcome.Applied).To(BeFalse(), "%s on %s", eventType, status)

					after := reload(externalID)
					Expect(after.Status).To(Equal(status))
					Expect(after.Version).To(Equal(p.Version))
					checked++
				}
			}
			Expect(checked).To(BeNumerically(">", 30))
		})

		It("treats RECEIVED_IN_CASH as a receipt", func() {
			_, err := testutil.SeedPayment(h.db, "pay_cash", "50.00")
			Expect(err).NotTo(HaveOccurred())

			outcome, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentReceivedInCash, "pay_cash"))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Applied).To(BeTrue())
			Expect(reload("pay_cash").Status).To(Equal(payment.StatusReceived))
		})
	})

	Describe("commission disbursement", func() {
		var p *payment.Payment

		BeforeEach(func() {
			var err error
			p, err = testutil.SeedPayment(h.db, "pay_1", "100.00")
			Expect(err).NotTo(HaveOccurred())
			_, err = testutil.SeedSplit(h.db, p, "aff_1", "10")
			Expect(err).NotTo(HaveOccurred())
		})

		It("pays 10% of 100.00 as 10.00", func() {
			outcome, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentReceived, "pay_1"))

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Commissions).To(HaveLen(1))
			Expect(outcome.Commissions[0].CommissionValue.StringFixed(2)).To(Equal("10.00"))

			stored := commissionsFor(p)
			Expect(stored).To(HaveLen(1))
			Expect(stored[0].CommissionValue.StringFixed(2)).To(Equal("10.00"))
			Expect(stored[0].Status).To(Equal(commission.StatusPending))
			Expect(stored[0].TransferID).To(Equal("tr_1"))

			var s split.Split
			Expect(h.db.Where("payment_id = ?", p.ID).First(&s).Error).To(Succeed())
			Expect(s.Status).To(Equal(split.StatusProcessed))
			Expect(*s.TransferID).To(Equal("tr_1"))
		})

		It("is idempotent across redelivered events", func() {
			for i := 0; i < 3; i++ {
				_, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentReceived, "pay_1"))
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(commissionsFor(p)).To(HaveLen(1))
			Expect(h.gateway.count()).To(Equal(1))
		})

		It("creates one commission when CONFIRMED then RECEIVED both disburse", func() {
			_, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentConfirmed, "pay_1"))
			Expect(err).NotTo(HaveOccurred())
			outcome, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentReceived, "pay_1"))
			Expect(err).NotTo(HaveOccurred())

			Expect(outcome.Applied).To(BeTrue())
			Expect(outcome.Commissions).To(HaveLen(1))
			Expect(commissionsFor(p)).To(HaveLen(1))
			Expect(h.gateway.count()).To(Equal(1))
		})

		It("creates one commission under concurrent deliveries", func() {
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				eventType := paymentpkg.EventPaymentReceived
				if i%2 == 0 {
					eventType = paymentpkg.EventPaymentConfirmed
				}
				wg.Add(1)
				go func(body []byte) {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := h.engine.ApplyRaw(ctx, body)
					Expect(err).NotTo(HaveOccurred())
				}(eventBody(eventType, "pay_1"))
			}
			wg.Wait()

			Expect(reload("pay_1").IsPaid()).To(BeTrue())
			Expect(commissionsFor(p)).To(HaveLen(1))
			Expect(h.gateway.count()).To(Equal(1))
		})

		It("pays each affiliate once", func() {
			_, err := testutil.SeedSplit(h.db, p, "aff_2", "5")
			Expect(err).NotTo(HaveOccurred())

			outcome, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentReceived, "pay_1"))
			Expect(err).NotTo(HaveOccurred())

			Expect(outcome.Commissions).To(HaveLen(2))
			Expect(h.gateway.count()).To(Equal(2))
		})

		It("records a disburse failure and still applies the status", func() {
			h.gateway.setErr(errors.New("gateway down"))

			outcome, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentReceived, "pay_1"))

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Applied).To(BeTrue())
			Expect(outcome.DisburseErr).To(HaveOccurred())
			Expect(reload("pay_1").Status).To(Equal(payment.StatusReceived))

			records := webhookErrors()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Stage).To(Equal(webhookerror.StageDisburse))
			Expect(records[0].PaymentID).To(Equal("pay_1"))
			Expect(records[0].Resolved).To(BeFalse())

			var s split.Split
			Expect(h.db.Where("payment_id = ?", p.ID).First(&s).Error).To(Succeed())
			Expect(s.Status).To(Equal(split.StatusError))
			Expect(s.ClaimedAt).To(BeNil())
		})

		It("redisburses after a failure", func() {
			h.gateway.setErr(errors.New("gateway down"))
			_, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentReceived, "pay_1"))
			Expect(err).NotTo(HaveOccurred())

			h.gateway.setErr(nil)
			commissions, err := h.engine.Redisburse(ctx, "pay_1")

			Expect(err).NotTo(HaveOccurred())
			Expect(commissions).To(HaveLen(1))
			Expect(commissionsFor(p)).To(HaveLen(1))
		})

		It("does not redisburse an unpaid payment", func() {
			commissions, err := h.engine.Redisburse(ctx, "pay_1")

			Expect(err).NotTo(HaveOccurred())
			Expect(commissions).To(BeEmpty())
			Expect(h.gateway.count()).To(BeZero())
		})

		It("fails pending commissions on refund", func() {
			_, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentReceived, "pay_1"))
			Expect(err).NotTo(HaveOccurred())

			outcome, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentRefunded, "pay_1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.To).To(Equal(payment.StatusRefunded))

			after := reload("pay_1")
			Expect(after.PaidAt).To(BeNil())

			stored := commissionsFor(p)
			Expect(stored).To(HaveLen(1))
			Expect(stored[0].Status).To(Equal(commission.StatusFailed))
		})

		It("fails the commission of a refund that lands during the transfer", func() {
			h.gateway.during = func() {
				h.gateway.during = nil
				outcome, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentRefunded, "pay_1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome.Applied).To(BeTrue())
			}

			_, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentReceived, "pay_1"))
			Expect(err).NotTo(HaveOccurred())

			Expect(reload("pay_1").Status).To(Equal(payment.StatusRefunded))
			stored := commissionsFor(p)
			Expect(stored).To(HaveLen(1))
			Expect(stored[0].Status).To(Equal(commission.StatusFailed))
		})

		It("does not disburse a queued snapshot once the payment is refunded", func() {
			Expect(h.db.Model(&payment.Payment{}).Where("id = ?", p.ID).Update("status", payment.StatusRefunded).Error).To(Succeed())
			stale := reload("pay_1")
			stale.Status = payment.StatusReceived

			queue := commissionpkg.NewQueue(h.disburser, h.recorder, commissionpkg.QueueConfig{MaxWorkers: 1, JobQueueSize: 1}, h.logger)
			_, err := queue.Disburse(ctx, stale)
			Expect(err).NotTo(HaveOccurred())

			drainCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			queue.Shutdown(drainCtx)

			Expect(h.gateway.count()).To(BeZero())
			Expect(commissionsFor(p)).To(BeEmpty())
			Expect(webhookErrors()).To(BeEmpty())
		})

		It("keeps the disburse record open while a split is in flight", func() {
			var s split.Split
			Expect(h.db.Where("payment_id = ?", p.ID).First(&s).Error).To(Succeed())
			claimed, err := commissionpg.NewCommissionRepository(h.db).ClaimSplit(ctx, s.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(BeTrue())

			outcome, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentReceived, "pay_1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.DisburseErr).To(HaveOccurred())

			records := webhookErrors()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Stage).To(Equal(webhookerror.StageDisburse))

			_, err = h.engine.Redisburse(ctx, "pay_1")
			Expect(internal.HasCode(err, internal.ErrCodeDisburseFailed)).To(BeTrue())
			Expect(h.gateway.count()).To(BeZero())
		})

		It("settles the commission on TRANSFER_DONE", func() {
			_, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentReceived, "pay_1"))
			Expect(err).NotTo(HaveOccurred())

			_, err = h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventTransferDone, "tr_1"))
			Expect(err).NotTo(HaveOccurred())

			Expect(commissionsFor(p)[0].Status).To(Equal(commission.StatusCompleted))
		})

		It("ignores TRANSFER_DONE for an unknown transfer", func() {
			_, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventTransferDone, "tr_unknown"))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("subscription events", func() {
		It("deletes every pending charge of the subscription", func() {
			for _, id := range []string{"pay_s1", "pay_s2", "pay_s3"} {
				p, err := testutil.SeedPayment(h.db, id, "30.00")
				Expect(err).NotTo(HaveOccurred())
				Expect(h.db.Model(p).Update("subscription_id", "sub_1").Error).To(Succeed())
			}
			Expect(h.db.Model(&payment.Payment{}).Where("external_id = ?", "pay_s3").Update("status", payment.StatusReceived).Error).To(Succeed())

			outcome, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventSubscriptionDeleted, "sub_1"))

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Affected).To(Equal(2))
			Expect(reload("pay_s1").Status).To(Equal(payment.StatusDeleted))
			Expect(reload("pay_s2").Status).To(Equal(payment.StatusDeleted))
			Expect(reload("pay_s3").Status).To(Equal(payment.StatusReceived))
		})
	})

	Describe("errors", func() {
		It("reports an unknown payment", func() {
			_, err := h.engine.ApplyRaw(ctx, eventBody(paymentpkg.EventPaymentReceived, "pay_missing"))

			Expect(internal.HasCode(err, internal.ErrCodeUnknownPayment)).To(BeTrue())
		})

		It("rejects malformed payloads as bad events", func() {
			_, err := h.engine.ApplyRaw(ctx, []byte(`{"event":`))

			Expect(internal.HasCode(err, internal.ErrCodeBadEvent)).To(BeTrue())
		})

		It("ignores unrecognized events that carry a reference", func() {
			outcome, err := h.engine.ApplyRaw(ctx, []byte(`{"event":"PAYMENT_ANTICIPATED","payment":{"id":"pay_x"}}`))

			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.Applied).To(BeFalse())
		})
	})

	Describe("ApplyEvent", func() {
		It("applies a synthesized gateway status", func() {
			_, err := testutil.SeedPayment(h.db, "pay_syn", "80.00")
			Expect(err).NotTo(HaveOccurred())

			evt, ok := paymentpkg.SynthesizeEvent("pay_syn", "CONFIRMED")
			Expect(ok).To(BeTrue())

			outcome, err := h.engine.ApplyEvent(ctx, evt)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome.To).To(Equal(payment.StatusConfirmed))
		})
	})
})
