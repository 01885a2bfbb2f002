package commission_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/commission"
	commissionmodel "github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/commission"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
)

// MockDisburser records payments and can hold workers until released.
type MockDisburser struct {
	mu      sync.Mutex
	seen    []string
	err     error
	release chan struct{}
}

func (m *MockDisburser) Disburse(ctx context.Context, p *payment.Payment) ([]*commissionmodel.Commission, error) {
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, p.ExternalID)
	return nil, m.err
}

func (m *MockDisburser) processed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.seen))
	copy(out, m.seen)
	return out
}

var _ = Describe("Queue", func() {
	var (
		disburser *MockDisburser
		recorder  *MockRecorder
		logger    *slog.Logger
	)

	BeforeEach(func() {
		disburser = &MockDisburser{}
		recorder = &MockRecorder{}
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	charge := func(id string) *payment.Payment {
		return &payment.Payment{ExternalID: id, Status: payment.StatusReceived}
	}

	It("runs queued jobs and drains on shutdown", func() {
		queue := commission.NewQueue(disburser, recorder, commission.QueueConfig{MaxWorkers: 2, JobQueueSize: 10}, logger)

		for _, id := range []string{"pay_1", "pay_2", "pay_3"} {
			commissions, err := queue.Disburse(context.Background(), charge(id))
			Expect(err).NotTo(HaveOccurred())
			Expect(commissions).To(BeNil())
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		queue.Shutdown(ctx)

		Expect(disburser.processed()).To(ConsistOf("pay_1", "pay_2", "pay_3"))
		Expect(queue.Pending()).To(BeZero())
		Expect(recorder.all()).To(BeEmpty())
	})

	It("records failed jobs at the disburse stage", func() {
		disburser.err = errors.New("transfer rejected")
		queue := commission.NewQueue(disburser, recorder, commission.QueueConfig{MaxWorkers: 1, JobQueueSize: 1}, logger)

		_, err := queue.Disburse(context.Background(), charge("pay_1"))
		Expect(err).NotTo(HaveOccurred())

		Eventually(recorder.all).Should(HaveLen(1))
		rec := recorder.all()[0]
		Expect(rec.PaymentRef).To(Equal("pay_1"))
		Expect(rec.Stage).To(Equal(webhookerror.StageDisburse))
		Expect(string(rec.Payload)).To(ContainSubstring(`"id":"pay_1"`))

		queue.Shutdown(context.Background())
	})

	It("rejects work when full", func() {
		disburser.release = make(chan struct{})
		queue := commission.NewQueue(disburser, recorder, commission.QueueConfig{MaxWorkers: 1, JobQueueSize: 1}, logger)

		var rejected error
		for i := 0; i < 10 && rejected == nil; i++ {
			_, rejected = queue.Disburse(context.Background(), charge("pay_full"))
		}

		Expect(internal.HasCode(rejected, internal.ErrCodeDisburseFailed)).To(BeTrue())

		close(disburser.release)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		queue.Shutdown(ctx)
		Expect(queue.Pending()).To(BeZero())
	})

	It("rejects work after shutdown", func() {
		queue := commission.NewQueue(disburser, recorder, commission.QueueConfig{MaxWorkers: 1, JobQueueSize: 1}, logger)
		queue.Shutdown(context.Background())

		_, err := queue.Disburse(context.Background(), charge("pay_late"))

		Expect(internal.HasCode(err, internal.ErrCodeDisburseFailed)).To(BeTrue())
	})

	It("records jobs left behind when the drain times out", func() {
		disburser.release = make(chan struct{})
		queue := commission.NewQueue(disburser, recorder, commission.QueueConfig{MaxWorkers: 1, JobQueueSize: 5}, logger)

		_, err := queue.Disburse(context.Background(), charge("pay_stuck"))
		Expect(err).NotTo(HaveOccurred())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		queue.Shutdown(ctx)

		Expect(recorder.all()).To(HaveLen(1))
		Expect(recorder.all()[0].PaymentRef).To(Equal("pay_stuck"))
		Expect(queue.Pending()).To(BeZero())
	})
})
