package commission

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/commission"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/core/datamodel/webhookerror"
)

var errQueueStopped = errors.New("disbursement queue stopped before the job ran")

type DisbursementJob struct {
	Payment    *payment.Payment
	EnqueuedAt time.Time
}

type Worker struct {
	ID         int
	WorkerPool chan chan DisbursementJob
	JobChannel chan DisbursementJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan DisbursementJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan DisbursementJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(DisbursementJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker processing job", "worker_id", w.ID, "external_id", job.Payment.ExternalID)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type paymentDisburser interface {
	Disburse(ctx context.Context, p *payment.Payment) ([]*commission.Commission, error)
}

type QueueConfig struct {
	MaxWorkers   int
	JobQueueSize int
}

// Queue defers disbursement to a worker pool so webhook ingress never waits
// on gateway transfers. Failures are handed to the recorder.
type Queue struct {
	disburser paymentDisburser
	recorder  FailureRecorder
	logger    *slog.Logger

	jobQueue   chan DisbursementJob
	workerPool chan chan DisbursementJob
	maxWorkers int
	active     atomic.Int64
	stopped    atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewQueue(disburser paymentDisburser, recorder FailureRecorder, config QueueConfig, logger *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	jobQueueSize := config.JobQueueSize
	if jobQueueSize <= 0 {
		jobQueueSize = 100
	}

	q := &Queue{
		disburser:  disburser,
		recorder:   recorder,
		logger:     logger,
		maxWorkers: maxWorkers,
		jobQueue:   make(chan DisbursementJob, jobQueueSize),
		workerPool: make(chan chan DisbursementJob, maxWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}

	q.start()

	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.maxWorkers; i++ {
			worker := NewWorker(i, q.workerPool, q.logger)
			worker.Start(q.ctx, &q.wg, q.process)
		}

		q.wg.Add(1)
		go q.dispatch()

		q.logger.Info("disbursement worker pool started",
			"max_workers", q.maxWorkers,
			"queue_size", cap(q.jobQueue))
	})
}

func (q *Queue) dispatch() {
	defer q.wg.Done()

	for {
		select {
		case job := <-q.jobQueue:
			select {
			case jobChannel := <-q.workerPool:
				select {
				case jobChannel <- job:
				case <-q.ctx.Done():
					q.fail(job, errQueueStopped)
					return
				}
			case <-q.ctx.Done():
				q.fail(job, errQueueStopped)
				return
			}
		case <-q.ctx.Done():
			q.logger.Info("disbursement dispatcher shutting down")
			return
		}
	}
}

// Disburse enqueues p and returns immediately. It only errors when the queue
// is full or stopped.
func (q *Queue) Disburse(ctx context.Context, p *payment.Payment) ([]*commission.Commission, error) {
	if q.stopped.Load() {
		return nil, internal.NewDisburseError("disbursement queue stopped", nil)
	}

	job := DisbursementJob{Payment: p, EnqueuedAt: time.Now()}

	q.active.Add(1)
	select {
	case q.jobQueue <- job:
		q.logger.Debug("disbursement job queued",
			"external_id", p.ExternalID,
			"queue_length", len(q.jobQueue))
		return nil, nil
	default:
		q.active.Add(-1)
		q.logger.Warn("disbursement queue full",
			"external_id", p.ExternalID,
			"queue_capacity", cap(q.jobQueue))
		return nil, internal.NewDisburseError("disbursement queue full", nil)
	}
}

func (q *Queue) process(job DisbursementJob) {
	defer q.active.Add(-1)

	commissions, err := q.disburser.Disburse(q.ctx, job.Payment)
	if err != nil {
		q.fail(job, err)
		return
	}

	q.logger.Info("disbursement job completed",
		"external_id", job.Payment.ExternalID,
		"commissions", len(commissions),
		"wait_ms", time.Since(job.EnqueuedAt).Milliseconds())
}

func (q *Queue) fail(job DisbursementJob, err error) {
	payload, _ := json.Marshal(map[string]interface{}{
		"payment": map[string]string{
			"id":     job.Payment.ExternalID,
			"status": job.Payment.Status,
		},
	})
	q.recorder.Record(context.Background(), job.Payment.ExternalID, webhookerror.StageDisburse, err, payload)
}

// Pending reports jobs queued or running.
func (q *Queue) Pending() int64 {
	return q.active.Load()
}

// Shutdown stops intake, waits for queued jobs until ctx expires, then records
// whatever is left so operators can replay it.
func (q *Queue) Shutdown(ctx context.Context) {
	q.logger.Info("shutting down disbursement queue", "pending", q.active.Load())
	q.stopped.Store(true)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

wait:
	for q.active.Load() > 0 {
		select {
		case <-ctx.Done():
			q.logger.Warn("disbursement queue drain timed out", "pending", q.active.Load())
			break wait
		case <-ticker.C:
		}
	}

	q.cancel()
	q.wg.Wait()

	for {
		select {
		case job := <-q.jobQueue:
			q.active.Add(-1)
			q.fail(job, errQueueStopped)
		default:
			q.logger.Info("disbursement queue shutdown complete")
			return
		}
	}
}
