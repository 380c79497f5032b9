package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pix-checkout-api/models"
	"pix-checkout-api/queue"
	"pix-checkout-api/services/payment"
	"pix-checkout-api/telemetry"
)

// JobSource is the subset of queue.Queue the worker drains.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	CompleteJob(ctx context.Context, job *queue.Job) error
	FailJob(ctx context.Context, job *queue.Job, err error) error
	ProcessDelayedJobs(ctx context.Context) error
}

// ChargeProcessor is implemented by payment.Service.
type ChargeProcessor interface {
	ApplyNotification(ctx context.Context, ev models.WebhookEvent) (*payment.StatusChange, error)
	ExpireCharge(ctx context.Context, chargeID string) error
	Order(ctx context.Context, reference string) (*models.OrderRecord, error)
}

type ConfirmationSender interface {
	SendPaymentConfirmation(order *models.OrderRecord) error
}

// Worker handles background charge tasks.
type Worker struct {
	queue    JobSource
	charges  ChargeProcessor
	email    ConfirmationSender
	metrics  *telemetry.Metrics
	log      *zap.Logger
	shutdown chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	started  bool

	// Poll cadence, shortened in tests.
	dequeueTimeout time.Duration
	delayedEvery   time.Duration
}

func NewWorker(q JobSource, charges ChargeProcessor, email ConfirmationSender, metrics *telemetry.Metrics, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		queue:          q,
		charges:        charges,
		email:          email,
		metrics:        metrics,
		log:            log,
		shutdown:       make(chan struct{}),
		dequeueTimeout: 5 * time.Second,
		delayedEvery:   time.Second,
	}
}

// Start launches concurrency job goroutines plus the delayed-job mover.
func (w *Worker) Start(concurrency int) {
	w.started = true
	for i := 0; i < concurrency; i++ {
		w.wg.Add(1)
		go w.processJobs(i)
	}
	w.wg.Add(1)
	go w.moveDelayedJobs()

	w.log.Info("started worker goroutines", zap.Int("concurrency", concurrency))
}

// Stop signals every goroutine and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	if !w.started {
		return
	}
	w.once.Do(func() {
		w.log.Info("stopping worker")
		close(w.shutdown)
		w.wg.Wait()
	})
}

func (w *Worker) moveDelayedJobs() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.delayedEvery)
	defer ticker.Stop()

	for {
		select {
		case <-w.shutdown:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := w.queue.ProcessDelayedJobs(ctx); err != nil {
				w.log.Warn("failed to move delayed jobs", zap.Error(err))
			}
			cancel()
		}
	}
}

func (w *Worker) processJobs(workerID int) {
	defer w.wg.Done()
	log := w.log.With(zap.Int("worker", workerID))

	for {
		select {
		case <-w.shutdown:
			log.Debug("worker shutting down")
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), w.dequeueTimeout+5*time.Second)
		job, err := w.queue.Dequeue(ctx, w.dequeueTimeout)
		cancel()

		if err != nil {
			log.Warn("error dequeuing job", zap.Error(err))
			w.pause(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		w.handle(log, job)
	}
}

func (w *Worker) handle(log *zap.Logger, job *queue.Job) {
	log = log.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	jobErr := w.processJob(ctx, job)
	cancel()

	if jobErr != nil {
		if job.IsLastAttempt() {
			log.Error("job failed on last attempt", zap.Int("retry_count", job.RetryCount), zap.Error(jobErr))
		} else {
			log.Warn("job failed", zap.Int("retry_count", job.RetryCount), zap.Error(jobErr))
		}
		w.metrics.JobProcessed(string(job.Type), "failed")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.queue.FailJob(ctx, job, jobErr); err != nil {
			log.Error("error marking job as failed", zap.Error(err))
		}
		cancel()
		return
	}

	w.metrics.JobProcessed(string(job.Type), "ok")
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := w.queue.CompleteJob(ctx, job); err != nil {
		log.Warn("error marking job as complete", zap.Error(err))
	}
	cancel()
}

func (w *Worker) pause(d time.Duration) {
	select {
	case <-w.shutdown:
	case <-time.After(d):
	}
}

func (w *Worker) processJob(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeApplyNotification:
		return w.processApplyNotification(ctx, job)
	case queue.JobTypeExpireCharge:
		return w.processExpireCharge(ctx, job)
	case queue.JobTypeSendConfirmation:
		return w.processSendConfirmation(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (w *Worker) processApplyNotification(ctx context.Context, job *queue.Job) error {
	chargeID, err := job.StringField("charge_id")
	if err != nil {
		return err
	}
	status, err := job.StringField("status")
	if err != nil {
		return err
	}

	_, err = w.charges.ApplyNotification(ctx, models.WebhookEvent{ID: chargeID, Status: status})
	if errors.Is(err, payment.ErrOrderNotFound) {
		w.log.Info("notification for unknown charge", zap.String("charge_id", chargeID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply notification for %s: %w", chargeID, err)
	}
	return nil
}

func (w *Worker) processExpireCharge(ctx context.Context, job *queue.Job) error {
	chargeID, err := job.StringField("charge_id")
	if err != nil {
		return err
	}
	return w.charges.ExpireCharge(ctx, chargeID)
}

func (w *Worker) processSendConfirmation(ctx context.Context, job *queue.Job) error {
	reference, err := job.StringField("reference")
	if err != nil {
		return err
	}
	if w.email == nil {
		return nil
	}

	order, err := w.charges.Order(ctx, reference)
	if err != nil {
		return fmt.Errorf("load order %s: %w", reference, err)
	}
	if order.Status != models.ChargeStatusPaid {
		return nil
	}
	if err := w.email.SendPaymentConfirmation(order); err != nil {
		return fmt.Errorf("send confirmation for %s: %w", reference, err)
	}
	return nil
}
