package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pix-checkout-api/models"
	"pix-checkout-api/queue"
	"pix-checkout-api/services/payment"
)

type fakeSource struct {
	mu        sync.Mutex
	jobs      chan *queue.Job
	completed []string
	failed    []string
	delayed   int
}

func newFakeSource(jobs ...*queue.Job) *fakeSource {
	s := &fakeSource{jobs: make(chan *queue.Job, len(jobs))}
	for _, j := range jobs {
		s.jobs <- j
	}
	return s
}

func (s *fakeSource) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	select {
	case j := <-s.jobs:
		return j, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (s *fakeSource) CompleteJob(ctx context.Context, job *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, job.ID)
	return nil
}

func (s *fakeSource) FailJob(ctx context.Context, job *queue.Job, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, job.ID)
	return nil
}

func (s *fakeSource) ProcessDelayedJobs(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delayed++
	return nil
}

func (s *fakeSource) done() (completed, failed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.completed...), append([]string(nil), s.failed...)
}

type fakeCharges struct {
	mu       sync.Mutex
	applied  []models.WebhookEvent
	expired  []string
	orders   map[string]*models.OrderRecord
	applyErr error
}

func (f *fakeCharges) ApplyNotification(ctx context.Context, ev models.WebhookEvent) (*payment.StatusChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	f.applied = append(f.applied, ev)
	return &payment.StatusChange{Changed: true}, nil
}

func (f *fakeCharges) ExpireCharge(ctx context.Context, chargeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, chargeID)
	return nil
}

func (f *fakeCharges) Order(ctx context.Context, reference string) (*models.OrderRecord, error) {
	o, ok := f.orders[reference]
	if !ok {
		return nil, payment.ErrOrderNotFound
	}
	return o, nil
}

type fakeMailer struct {
	sent []string
}

func (m *fakeMailer) SendPaymentConfirmation(order *models.OrderRecord) error {
	m.sent = append(m.sent, order.Reference)
	return nil
}

func job(id string, t queue.JobType, data map[string]interface{}) *queue.Job {
	return &queue.Job{ID: id, Type: t, Data: data}
}

func TestProcessJobDispatch(t *testing.T) {
	charges := &fakeCharges{orders: map[string]*models.OrderRecord{
		"pedido-1": {Reference: "pedido-1", Status: models.ChargeStatusPaid},
		"pedido-2": {Reference: "pedido-2", Status: models.ChargeStatusCreated},
	}}
	mailer := &fakeMailer{}
	w := NewWorker(newFakeSource(), charges, mailer, nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, w.processJob(ctx, job("1", queue.JobTypeApplyNotification, map[string]interface{}{"charge_id": "tx-1", "status": "paid"})))
	require.NoError(t, w.processJob(ctx, job("2", queue.JobTypeExpireCharge, map[string]interface{}{"charge_id": "tx-2"})))
	require.NoError(t, w.processJob(ctx, job("3", queue.JobTypeSendConfirmation, map[string]interface{}{"reference": "pedido-1"})))
	require.NoError(t, w.processJob(ctx, job("4", queue.JobTypeSendConfirmation, map[string]interface{}{"reference": "pedido-2"})))

	assert.Equal(t, []models.WebhookEvent{{ID: "tx-1", Status: "paid"}}, charges.applied)
	assert.Equal(t, []string{"tx-2"}, charges.expired)
	assert.Equal(t, []string{"pedido-1"}, mailer.sent)

	assert.Error(t, w.processJob(ctx, job("5", queue.JobType("void_transaction"), nil)))
	assert.Error(t, w.processJob(ctx, job("6", queue.JobTypeApplyNotification, map[string]interface{}{"charge_id": "tx-1"})))
	assert.Error(t, w.processJob(ctx, job("7", queue.JobTypeSendConfirmation, map[string]interface{}{"reference": "pedido-404"})))
}

func TestWorkerCompletesAndFailsJobs(t *testing.T) {
	src := newFakeSource(
		job("ok", queue.JobTypeExpireCharge, map[string]interface{}{"charge_id": "tx-1"}),
		job("bad", queue.JobTypeApplyNotification, map[string]interface{}{"charge_id": "tx-2", "status": "paid"}),
	)
	charges := &fakeCharges{applyErr: errors.New("store unavailable")}

	w := NewWorker(src, charges, nil, nil, zap.NewNop())
	w.dequeueTimeout = 10 * time.Millisecond
	w.delayedEvery = 5 * time.Millisecond
	w.Start(2)

	require.Eventually(t, func() bool {
		completed, failed := src.done()
		return len(completed) == 1 && len(failed) == 1
	}, 2*time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()

	completed, failed := src.done()
	assert.Equal(t, []string{"ok"}, completed)
	assert.Equal(t, []string{"bad"}, failed)
}

func TestUnknownChargeNotificationCompletes(t *testing.T) {
	src := newFakeSource(
		job("stray", queue.JobTypeApplyNotification, map[string]interface{}{"charge_id": "tx-404", "status": "paid"}),
	)
	charges := &fakeCharges{applyErr: payment.ErrOrderNotFound}

	w := NewWorker(src, charges, nil, nil, zap.NewNop())
	w.dequeueTimeout = 10 * time.Millisecond
	w.delayedEvery = 5 * time.Millisecond
	w.Start(1)

	require.Eventually(t, func() bool {
		completed, _ := src.done()
		return len(completed) == 1
	}, 2*time.Second, 5*time.Millisecond)
	w.Stop()

	completed, failed := src.done()
	assert.Equal(t, []string{"stray"}, completed)
	assert.Empty(t, failed)
}
