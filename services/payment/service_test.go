package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pix-checkout-api/models"
	"pix-checkout-api/queue"
	"pix-checkout-api/services/payment/pushinpay"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeGateway struct {
	mu          sync.Mutex
	configured  bool
	createCalls int
	getCalls    int
	created     *models.Charge
	createErr   error
	status      *models.Charge
	getErr      error
}

func (g *fakeGateway) Configured() bool { return g.configured }

func (g *fakeGateway) CreateCharge(ctx context.Context, req models.ChargeRequest) (*models.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if g.createErr != nil {
		return nil, g.createErr
	}
	c := *g.created
	return &c, nil
}

func (g *fakeGateway) GetCharge(ctx context.Context, id string) (*models.Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	c := *g.status
	return &c, nil
}

type memStore struct {
	mu     sync.Mutex
	orders map[string]*models.OrderRecord
	byID   map[string]string
}

func newMemStore() *memStore {
	return &memStore{orders: map[string]*models.OrderRecord{}, byID: map[string]string{}}
}

func (m *memStore) Save(ctx context.Context, o *models.OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.orders[o.Reference]; ok {
		delete(m.byID, prev.ChargeID)
	}
	c := *o
	m.orders[o.Reference] = &c
	m.byID[o.ChargeID] = o.Reference
	return nil
}

func (m *memStore) Get(ctx context.Context, ref string) (*models.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ref]
	if !ok {
		return nil, ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

func (m *memStore) GetByChargeID(ctx context.Context, id string) (*models.OrderRecord, error) {
	m.mu.Lock()
	ref, ok := m.byID[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrOrderNotFound
	}
	return m.Get(ctx, ref)
}

func (m *memStore) UpdateStatus(ctx context.Context, u models.StatusUpdate, now time.Time) (*StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.byID[u.ChargeID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	o := m.orders[ref]
	from := o.Status
	changed := o.ApplyStatus(u, now)
	c := *o
	return &StatusChange{Order: &c, From: from, Changed: changed}, nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) Close() error                   { return nil }

type recordedJob struct {
	jobType queue.JobType
	data    map[string]interface{}
	delay   time.Duration
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []recordedJob
}

func (q *fakeQueue) Enqueue(ctx context.Context, t queue.JobType, data map[string]interface{}) error {
	return q.EnqueueDelayed(ctx, t, data, 0)
}

func (q *fakeQueue) EnqueueDelayed(ctx context.Context, t queue.JobType, data map[string]interface{}, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, recordedJob{jobType: t, data: data, delay: d})
	return nil
}

func (q *fakeQueue) ofType(t queue.JobType) []recordedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []recordedJob
	for _, j := range q.jobs {
		if j.jobType == t {
			out = append(out, j)
		}
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.StateChangeEvent
}

func (p *fakePublisher) Publish(ctx context.Context, ev models.StateChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fixture struct {
	svc   *Service
	gw    *fakeGateway
	store *memStore
	jobs  *fakeQueue
	pub   *fakePublisher
	now   *time.Time
}

func newFixture() *fixture {
	now := testNow
	f := &fixture{
		gw: &fakeGateway{
			configured: true,
			created: &models.Charge{
				ID:        "tx-1",
				Status:    models.ChargeStatusCreated,
				Value:     1690,
				QRCode:    "000201PIX",
				PixCode:   "000201PIX",
				ExpiresAt: testNow.Add(15 * time.Minute),
			},
			status: &models.Charge{ID: "tx-1", Status: models.ChargeStatusCreated},
		},
		store: newMemStore(),
		jobs:  &fakeQueue{},
		pub:   &fakePublisher{},
		now:   &now,
	}
	f.svc = NewPaymentService(f.gw, f.store,
		WithQueue(f.jobs),
		WithPublisher(f.pub),
		WithClock(func() time.Time { return *f.now }),
	)
	return f
}

func chargeRequest(ref string) models.ChargeRequest {
	return models.ChargeRequest{
		Value:         1690,
		PayerName:     "Maria Silva",
		PayerEmail:    "maria@example.com",
		PayerPhone:    "11987654321",
		PayerDocument: "12345678909",
		Reference:     ref,
		OrderBumps:    []string{"checklist"},
	}
}

func TestCreateChargeValidationMakesNoGatewayCall(t *testing.T) {
	f := newFixture()

	low := chargeRequest("pedido-1")
	low.Value = 49
	_, err := f.svc.CreateCharge(context.Background(), low)
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))

	missing := chargeRequest("")
	missing.PayerEmail = ""
	_, err = f.svc.CreateCharge(context.Background(), missing)
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, []string{"payer_email", "reference"}, vErr.Fields)

	assert.Equal(t, 0, f.gw.createCalls)
}

func TestCreateChargeNotConfigured(t *testing.T) {
	f := newFixture()
	f.gw.configured = false

	_, err := f.svc.CreateCharge(context.Background(), chargeRequest("pedido-1"))
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, 0, f.gw.createCalls)
	assert.Contains(t, err.Error(), "PUSHINPAY_TOKEN")
	assert.Contains(t, err.Error(), "BASE_URL")
	assert.NotContains(t, err.Error(), "PUSHINPAY_API_URL")
}

func TestCreateChargePersistsAndSchedulesExpiry(t *testing.T) {
	f := newFixture()

	charge, err := f.svc.CreateCharge(context.Background(), chargeRequest("pedido-1"))
	require.NoError(t, err)
	assert.Equal(t, "tx-1", charge.ID)

	order, err := f.store.Get(context.Background(), "pedido-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderKindMain, order.Kind)
	assert.Equal(t, []string{"checklist"}, order.OrderBumps)
	assert.True(t, order.CreatedAt.Equal(testNow))

	expiry := f.jobs.ofType(queue.JobTypeExpireCharge)
	require.Len(t, expiry, 1)
	assert.Equal(t, 15*time.Minute, expiry[0].delay)
	assert.Equal(t, "tx-1", expiry[0].data["charge_id"])

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, models.ChargeStatusCreated, f.pub.events[0].To)
}

func TestCreateChargeSameReferenceIsIdempotent(t *testing.T) {
	f := newFixture()

	first, err := f.svc.CreateCharge(context.Background(), chargeRequest("pedido-1"))
	require.NoError(t, err)
	second, err := f.svc.CreateCharge(context.Background(), chargeRequest("pedido-1"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.gw.createCalls)
}

func TestCreateChargeReplacesExpiredCharge(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CreateCharge(context.Background(), chargeRequest("pedido-1"))
	require.NoError(t, err)

	*f.now = testNow.Add(16 * time.Minute)
	f.gw.created = &models.Charge{ID: "tx-2", Status: models.ChargeStatusCreated, PixCode: "PIX2", ExpiresAt: f.now.Add(15 * time.Minute)}

	charge, err := f.svc.CreateCharge(context.Background(), chargeRequest("pedido-1"))
	require.NoError(t, err)
	assert.Equal(t, "tx-2", charge.ID)
	assert.Equal(t, 2, f.gw.createCalls)

	order, err := f.store.Get(context.Background(), "pedido-1")
	require.NoError(t, err)
	assert.Equal(t, "tx-2", order.ChargeID)
	assert.True(t, order.CreatedAt.Equal(testNow))
}

func TestCreateChargePropagatesGatewayError(t *testing.T) {
	f := newFixture()
	f.gw.createErr = &pushinpay.GatewayError{Kind: pushinpay.KindRequestFailed, ProviderStatus: 422}

	_, err := f.svc.CreateCharge(context.Background(), chargeRequest("pedido-1"))
	var gwErr *pushinpay.GatewayError
	require.True(t, errors.As(err, &gwErr))

	_, err = f.store.Get(context.Background(), "pedido-1")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCheckChargeTerminalStoreSkipsGateway(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateCharge(context.Background(), chargeRequest("pedido-1"))
	require.NoError(t, err)

	_, err = f.svc.ApplyNotification(context.Background(), models.WebhookEvent{ID: "tx-1", Status: "paid"})
	require.NoError(t, err)

	charge, err := f.svc.CheckCharge(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChargeStatusPaid, charge.Status)
	require.NotNil(t, charge.PaidAt)
	assert.Equal(t, 0, f.gw.getCalls)
}

func TestCheckChargeRefreshesAndRecordsPaid(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateCharge(context.Background(), chargeRequest("pedido-1"))
	require.NoError(t, err)

	paidAt := testNow.Add(3 * time.Minute)
	f.gw.status = &models.Charge{ID: "tx-1", Status: models.ChargeStatusPaid, PaidAt: &paidAt}

	charge, err := f.svc.CheckCharge(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChargeStatusPaid, charge.Status)
	assert.True(t, charge.ExpiresAt.Equal(testNow.Add(15*time.Minute)))
	assert.Equal(t, 1, f.gw.getCalls)

	order, err := f.store.Get(context.Background(), "pedido-1")
	require.NoError(t, err)
	assert.Equal(t, models.ChargeStatusPaid, order.Status)
	assert.True(t, order.PaidAt.Equal(paidAt))

	assert.Len(t, f.jobs.ofType(queue.JobTypeSendConfirmation), 1)

	_, err = f.svc.CheckCharge(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.gw.getCalls)
	assert.Len(t, f.jobs.ofType(queue.JobTypeSendConfirmation), 1)
}

func TestCheckChargeUnknownID(t *testing.T) {
	f := newFixture()
	f.gw.getErr = &pushinpay.GatewayError{Kind: pushinpay.KindNotFound, ProviderStatus: 404}

	_, err := f.svc.CheckCharge(context.Background(), "never-created")
	assert.True(t, pushinpay.IsNotFound(err))

	_, err = f.svc.CheckCharge(context.Background(), " ")
	var vErr *ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestApplyNotificationNeverDowngrades(t *testing.T) {
	f := newFixture()
	_, err := f.svc.CreateCharge(context.Background(), chargeRequest("pedido-1"))
	require.NoError(t, err)

	change, err := f.svc.ApplyNotification(context.Background(), models.WebhookEvent{ID: "tx-1", Status: "paid"})
	require.NoError(t, err)
	assert.True(t, change.Changed)

	change, err = f.svc.ApplyNotification(context.Background(), models.WebhookEvent{ID: "tx-1", Status: "created"})
	require.NoError(t, err)
	assert.False(t, change.Changed)
	assert.Equal(t, models.ChargeStatusPaid, change.Order.Status)

	change, err = f.svc.ApplyNotification(context.Background(), models.WebhookEvent{ID: "tx-1", Status: "expired"})
	require.NoError(t, err)
	assert.False(t, change.Changed)

	assert.Len(t, f.jobs.ofType(queue.JobTypeSendConfirmation), 1)
}

func TestApplyNotificationUnknownCharge(t *testing.T) {
	f := newFixture()

	_, err := f.svc.ApplyNotification(context.Background(), models.WebhookEvent{ID: "tx-404", Status: "paid"})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestExpireCharge(t *testing.T) {
	t.Run("expires once the deadline passed", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.CreateCharge(context.Background(), chargeRequest("pedido-1"))
		require.NoError(t, err)

		*f.now = testNow.Add(15 * time.Minute)
		require.NoError(t, f.svc.ExpireCharge(context.Background(), "tx-1"))

		order, _ := f.store.Get(context.Background(), "pedido-1")
		assert.Equal(t, models.ChargeStatusExpired, order.Status)
	})

	t.Run("gateway reports paid", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.CreateCharge(context.Background(), chargeRequest("pedido-1"))
		require.NoError(t, err)

		*f.now = testNow.Add(15 * time.Minute)
		f.gw.status = &models.Charge{ID: "tx-1", Status: models.ChargeStatusPaid}
		require.NoError(t, f.svc.ExpireCharge(context.Background(), "tx-1"))

		order, _ := f.store.Get(context.Background(), "pedido-1")
		assert.Equal(t, models.ChargeStatusPaid, order.Status)
	})

	t.Run("early job leaves charge alone", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.CreateCharge(context.Background(), chargeRequest("pedido-1"))
		require.NoError(t, err)

		require.NoError(t, f.svc.ExpireCharge(context.Background(), "tx-1"))
		order, _ := f.store.Get(context.Background(), "pedido-1")
		assert.Equal(t, models.ChargeStatusCreated, order.Status)
	})
}
