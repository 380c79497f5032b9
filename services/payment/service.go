package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pix-checkout-api/models"
	"pix-checkout-api/queue"
	"pix-checkout-api/services/payment/pushinpay"
	"pix-checkout-api/telemetry"
)

// Service owns the charge lifecycle: the store is the source of truth and
// the gateway is consulted only for charges that are not yet terminal.
type Service struct {
	gateway   Gateway
	store     ChargeStore
	publisher Publisher
	jobs      JobQueue
	metrics   *telemetry.Metrics
	log       *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }
func WithQueue(q JobQueue) Option      { return func(s *Service) { s.jobs = q } }
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}
func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewPaymentService(gw Gateway, store ChargeStore, opts ...Option) *Service {
	s := &Service{
		gateway: gw,
		store:   store,
		log:     zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready reports whether the gateway has its credential and base URL.
func (s *Service) Ready() bool {
	return s.gateway != nil && s.gateway.Configured()
}

// Validate checks a create request without touching the gateway.
func (s *Service) Validate(req models.ChargeRequest) error {
	if missing := req.MissingFields(); len(missing) > 0 {
		return &ValidationError{Message: "missing required fields", Fields: missing}
	}
	if req.Value < models.MinChargeValue {
		return &ValidationError{Message: fmt.Sprintf("value must be at least %d centavos", models.MinChargeValue)}
	}
	return nil
}

// CreateCharge issues a new PIX charge for req.Reference. A live or paid
// charge already stored under the same reference is returned as is.
func (s *Service) CreateCharge(ctx context.Context, req models.ChargeRequest) (*models.Charge, error) {
	req.Reference = strings.TrimSpace(req.Reference)
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	if !s.Ready() {
		return nil, ErrNotConfigured
	}

	log := s.log.With(zap.String("reference", req.Reference))
	now := s.now()

	existing, err := s.store.Get(ctx, req.Reference)
	switch {
	case err == nil:
		if existing.Charge().Live(now) || existing.Status == models.ChargeStatusPaid {
			log.Info("returning stored charge for reference",
				zap.String("charge_id", existing.ChargeID),
				zap.String("status", string(existing.Status)))
			return existing.Charge(), nil
		}
	case errors.Is(err, ErrOrderNotFound):
	default:
		log.Warn("charge store lookup failed, creating charge anyway", zap.Error(err))
	}

	charge, err := s.gateway.CreateCharge(ctx, req)
	if err != nil {
		return nil, err
	}

	order := models.NewOrderRecord(req, charge)
	order.CreatedAt = now
	order.UpdatedAt = now
	if existing != nil {
		order.CreatedAt = existing.CreatedAt
	}
	if err := s.store.Save(ctx, order); err != nil {
		// The charge exists upstream; polling still resolves it through the gateway.
		log.Error("failed to persist order", zap.String("charge_id", charge.ID), zap.Error(err))
	}

	s.metrics.ChargeCreated(string(order.Kind))
	s.publish(ctx, order, "", order.Status)

	if s.jobs != nil {
		delay := order.ExpiresAt.Sub(now)
		if delay < 0 {
			delay = 0
		}
		data := map[string]interface{}{"charge_id": charge.ID, "reference": order.Reference}
		if err := s.jobs.EnqueueDelayed(ctx, queue.JobTypeExpireCharge, data, delay); err != nil {
			log.Warn("failed to schedule expiry job", zap.String("charge_id", charge.ID), zap.Error(err))
		}
	}

	log.Info("PIX charge created",
		zap.String("charge_id", charge.ID),
		zap.String("kind", string(order.Kind)),
		zap.Int("value", order.Total))
	return charge, nil
}

// CheckCharge reports the status of a charge. Terminal statuses come from
// the store; anything else is refreshed from the gateway and written back.
func (s *Service) CheckCharge(ctx context.Context, chargeID string) (*models.Charge, error) {
	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return nil, &ValidationError{Message: "payment id is required"}
	}

	log := s.log.With(zap.String("charge_id", chargeID))

	order, err := s.store.GetByChargeID(ctx, chargeID)
	switch {
	case err == nil:
		if order.Status.IsTerminal() {
			return order.Charge(), nil
		}
	case errors.Is(err, ErrOrderNotFound):
		order = nil
	default:
		log.Warn("charge store lookup failed, asking gateway", zap.Error(err))
		order = nil
	}

	if !s.Ready() {
		return nil, ErrNotConfigured
	}

	charge, err := s.gateway.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return charge, nil
	}

	if charge.ExpiresAt.IsZero() {
		charge.ExpiresAt = order.ExpiresAt
	}
	if charge.Value == 0 {
		charge.Value = order.Total
	}

	change, err := s.applyUpdate(ctx, models.StatusUpdate{
		ChargeID: chargeID,
		Status:   charge.Status,
		PaidAt:   charge.PaidAt,
	})
	if err != nil {
		log.Error("failed to record charge status", zap.Error(err))
		return charge, nil
	}
	if change.Order.Status.IsTerminal() && change.Order.Status != charge.Status {
		// A webhook landed first; the stored terminal status wins.
		return change.Order.Charge(), nil
	}
	if charge.PaidAt == nil {
		charge.PaidAt = change.Order.PaidAt
	}
	return charge, nil
}

// ApplyNotification writes a webhook event into the store.
func (s *Service) ApplyNotification(ctx context.Context, ev models.WebhookEvent) (*StatusChange, error) {
	if strings.TrimSpace(ev.ID) == "" || strings.TrimSpace(ev.Status) == "" {
		return nil, &ValidationError{Message: "notification requires id and status"}
	}
	return s.applyUpdate(ctx, models.StatusUpdate{
		ChargeID: strings.TrimSpace(ev.ID),
		Status:   models.NormalizeChargeStatus(ev.Status),
	})
}

// ExpireCharge marks a stored charge expired once its deadline passed,
// unless the gateway reports it paid.
func (s *Service) ExpireCharge(ctx context.Context, chargeID string) error {
	order, err := s.store.GetByChargeID(ctx, chargeID)
	if errors.Is(err, ErrOrderNotFound) {
		// Replaced by a newer charge for the same reference.
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order for charge %s: %w", chargeID, err)
	}
	if order.Status.IsTerminal() {
		return nil
	}

	update := models.StatusUpdate{ChargeID: chargeID, Status: models.ChargeStatusExpired}
	if s.Ready() {
		charge, err := s.gateway.GetCharge(ctx, chargeID)
		switch {
		case err == nil && charge.Status.IsTerminal():
			update.Status = charge.Status
			update.PaidAt = charge.PaidAt
		case err == nil:
			if s.now().Before(order.ExpiresAt) {
				return nil
			}
		case pushinpay.IsNotFound(err):
		default:
			return fmt.Errorf("refresh charge %s: %w", chargeID, err)
		}
	} else if s.now().Before(order.ExpiresAt) {
		return nil
	}

	_, err = s.applyUpdate(ctx, update)
	return err
}

// Order returns the stored order for a reference.
func (s *Service) Order(ctx context.Context, reference string) (*models.OrderRecord, error) {
	return s.store.Get(ctx, reference)
}

func (s *Service) applyUpdate(ctx context.Context, u models.StatusUpdate) (*StatusChange, error) {
	change, err := s.store.UpdateStatus(ctx, u, s.now())
	if err != nil {
		return nil, err
	}
	if !change.Changed {
		return change, nil
	}

	order := change.Order
	s.log.Info("charge status changed",
		zap.String("charge_id", order.ChargeID),
		zap.String("reference", order.Reference),
		zap.String("from", string(change.From)),
		zap.String("to", string(order.Status)))
	s.metrics.StateChanged(string(change.From), string(order.Status))
	s.publish(ctx, order, change.From, order.Status)

	if order.Status == models.ChargeStatusPaid && s.jobs != nil {
		data := map[string]interface{}{"reference": order.Reference, "charge_id": order.ChargeID}
		if err := s.jobs.Enqueue(ctx, queue.JobTypeSendConfirmation, data); err != nil {
			s.log.Warn("failed to enqueue confirmation email",
				zap.String("reference", order.Reference), zap.Error(err))
		}
	}
	return change, nil
}

func (s *Service) publish(ctx context.Context, order *models.OrderRecord, from, to models.ChargeStatus) {
	if s.publisher == nil {
		return
	}
	ev := models.StateChangeEvent{
		ChargeID:   order.ChargeID,
		Reference:  order.Reference,
		Kind:       order.Kind,
		From:       from,
		To:         to,
		Value:      order.Total,
		OccurredAt: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("failed to publish state change",
			zap.String("charge_id", order.ChargeID), zap.Error(err))
	}
}
