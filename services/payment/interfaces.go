package payment

import (
	"context"
	"errors"
	"time"

	"pix-checkout-api/models"
	"pix-checkout-api/queue"
)

var (
	// ErrOrderNotFound is returned by a ChargeStore when no record matches.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderPaid is returned by Save when the reference already holds a paid charge.
	ErrOrderPaid = errors.New("order already paid")
)

// Gateway is the outbound PIX provider.
type Gateway interface {
	CreateCharge(ctx context.Context, req models.ChargeRequest) (*models.Charge, error)
	GetCharge(ctx context.Context, id string) (*models.Charge, error)
	Configured() bool
}

// StatusChange is the outcome of applying a StatusUpdate to a stored order.
type StatusChange struct {
	Order   *models.OrderRecord
	From    models.ChargeStatus
	Changed bool
}

// ChargeStore persists orders keyed by reference with a secondary index by
// charge id. UpdateStatus must apply models.OrderRecord.ApplyStatus
// atomically with respect to other writers.
type ChargeStore interface {
	Save(ctx context.Context, order *models.OrderRecord) error
	Get(ctx context.Context, reference string) (*models.OrderRecord, error)
	GetByChargeID(ctx context.Context, chargeID string) (*models.OrderRecord, error)
	UpdateStatus(ctx context.Context, u models.StatusUpdate, now time.Time) (*StatusChange, error)
	Ping(ctx context.Context) error
	Close() error
}

// Publisher fans state changes out to other systems.
type Publisher interface {
	Publish(ctx context.Context, ev models.StateChangeEvent) error
	Close() error
}

// JobQueue schedules background work.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType queue.JobType, data map[string]interface{}) error
	EnqueueDelayed(ctx context.Context, jobType queue.JobType, data map[string]interface{}, delay time.Duration) error
}
