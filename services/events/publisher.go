// Package events publishes charge state changes to a message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"pix-checkout-api/config"
	"pix-checkout-api/models"
)

const eventType = "charge.state_changed"

// envelope is the wire shape shared by every broker.
type envelope struct {
	Type string                  `json:"type"`
	Data models.StateChangeEvent `json:"data"`
}

func encode(ev models.StateChangeEvent) ([]byte, error) {
	b, err := json.Marshal(envelope{Type: eventType, Data: ev})
	if err != nil {
		return nil, fmt.Errorf("marshal state change: %w", err)
	}
	return b, nil
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(ctx context.Context, ev models.StateChangeEvent) error { return nil }
func (Noop) Close() error                                                 { return nil }

// Publisher is satisfied by every implementation in this package.
type Publisher interface {
	Publish(ctx context.Context, ev models.StateChangeEvent) error
	Close() error
}

// New picks the publisher named by cfg.Driver. An empty driver disables events.
func New(cfg config.EventsConfig, log *zap.Logger) (Publisher, error) {
	switch cfg.Driver {
	case "", "none":
		return Noop{}, nil
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return nil, &config.ConfigurationError{Missing: []string{"KAFKA_BROKERS"}}
		}
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log), nil
	case "nats":
		if cfg.NATSURL == "" {
			return nil, &config.ConfigurationError{Missing: []string{"NATS_URL"}}
		}
		return NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, log)
	default:
		return nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
}
