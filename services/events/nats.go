package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"pix-checkout-api/models"
)

// MsgPublisher is the part of nats.Conn the publisher uses.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

type NATSPublisher struct {
	conn    MsgPublisher
	subject string
	log     *zap.Logger
}

func NewNATSPublisher(url, subject string, log *zap.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("pix-checkout-api"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return NewNATSPublisherWithConn(nc, subject, log), nil
}

func NewNATSPublisherWithConn(conn MsgPublisher, subject string, log *zap.Logger) *NATSPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &NATSPublisher{conn: conn, subject: subject, log: log}
}

func (p *NATSPublisher) Publish(ctx context.Context, ev models.StateChangeEvent) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	msg.Header.Set("Charge-Id", ev.ChargeID)
	msg.Header.Set("Type", eventType)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish for %s: %w", ev.ChargeID, err)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
