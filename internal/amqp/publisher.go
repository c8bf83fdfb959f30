package amqp

import (
	"context"

	"gymspace/internal/caja"
)

type eventSender interface {
	PublishCajaEvent(ctx context.Context, msg *CajaEvent) error
}

// CajaPublisher adapts the client to caja.EventPublisher.
type CajaPublisher struct {
	sender eventSender
}

var _ caja.EventPublisher = (*CajaPublisher)(nil)

func NewCajaPublisher(c *Client) *CajaPublisher {
	return &CajaPublisher{sender: c}
}

func (p *CajaPublisher) Publish(ctx context.Context, e caja.Event) error {
	return p.sender.PublishCajaEvent(ctx, NewCajaEvent(e))
}
