package service

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/KrunkLink/internal/app/model"
)

// EventPublisher publishes verification events to NATS JetStream.
type EventPublisher struct {
	js nats.JetStreamContext
}

// NewEventPublisher creates a new verification event publisher.
func NewEventPublisher(js nats.JetStreamContext) *EventPublisher {
	return &EventPublisher{js: js}
}

// Publish publishes an event to the stream. The event ID doubles as the
// JetStream message ID so retried publishes are deduplicated.
func (p *EventPublisher) Publish(ctx context.Context, event model.VerificationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(model.EventStreamSubject, data, nats.Context(ctx), nats.MsgId(event.ID))
	return err
}
