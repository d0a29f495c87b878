package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sifan077/KrunkLink/internal/app/model"
	apprepository "github.com/sifan077/KrunkLink/internal/app/repository"
	"go.uber.org/zap"
)

var errMalformedEvent = errors.New("malformed verification event")

// EventConsumer persists verification events from NATS JetStream into the audit table
type EventConsumer struct {
	js       nats.JetStreamContext
	logger   *zap.Logger
	repo     apprepository.VerificationEventRepository
	stopChan chan struct{}
}

// NewEventConsumer creates a new verification event consumer
func NewEventConsumer(js nats.JetStreamContext, logger *zap.Logger, repo apprepository.VerificationEventRepository) *EventConsumer {
	return &EventConsumer{
		js:       js,
		logger:   logger,
		repo:     repo,
		stopChan: make(chan struct{}),
	}
}

// EnsureStream creates the verification stream and durable consumer if they do not exist
func EnsureStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(model.EventStreamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     model.EventStreamName,
			Subjects: []string{model.EventStreamSubject},
			MaxBytes: model.EventStreamMaxBytes,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	if _, err := js.ConsumerInfo(model.EventStreamName, model.EventConsumerName); err != nil {
		_, err = js.AddConsumer(model.EventStreamName, &nats.ConsumerConfig{
			Durable:   model.EventConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}
	return nil
}

// Start begins consuming verification events
func (c *EventConsumer) Start() error {
	if err := EnsureStream(c.js); err != nil {
		return err
	}

	sub, err := c.js.PullSubscribe(model.EventStreamSubject, model.EventConsumerName)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go c.consume(sub)
	return nil
}

// Stop ends the consume loop after the current fetch returns
func (c *EventConsumer) Stop() {
	close(c.stopChan)
}

func (c *EventConsumer) consume(sub *nats.Subscription) {
	ctx := context.Background()
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-c.stopChan:
			c.logger.Info("verification event consumer stopped")
			return
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(5*time.Second))
		if err != nil && !errors.Is(err, nats.ErrTimeout) {
			c.logger.Error("failed to fetch messages", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			if err := c.handle(ctx, msg.Data); err != nil {
				c.logger.Error("failed to store verification event", zap.Error(err))
				if errors.Is(err, errMalformedEvent) {
					_ = msg.Term()
				} else {
					_ = msg.Nak()
				}
				continue
			}
			_ = msg.Ack()
		}
	}
}

func (c *EventConsumer) handle(ctx context.Context, data []byte) error {
	var event model.VerificationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("%w: %v", errMalformedEvent, err)
	}

	if err := c.repo.Create(ctx, &event); err != nil {
		return fmt.Errorf("store event %s: %w", event.ID, err)
	}

	c.logger.Debug("verification event stored",
		zap.String("id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("identity", event.Identity),
		zap.Time("occurred_at", event.OccurredAt),
	)
	return nil
}
