// Package events publishes payment lifecycle events to the message broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// PaymentEvent is the message body published after reconciliation.
type PaymentEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	JobID      string    `json:"job_id"`
	Reference  string    `json:"reference"`
	Amount     string    `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewPaymentEvent stamps an event with a fresh id.
func NewPaymentEvent(eventType, jobID, reference string, at time.Time) PaymentEvent {
	return PaymentEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		JobID:      jobID,
		Reference:  reference,
		OccurredAt: at,
	}
}

// Decode parses a message body.
func Decode(body []byte) (PaymentEvent, error) {
	var event PaymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return PaymentEvent{}, fmt.Errorf("failed to decode payment event: %w", err)
	}
	if event.JobID == "" || event.Type == "" {
		return PaymentEvent{}, fmt.Errorf("payment event is missing job_id or type")
	}
	return event, nil
}

type Publisher interface {
	Publish(ctx context.Context, event PaymentEvent) error
}

// Broker is the part of the RabbitMQ client the publisher uses.
type Broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// BrokerPublisher publishes JSON events through a Broker.
type BrokerPublisher struct {
	broker Broker
	logger *slog.Logger
}

func NewBrokerPublisher(broker Broker, logger *slog.Logger) *BrokerPublisher {
	return &BrokerPublisher{broker: broker, logger: logger}
}

func (p *BrokerPublisher) Publish(ctx context.Context, event PaymentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode payment event: %w", err)
	}

	if err := p.broker.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	p.logger.Info("Payment event published",
		slog.String("type", event.Type),
		slog.String("job_id", event.JobID),
		slog.String("event_id", event.EventID),
	)
	return nil
}

// Discard drops events. It stands in when no broker is configured.
type Discard struct{}

func (Discard) Publish(context.Context, PaymentEvent) error { return nil }
