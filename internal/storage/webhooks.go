package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
)

const webhookEventColumns = `
	event_id, event_type, payload, processed, processing_error, received_at, processed_at`

// InsertWebhookEvent records an inbound event. It returns false when the
// event id is already in the ledger.
func (s *Storage) InsertWebhookEvent(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	query := s.q(`
		INSERT INTO webhook_events (` + webhookEventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING
	`)

	ok, err := exec(ctx, s.db, query,
		event.EventID, event.EventType, event.Payload, event.Processed,
		event.ProcessingError, event.ReceivedAt, event.ProcessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert webhook event: %w", err)
	}

	return ok, nil
}

func (s *Storage) GetWebhookEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error) {
	var event domain.WebhookEvent
	query := s.q(`SELECT ` + webhookEventColumns + ` FROM webhook_events WHERE event_id = ?`)

	if err := s.db.GetContext(ctx, &event, query, eventID); err != nil {
		return nil, fmt.Errorf("failed to get webhook event: %w", notFound(err, domain.ErrWebhookEventNotFound))
	}

	return &event, nil
}

// MarkWebhookEventProcessed flips the processed flag once.
func (s *Storage) MarkWebhookEventProcessed(ctx context.Context, eventID string, processingError *string, at time.Time) (bool, error) {
	query := s.q(`
		UPDATE webhook_events
		SET processed = TRUE, processing_error = ?, processed_at = ?
		WHERE event_id = ? AND processed = FALSE
	`)

	ok, err := exec(ctx, s.db, query, processingError, at, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to mark webhook event processed: %w", err)
	}

	return ok, nil
}
