package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/gateway"
	"github.com/cuongbtq/jobpay/internal/security"
	"github.com/decred/dcrd/lru"
)

// Webhook event types acted upon. Everything else is acknowledged and
// recorded without effect.
const (
	EventChargeSuccess = "charge.success"
	EventChargeFailed  = "charge.failed"
)

const defaultSeenCacheSize = 10000

type EventStore interface {
	InsertWebhookEvent(ctx context.Context, event *domain.WebhookEvent) (bool, error)
	GetWebhookEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error)
	MarkWebhookEventProcessed(ctx context.Context, eventID string, processingError *string, at time.Time) (bool, error)
}

type envelope struct {
	ID    any                 `json:"id"`
	Event string              `json:"event"`
	Data  gateway.Transaction `json:"data"`
}

// eventID is the gateway's delivery id, or a stable id built from the
// event type and charge when the delivery carries none.
func (e *envelope) eventID() string {
	switch id := e.ID.(type) {
	case string:
		if id != "" {
			return id
		}
	case json.Number:
		return id.String()
	}
	if e.Data.ID != "" {
		return e.Event + ":" + e.Data.ID.String()
	}
	return e.Event + ":" + e.Data.Reference
}

// WebhookProcessor authenticates, deduplicates and applies gateway events.
type WebhookProcessor struct {
	store  EventStore
	engine *Engine
	secret []byte
	// seen holds processed event ids. It only saves a round trip; the
	// webhook_events table is what prevents reprocessing.
	seen   lru.Cache
	logger *slog.Logger
	now    func() time.Time
}

func NewWebhookProcessor(store EventStore, engine *Engine, secret string, cacheSize uint, logger *slog.Logger) *WebhookProcessor {
	if cacheSize == 0 {
		cacheSize = defaultSeenCacheSize
	}
	return &WebhookProcessor{
		store:  store,
		engine: engine,
		secret: []byte(secret),
		seen:   lru.NewCache(cacheSize),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one delivery. Once the body is authenticated and parsed
// the result is always a success outcome unless storage fails, so the
// gateway does not retry deliveries that can never apply.
func (p *WebhookProcessor) Handle(ctx context.Context, body []byte, signature string) (Outcome, error) {
	if err := security.VerifyHMACSHA512(p.secret, body, signature); err != nil {
		p.logger.Warn("Webhook signature rejected", slog.String("error", err.Error()))
		return "", err
	}

	var env envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return "", domain.ErrMalformedPayload.WithMessage("webhook body could not be parsed: %v", err)
	}
	if strings.TrimSpace(env.Event) == "" {
		return "", domain.ErrMalformedPayload.WithMessage("webhook event type is missing")
	}
	if env.Event == EventChargeSuccess && env.Data.Reference == "" {
		return "", domain.ErrMalformedPayload.WithMessage("charge reference is missing")
	}

	eventID := env.eventID()
	if p.seen.Contains(eventID) {
		p.logger.Debug("Webhook event seen recently", slog.String("event_id", eventID))
		return OutcomeDuplicate, nil
	}

	inserted, err := p.store.InsertWebhookEvent(ctx, &domain.WebhookEvent{
		EventID:    eventID,
		EventType:  env.Event,
		Payload:    string(body),
		ReceivedAt: p.now(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to record webhook event: %w", err)
	}
	if !inserted {
		existing, err := p.store.GetWebhookEvent(ctx, eventID)
		if err != nil {
			return "", err
		}
		if existing.Processed {
			p.seen.Add(eventID)
			p.logger.Info("Duplicate webhook event",
				slog.String("event_id", eventID),
				slog.String("event", env.Event),
			)
			return OutcomeDuplicate, nil
		}
		// A previous delivery was recorded but never finished. Applying
		// again is safe because every transition is conditional.
		p.logger.Info("Resuming unprocessed webhook event", slog.String("event_id", eventID))
	}

	outcome, err := p.apply(ctx, &env)
	if err != nil {
		p.logger.Error("Failed to apply webhook event",
			slog.String("event_id", eventID),
			slog.String("event", env.Event),
			slog.String("error", err.Error()),
		)
		return "", err
	}

	var processingErr *string
	if outcome == OutcomeJobNotFound {
		msg := "job not found for reference " + env.Data.Reference
		processingErr = &msg
	}

	if _, err := p.store.MarkWebhookEventProcessed(ctx, eventID, processingErr, p.now()); err != nil {
		return "", fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	p.seen.Add(eventID)

	p.logger.Info("Webhook event processed",
		slog.String("event_id", eventID),
		slog.String("event", env.Event),
		slog.String("reference", env.Data.Reference),
		slog.String("outcome", string(outcome)),
	)
	return outcome, nil
}

func (p *WebhookProcessor) apply(ctx context.Context, env *envelope) (Outcome, error) {
	charge := ChargeFromTransaction(&env.Data, p.now())

	switch env.Event {
	case EventChargeSuccess:
		return p.engine.ApplyChargeSuccess(ctx, charge)
	case EventChargeFailed:
		return p.engine.ApplyChargeFailure(ctx, charge)
	default:
		p.logger.Info("Webhook event type ignored", slog.String("event", env.Event))
		return OutcomeIgnored, nil
	}
}
