// Package reconcile applies gateway charge results to jobs exactly once.
// The webhook receiver and the client verify call race to apply the same
// transition; the conditional write in the store decides the winner.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/events"
	"github.com/cuongbtq/jobpay/internal/gateway"
	"github.com/shopspring/decimal"
)

// Outcome describes what applying a charge result did. None of them is an
// error from the gateway's point of view.
type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeAlreadyCompleted Outcome = "already_completed"
	OutcomeFailed           Outcome = "failed"
	OutcomePending          Outcome = "pending"
	OutcomeJobNotFound      Outcome = "job_not_found"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeIgnored          Outcome = "ignored"
)

type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetJobByPaymentReference(ctx context.Context, reference string) (*domain.Job, error)
	CompletePayment(ctx context.Context, c domain.PaymentCompletion) (bool, error)
	RecordPaymentFailure(ctx context.Context, f domain.PaymentFailure) (bool, error)
}

type PayoutCreator interface {
	CreateForJob(ctx context.Context, jobID string) (*domain.Payout, bool, error)
}

// Charge is a gateway charge result in major currency units.
type Charge struct {
	JobID     string
	Reference string
	Status    string
	Amount    decimal.Decimal
	Currency  string
	Channel   string
	Reason    string
	At        time.Time
}

// ChargeFromTransaction converts a gateway transaction into a Charge.
func ChargeFromTransaction(tx *gateway.Transaction, fallback time.Time) Charge {
	reason := tx.GatewayResponse
	if reason == "" {
		reason = tx.Status
	}
	return Charge{
		JobID:     tx.Metadata.JobID,
		Reference: tx.Reference,
		Status:    tx.Status,
		Amount:    tx.MajorAmount(),
		Currency:  tx.Currency,
		Channel:   tx.Channel,
		Reason:    reason,
		At:        tx.PaidTime(fallback),
	}
}

type Engine struct {
	store     Store
	payouts   PayoutCreator
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewEngine(store Store, payouts PayoutCreator, publisher events.Publisher, logger *slog.Logger) *Engine {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Engine{
		store:     store,
		payouts:   payouts,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Apply dispatches on the charge status. Charges still in flight change
// nothing.
func (e *Engine) Apply(ctx context.Context, c Charge) (Outcome, error) {
	switch c.Status {
	case gateway.StatusSuccess:
		return e.ApplyChargeSuccess(ctx, c)
	case gateway.StatusFailed, gateway.StatusAbandoned, gateway.StatusReversed:
		return e.ApplyChargeFailure(ctx, c)
	default:
		return OutcomePending, nil
	}
}

// ApplyChargeSuccess completes the job's payment if it is still pending.
// Only the winner publishes payment.completed, before the payout insert.
// Winner and loser both make sure the payout exists.
func (e *Engine) ApplyChargeSuccess(ctx context.Context, c Charge) (Outcome, error) {
	job, err := e.resolveJob(ctx, c)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			e.logger.Warn("Charge for unknown job, skipping",
				slog.String("job_id", c.JobID),
				slog.String("reference", c.Reference),
			)
			return OutcomeJobNotFound, nil
		}
		return "", err
	}

	if expected := expectedCharge(job); expected.IsPositive() && !expected.Equal(c.Amount) {
		e.logger.Warn("Charged amount differs from the submitted amount",
			slog.String("job_id", job.ID),
			slog.String("expected", expected.String()),
			slog.String("charged", c.Amount.String()),
		)
	}

	at := c.At
	if at.IsZero() {
		at = e.now()
	}

	won, err := e.store.CompletePayment(ctx, domain.PaymentCompletion{
		JobID:       job.ID,
		Reference:   c.Reference,
		Amount:      c.Amount,
		Currency:    c.Currency,
		Channel:     c.Channel,
		CompletedAt: at,
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete payment: %w", err)
	}

	outcome := OutcomeCompleted
	if !won {
		e.logger.Info("Payment already completed, skipping",
			slog.String("job_id", job.ID),
			slog.String("reference", c.Reference),
		)
		outcome = OutcomeAlreadyCompleted
	} else {
		e.logger.Info("Payment completed",
			slog.String("job_id", job.ID),
			slog.String("reference", c.Reference),
			slog.String("amount", c.Amount.String()),
		)
	}

	// The worker creates the payout from this event if the insert below
	// never happens.
	if won {
		event := events.NewPaymentEvent(domain.EventPaymentCompleted, job.ID, c.Reference, at)
		event.Amount = c.Amount.String()
		event.Currency = c.Currency
		if err := e.publisher.Publish(ctx, event); err != nil {
			e.logger.Error("Failed to publish payment event",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if _, _, err := e.payouts.CreateForJob(ctx, job.ID); err != nil {
		return outcome, fmt.Errorf("failed to ensure payout: %w", err)
	}

	return outcome, nil
}

// ApplyChargeFailure records diagnostics unless the payment already
// completed. The job stays pending so a later success can still land.
func (e *Engine) ApplyChargeFailure(ctx context.Context, c Charge) (Outcome, error) {
	job, err := e.resolveJob(ctx, c)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			e.logger.Warn("Failed charge for unknown job, skipping",
				slog.String("job_id", c.JobID),
				slog.String("reference", c.Reference),
			)
			return OutcomeJobNotFound, nil
		}
		return "", err
	}

	at := c.At
	if at.IsZero() {
		at = e.now()
	}

	reason := c.Reason
	if reason == "" {
		reason = "charge " + c.Status
	}

	recorded, err := e.store.RecordPaymentFailure(ctx, domain.PaymentFailure{
		JobID:     job.ID,
		Reference: c.Reference,
		Reason:    reason,
		At:        at,
	})
	if err != nil {
		return "", fmt.Errorf("failed to record payment failure: %w", err)
	}
	if !recorded {
		e.logger.Info("Late failure for completed payment ignored",
			slog.String("job_id", job.ID),
			slog.String("reference", c.Reference),
		)
		return OutcomeAlreadyCompleted, nil
	}

	e.logger.Warn("Payment failed",
		slog.String("job_id", job.ID),
		slog.String("reference", c.Reference),
		slog.String("reason", reason),
	)

	event := events.NewPaymentEvent(domain.EventPaymentFailed, job.ID, c.Reference, at)
	event.Reason = reason
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Error("Failed to publish payment event",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	return OutcomeFailed, nil
}

// resolveJob finds the job by the metadata job id, falling back to the
// stored payment reference.
func (e *Engine) resolveJob(ctx context.Context, c Charge) (*domain.Job, error) {
	if c.JobID != "" {
		job, err := e.store.GetJob(ctx, c.JobID)
		if err == nil || !errors.Is(err, domain.ErrJobNotFound) || c.Reference == "" {
			return job, err
		}
	}
	if c.Reference == "" {
		return nil, domain.ErrJobNotFound
	}
	return e.store.GetJobByPaymentReference(ctx, c.Reference)
}

func expectedCharge(job *domain.Job) decimal.Decimal {
	if !job.PaymentAmount.Valid {
		return decimal.Zero
	}
	return job.PaymentAmount.Decimal.Add(job.TipAmount)
}
