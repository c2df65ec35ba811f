package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const paymentColumns = `
	id, job_id, customer_id, provider_id, amount, tip_amount, currency, status,
	method, channel, reference, failure_reason, processed_at, created_at, updated_at`

// RecordPaymentIntent stores a validated payment request. It never touches
// payment_status.
func (s *Storage) RecordPaymentIntent(ctx context.Context, intent domain.PaymentIntent) (bool, error) {
	query := s.q(`
		UPDATE jobs
		SET payment_amount = ?, tip_amount = ?, payment_method = ?,
		    dispute_flagged = ?, partial_payment_reason = ?,
		    payment_last_attempt_at = ?, updated_at = ?
		WHERE id = ? AND customer_id = ?
		  AND quote_accepted = TRUE
		  AND end_code_used = TRUE
		  AND payment_status = ?
	`)

	ok, err := exec(ctx, s.db, query,
		intent.Amount, intent.Tip, intent.Method,
		intent.DisputeFlagged, intent.PartialPaymentReason,
		intent.At, intent.At,
		intent.JobID, intent.CustomerID,
		domain.PaymentStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record payment intent: %w", err)
	}

	return ok, nil
}

func (s *Storage) SetPaymentReference(ctx context.Context, jobID, reference string, at time.Time) (bool, error) {
	query := s.q(`
		UPDATE jobs
		SET payment_reference = ?, updated_at = ?
		WHERE id = ? AND payment_status = ?
	`)

	ok, err := exec(ctx, s.db, query, reference, at, jobID, domain.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to set payment reference: %w", err)
	}

	return ok, nil
}

// CreatePayment inserts the payment row unless one already exists for the
// same gateway reference.
func (s *Storage) CreatePayment(ctx context.Context, payment *domain.Payment) (bool, error) {
	query := s.q(`
		INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (reference) DO NOTHING
	`)

	ok, err := exec(ctx, s.db, query,
		payment.ID, payment.JobID, payment.CustomerID, payment.ProviderID,
		payment.Amount, payment.TipAmount, payment.Currency, payment.Status,
		payment.Method, payment.Channel, payment.Reference, payment.FailureReason,
		payment.ProcessedAt, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create payment: %w", err)
	}

	return ok, nil
}

func (s *Storage) GetPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	var payment domain.Payment
	query := s.q(`SELECT ` + paymentColumns + ` FROM payments WHERE reference = ?`)

	if err := s.db.GetContext(ctx, &payment, query, reference); err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", notFound(err, domain.ErrPaymentNotFound))
	}

	return &payment, nil
}

// CompletePayment applies a successful charge. The job update only matches
// while payment_status is still pending, so of any number of concurrent
// callers exactly one gets true; the rest observe a no-op.
func (s *Storage) CompletePayment(ctx context.Context, c domain.PaymentCompletion) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ok, err := exec(ctx, tx, tx.Rebind(`
		UPDATE jobs
		SET payment_status = ?, payment_paid_amount = ?,
		    payment_reference = COALESCE(payment_reference, ?),
		    payment_completed_at = ?, final_paid = TRUE, updated_at = ?
		WHERE id = ? AND payment_status = ?
	`),
		domain.PaymentStatusCompleted, c.Amount,
		c.Reference,
		c.CompletedAt, c.CompletedAt,
		c.JobID, domain.PaymentStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete job payment: %w", err)
	}

	if !ok {
		s.logger.Info("Payment already completed, skipping",
			slog.String("job_id", c.JobID),
			slog.String("reference", c.Reference),
		)
		return false, nil
	}

	var job struct {
		CustomerID    string          `db:"customer_id"`
		ProviderID    string          `db:"provider_id"`
		PaymentMethod *string         `db:"payment_method"`
		TipAmount     decimal.Decimal `db:"tip_amount"`
	}
	if err := tx.GetContext(ctx, &job, tx.Rebind(`
		SELECT customer_id, provider_id, payment_method, tip_amount
		FROM jobs WHERE id = ?
	`), c.JobID); err != nil {
		return false, fmt.Errorf("failed to load job for payment: %w", err)
	}

	method := c.Method
	if method == "" && job.PaymentMethod != nil {
		method = *job.PaymentMethod
	}

	var channel *string
	if c.Channel != "" {
		channel = &c.Channel
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)
		ON CONFLICT (reference) DO UPDATE
		SET status = excluded.status,
		    amount = excluded.amount,
		    channel = excluded.channel,
		    failure_reason = NULL,
		    processed_at = excluded.processed_at,
		    updated_at = excluded.updated_at
	`),
		uuid.NewString(), c.JobID, job.CustomerID, job.ProviderID,
		c.Amount, job.TipAmount, c.Currency, domain.PaymentStatusCompleted,
		method, channel, c.Reference,
		c.CompletedAt, c.CompletedAt, c.CompletedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Payment completed",
		slog.String("job_id", c.JobID),
		slog.String("reference", c.Reference),
		slog.String("amount", c.Amount.String()),
	)

	return true, nil
}

// RecordPaymentFailure stores failure diagnostics. A job whose payment has
// already completed is left untouched.
func (s *Storage) RecordPaymentFailure(ctx context.Context, f domain.PaymentFailure) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ok, err := exec(ctx, tx, tx.Rebind(`
		UPDATE jobs
		SET payment_last_error = ?, payment_last_attempt_at = ?, updated_at = ?
		WHERE id = ? AND payment_status <> ?
	`), f.Reason, f.At, f.At, f.JobID, domain.PaymentStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to record payment failure: %w", err)
	}

	if ok && f.Reference != "" {
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			UPDATE payments
			SET status = ?, failure_reason = ?, processed_at = ?, updated_at = ?
			WHERE reference = ? AND status = ?
		`), domain.PaymentStatusFailed, f.Reason, f.At, f.At, f.Reference, domain.PaymentStatusPending)
		if err != nil {
			return false, fmt.Errorf("failed to mark payment failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return ok, nil
}
