package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
)

const jobColumns = `
	id, customer_id, provider_id, description, status,
	quote_total, quote_labor, quote_materials, quote_breakdown,
	quote_locked, quote_accepted, quote_submitted_at, quote_responded_at,
	start_code_hash, start_code_expires_at, start_code_used,
	end_code_hash, end_code_expires_at, end_code_used,
	started_at, completed_at, cancelled_at,
	payment_status, payment_amount, tip_amount, payment_method, payment_reference,
	payment_paid_amount, payment_completed_at, payment_last_error, payment_last_attempt_at,
	dispute_flagged, partial_payment_reason,
	hourly_rate_snapshot, minimum_job_price, deposit_amount, deposit_paid,
	actual_duration_minutes, final_billed_hours, final_total_cost, final_amount_due, final_paid,
	created_at, updated_at`

func (s *Storage) CreateJob(ctx context.Context, job *domain.Job) error {
	query := s.q(`
		INSERT INTO jobs (
			id, customer_id, provider_id, description, status, payment_status,
			hourly_rate_snapshot, minimum_job_price, deposit_amount, deposit_paid,
			tip_amount, created_at, updated_at
		) VALUES (
			?, ?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?
		)
	`)

	_, err := s.db.ExecContext(ctx, query,
		job.ID, job.CustomerID, job.ProviderID, job.Description, job.Status, job.PaymentStatus,
		job.HourlyRateSnapshot, job.MinimumJobPrice, job.DepositAmount, job.DepositPaid,
		job.TipAmount, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := s.q(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)

	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to get job: %w", notFound(err, domain.ErrJobNotFound))
	}

	return &job, nil
}

// GetJobByPaymentReference finds the job a gateway reference was issued for.
func (s *Storage) GetJobByPaymentReference(ctx context.Context, reference string) (*domain.Job, error) {
	var job domain.Job
	query := s.q(`
		SELECT ` + jobColumns + ` FROM jobs
		WHERE payment_reference = ?
		   OR id IN (SELECT job_id FROM payments WHERE reference = ?)
		LIMIT 1
	`)

	if err := s.db.GetContext(ctx, &job, query, reference, reference); err != nil {
		return nil, fmt.Errorf("failed to get job by reference: %w", notFound(err, domain.ErrJobNotFound))
	}

	return &job, nil
}

func (s *Storage) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}

	if filter.CustomerID != "" {
		query += " AND customer_id = ?"
		args = append(args, filter.CustomerID)
	}

	if filter.ProviderID != "" {
		query += " AND provider_id = ?"
		args = append(args, filter.ProviderID)
	}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.Cursor != nil {
		query += " AND (created_at, id) < (?, ?)"
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
	}

	// Order by created_at DESC, id DESC for consistent pagination
	query += " ORDER BY created_at DESC, id DESC"

	// Fetch one extra to determine if there are more results
	query += " LIMIT ?"
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

func (s *Storage) CancelJob(ctx context.Context, jobID, actorID string, at time.Time) (bool, error) {
	query := s.q(`
		UPDATE jobs
		SET status = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ?
		  AND (customer_id = ? OR provider_id = ?)
		  AND status IN (?, ?)
	`)

	ok, err := exec(ctx, s.db, query,
		domain.JobStatusCancelled, at, at,
		jobID, actorID, actorID,
		domain.JobStatusPending, domain.JobStatusConfirmed,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}

	return ok, nil
}

// LockQuote writes the quote and locks it in the same statement.
func (s *Storage) LockQuote(ctx context.Context, q domain.QuoteUpdate) (bool, error) {
	query := s.q(`
		UPDATE jobs
		SET quote_total = ?, quote_labor = ?, quote_materials = ?, quote_breakdown = ?,
		    quote_locked = TRUE, quote_submitted_at = ?, updated_at = ?
		WHERE id = ?
		  AND provider_id = ?
		  AND quote_locked = FALSE
		  AND status IN (?, ?)
	`)

	ok, err := exec(ctx, s.db, query,
		q.Total, q.Labor, q.Materials, q.Breakdown,
		q.SubmittedAt, q.SubmittedAt,
		q.JobID, q.ProviderID,
		domain.JobStatusPending, domain.JobStatusConfirmed,
	)
	if err != nil {
		return false, fmt.Errorf("failed to lock quote: %w", err)
	}

	if ok {
		s.logger.Info("Quote locked",
			slog.String("job_id", q.JobID),
			slog.String("total", q.Total.String()),
		)
	}

	return ok, nil
}

func (s *Storage) RespondToQuote(ctx context.Context, jobID, customerID string, accepted bool, at time.Time) (bool, error) {
	var query string
	var args []any
	if accepted {
		query = `
			UPDATE jobs
			SET quote_accepted = TRUE, status = ?, quote_responded_at = ?, updated_at = ?
			WHERE id = ? AND customer_id = ?
			  AND quote_locked = TRUE AND quote_accepted = FALSE
			  AND status IN (?, ?)
		`
		args = []any{domain.JobStatusConfirmed, at, at}
	} else {
		query = `
			UPDATE jobs
			SET status = ?, cancelled_at = ?, quote_responded_at = ?, updated_at = ?
			WHERE id = ? AND customer_id = ?
			  AND quote_locked = TRUE AND quote_accepted = FALSE
			  AND status IN (?, ?)
		`
		args = []any{domain.JobStatusCancelled, at, at, at}
	}
	args = append(args, jobID, customerID, domain.JobStatusPending, domain.JobStatusConfirmed)

	ok, err := exec(ctx, s.db, s.q(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to respond to quote: %w", err)
	}

	return ok, nil
}

// SetHandshakeCode stores the hash of a newly issued code. Re-issuing an
// unused code replaces it.
func (s *Storage) SetHandshakeCode(ctx context.Context, issue domain.CodeIssue) (bool, error) {
	var query string
	var args []any

	switch issue.Kind {
	case domain.CodeKindStart:
		query = `
			UPDATE jobs
			SET start_code_hash = ?, start_code_expires_at = ?, updated_at = ?
			WHERE id = ? AND customer_id = ?
			  AND status = ? AND quote_accepted = TRUE AND start_code_used = FALSE
		`
		args = []any{issue.Hash, issue.ExpiresAt, issue.IssuedAt, issue.JobID, issue.CustomerID, domain.JobStatusConfirmed}
	case domain.CodeKindEnd:
		query = `
			UPDATE jobs
			SET end_code_hash = ?, end_code_expires_at = ?, updated_at = ?
			WHERE id = ? AND customer_id = ?
			  AND status = ? AND start_code_used = TRUE AND end_code_used = FALSE
		`
		args = []any{issue.Hash, issue.ExpiresAt, issue.IssuedAt, issue.JobID, issue.CustomerID, domain.JobStatusInProgress}
	default:
		return false, fmt.Errorf("unknown code kind %q", issue.Kind)
	}

	ok, err := exec(ctx, s.db, s.q(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to set %s code: %w", issue.Kind, err)
	}

	return ok, nil
}

func (s *Storage) ConsumeStartCode(ctx context.Context, attempt domain.CodeAttempt) (bool, error) {
	query := s.q(`
		UPDATE jobs
		SET start_code_used = TRUE, status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND provider_id = ?
		  AND status = ?
		  AND start_code_used = FALSE
		  AND start_code_hash = ?
		  AND start_code_expires_at > ?
	`)

	ok, err := exec(ctx, s.db, query,
		domain.JobStatusInProgress, attempt.At, attempt.At,
		attempt.JobID, attempt.ProviderID,
		domain.JobStatusConfirmed,
		attempt.Hash,
		attempt.At,
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume start code: %w", err)
	}

	return ok, nil
}

func (s *Storage) ConsumeEndCode(ctx context.Context, attempt domain.CodeAttempt) (bool, error) {
	query := s.q(`
		UPDATE jobs
		SET end_code_used = TRUE, status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND provider_id = ?
		  AND status = ?
		  AND start_code_used = TRUE
		  AND end_code_used = FALSE
		  AND end_code_hash = ?
		  AND end_code_expires_at > ?
	`)

	ok, err := exec(ctx, s.db, query,
		domain.JobStatusCompleted, attempt.At, attempt.At,
		attempt.JobID, attempt.ProviderID,
		domain.JobStatusInProgress,
		attempt.Hash,
		attempt.At,
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume end code: %w", err)
	}

	return ok, nil
}

func (s *Storage) SetFinalBilling(ctx context.Context, billing domain.FinalBilling, at time.Time) (bool, error) {
	query := s.q(`
		UPDATE jobs
		SET actual_duration_minutes = ?, final_billed_hours = ?,
		    final_total_cost = ?, final_amount_due = ?, updated_at = ?
		WHERE id = ? AND end_code_used = TRUE AND final_total_cost IS NULL
	`)

	ok, err := exec(ctx, s.db, query,
		billing.ActualDurationMinutes, billing.FinalBilledHours,
		billing.FinalTotalCost, billing.FinalAmountDue, at,
		billing.JobID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set final billing: %w", err)
	}

	return ok, nil
}
