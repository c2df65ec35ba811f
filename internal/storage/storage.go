package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/jmoiron/sqlx"
)

// Store is the full persistence surface of the payment core. Every state
// transition is a conditional write: the boolean results report whether
// this caller's write took effect.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetJobByPaymentReference(ctx context.Context, reference string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
	CancelJob(ctx context.Context, jobID, actorID string, at time.Time) (bool, error)

	LockQuote(ctx context.Context, q domain.QuoteUpdate) (bool, error)
	RespondToQuote(ctx context.Context, jobID, customerID string, accepted bool, at time.Time) (bool, error)

	SetHandshakeCode(ctx context.Context, issue domain.CodeIssue) (bool, error)
	ConsumeStartCode(ctx context.Context, attempt domain.CodeAttempt) (bool, error)
	ConsumeEndCode(ctx context.Context, attempt domain.CodeAttempt) (bool, error)
	SetFinalBilling(ctx context.Context, billing domain.FinalBilling, at time.Time) (bool, error)

	RecordPaymentIntent(ctx context.Context, intent domain.PaymentIntent) (bool, error)
	SetPaymentReference(ctx context.Context, jobID, reference string, at time.Time) (bool, error)
	CreatePayment(ctx context.Context, payment *domain.Payment) (bool, error)
	GetPaymentByReference(ctx context.Context, reference string) (*domain.Payment, error)
	CompletePayment(ctx context.Context, c domain.PaymentCompletion) (bool, error)
	RecordPaymentFailure(ctx context.Context, f domain.PaymentFailure) (bool, error)

	CreatePayoutIfAbsent(ctx context.Context, payout *domain.Payout) (bool, error)
	GetPayoutByJob(ctx context.Context, jobID string) (*domain.Payout, error)

	SavePayoutMethod(ctx context.Context, method *domain.PayoutMethod) error
	GetPayoutMethod(ctx context.Context, methodID string) (*domain.PayoutMethod, error)
	GetDefaultPayoutMethod(ctx context.Context, providerID string) (*domain.PayoutMethod, error)
	ListPayoutMethods(ctx context.Context, providerID string) ([]domain.PayoutMethod, error)
	SetDefaultPayoutMethod(ctx context.Context, providerID, methodID string, at time.Time) error
	SetPayoutMethodSubaccount(ctx context.Context, methodID, subaccountID string, at time.Time) (bool, error)

	InsertWebhookEvent(ctx context.Context, event *domain.WebhookEvent) (bool, error)
	GetWebhookEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error)
	MarkWebhookEventProcessed(ctx context.Context, eventID string, processingError *string, at time.Time) (bool, error)
}

var _ Store = (*Storage)(nil)

// Storage is the sqlx implementation of Store. Queries use '?' bind vars
// and are rebound for the driver in use.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

func (s *Storage) q(query string) string {
	return s.db.Rebind(query)
}

// exec runs a conditional write and reports whether any row changed.
func exec(ctx context.Context, ext sqlx.ExecerContext, query string, args ...any) (bool, error) {
	result, err := ext.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// notFound maps sql.ErrNoRows to the given domain error.
func notFound(err error, target *domain.Error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return target
	}
	return err
}
