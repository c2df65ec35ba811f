// Package quote records a provider's one-time quote and the customer's
// decision on it.
package quote

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/shopspring/decimal"
)

type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	LockQuote(ctx context.Context, q domain.QuoteUpdate) (bool, error)
	RespondToQuote(ctx context.Context, jobID, customerID string, accepted bool, at time.Time) (bool, error)
}

// Quote is the provider's price for a job. Labor and materials are optional
// parts of Total; Breakdown is free-form line items.
type Quote struct {
	Total     decimal.Decimal
	Labor     *decimal.Decimal
	Materials *decimal.Decimal
	Breakdown json.RawMessage
}

type Config struct {
	// MaxTotal bounds the quote total. Zero means domain.MaxMoneyAmount.
	MaxTotal decimal.Decimal
}

type Service struct {
	store    Store
	maxTotal decimal.Decimal
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	maxTotal := cfg.MaxTotal
	if !maxTotal.IsPositive() || maxTotal.GreaterThan(domain.MaxMoneyAmount) {
		maxTotal = domain.MaxMoneyAmount
	}

	return &Service{
		store:    store,
		maxTotal: maxTotal,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (q Quote) validate(maxTotal decimal.Decimal) error {
	if !q.Total.IsPositive() {
		return domain.NewValidationError("total", "quote total must be greater than zero")
	}
	if q.Total.GreaterThan(maxTotal) {
		return domain.NewValidationError("total", "quote total must not exceed "+maxTotal.String())
	}

	parts := decimal.Zero
	for _, part := range []struct {
		name  string
		value *decimal.Decimal
	}{
		{name: "labor", value: q.Labor},
		{name: "materials", value: q.Materials},
	} {
		if part.value == nil {
			continue
		}
		if part.value.IsNegative() {
			return domain.NewValidationError(part.name, "quote "+part.name+" must not be negative")
		}
		parts = parts.Add(*part.value)
	}
	if parts.GreaterThan(q.Total) {
		return domain.NewValidationError("total", "labor and materials exceed the quote total")
	}

	if len(q.Breakdown) > 0 && !json.Valid(q.Breakdown) {
		return domain.NewValidationError("breakdown", "breakdown must be valid JSON")
	}
	return nil
}

// SubmitQuote writes the quote and locks it in one conditional update.
func (s *Service) SubmitQuote(ctx context.Context, providerID, jobID string, q Quote) (*domain.Job, error) {
	if err := q.validate(s.maxTotal); err != nil {
		return nil, err
	}

	update := domain.QuoteUpdate{
		JobID:       jobID,
		ProviderID:  providerID,
		Total:       q.Total,
		SubmittedAt: s.now(),
	}
	if q.Labor != nil {
		update.Labor = decimal.NewNullDecimal(*q.Labor)
	}
	if q.Materials != nil {
		update.Materials = decimal.NewNullDecimal(*q.Materials)
	}
	if len(q.Breakdown) > 0 {
		breakdown := string(q.Breakdown)
		update.Breakdown = &breakdown
	}

	ok, err := s.store.LockQuote(ctx, update)
	if err != nil {
		return nil, err
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !ok {
		switch {
		case job.ProviderID != providerID:
			return nil, domain.ErrNotJobParty
		case job.QuoteLocked:
			return nil, domain.ErrQuoteAlreadyLocked
		default:
			return nil, domain.ErrInvalidJobState
		}
	}

	return job, nil
}

// RespondToQuote accepts (job confirmed) or rejects (job cancelled) the quote.
func (s *Service) RespondToQuote(ctx context.Context, customerID, jobID string, accepted bool) (*domain.Job, error) {
	ok, err := s.store.RespondToQuote(ctx, jobID, customerID, accepted, s.now())
	if err != nil {
		return nil, err
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !ok {
		switch {
		case job.CustomerID != customerID:
			return nil, domain.ErrNotJobParty
		case !job.QuoteLocked:
			return nil, domain.ErrQuoteNotSubmitted
		case job.QuoteAccepted:
			return nil, domain.ErrQuoteAlreadyAccepted
		default:
			return nil, domain.ErrInvalidJobState
		}
	}

	s.logger.Info("Quote response recorded",
		slog.String("job_id", jobID),
		slog.Bool("accepted", accepted),
	)

	return job, nil
}
