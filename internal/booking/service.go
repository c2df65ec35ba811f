// Package booking creates jobs and serves them back to the two parties
// involved.
package booking

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Store interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error)
	CancelJob(ctx context.Context, jobID, actorID string, at time.Time) (bool, error)
}

// Booking is a customer's request for work by a provider, with the
// provider's pricing captured at booking time.
type Booking struct {
	CustomerID      string
	ProviderID      string
	Description     string
	HourlyRate      *decimal.Decimal
	MinimumJobPrice decimal.Decimal
	DepositAmount   decimal.Decimal
}

// Page is one slice of a job listing. HasMore is set when another page follows.
type Page struct {
	Jobs    []domain.Job
	HasMore bool
}

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (b Booking) validate() error {
	switch {
	case strings.TrimSpace(b.CustomerID) == "":
		return domain.NewValidationError("customer_id", "customer is required")
	case strings.TrimSpace(b.ProviderID) == "":
		return domain.NewValidationError("provider_id", "provider is required")
	case b.CustomerID == b.ProviderID:
		return domain.NewValidationError("provider_id", "customer and provider must differ")
	case b.MinimumJobPrice.IsNegative():
		return domain.NewValidationError("minimum_job_price", "minimum job price must not be negative")
	case b.DepositAmount.IsNegative():
		return domain.NewValidationError("deposit_amount", "deposit must not be negative")
	case b.HourlyRate != nil && !b.HourlyRate.IsPositive():
		return domain.NewValidationError("hourly_rate", "hourly rate must be greater than zero")
	case b.MinimumJobPrice.GreaterThan(domain.MaxMoneyAmount):
		return domain.NewValidationError("minimum_job_price", "minimum job price is too large")
	case b.DepositAmount.GreaterThan(domain.MaxMoneyAmount):
		return domain.NewValidationError("deposit_amount", "deposit is too large")
	case b.HourlyRate != nil && b.HourlyRate.GreaterThan(domain.MaxMoneyAmount):
		return domain.NewValidationError("hourly_rate", "hourly rate is too large")
	}
	return nil
}

// Create stores a new pending job.
func (s *Service) Create(ctx context.Context, b Booking) (*domain.Job, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	job := &domain.Job{
		ID:              uuid.NewString(),
		CustomerID:      b.CustomerID,
		ProviderID:      b.ProviderID,
		Description:     strings.TrimSpace(b.Description),
		Status:          domain.JobStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		MinimumJobPrice: b.MinimumJobPrice,
		DepositAmount:   b.DepositAmount,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if b.HourlyRate != nil {
		job.HourlyRateSnapshot = decimal.NewNullDecimal(*b.HourlyRate)
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("Job booked",
		slog.String("job_id", job.ID),
		slog.String("customer_id", job.CustomerID),
		slog.String("provider_id", job.ProviderID),
	)

	return job, nil
}

// Get returns the job if actorID is one of its parties.
func (s *Service) Get(ctx context.Context, actorID, jobID string) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsParty(actorID) {
		return nil, domain.ErrNotJobParty
	}
	return job, nil
}

// List returns the actor's jobs newest first. The filter must name the
// actor as customer or provider.
func (s *Service) List(ctx context.Context, actorID string, filter domain.JobFilter) (*Page, error) {
	if filter.CustomerID == "" && filter.ProviderID == "" {
		return nil, domain.NewValidationError("filter", "customer_id or provider_id is required")
	}
	if (filter.CustomerID != "" && filter.CustomerID != actorID) ||
		(filter.ProviderID != "" && filter.ProviderID != actorID) {
		return nil, domain.ErrNotJobParty
	}

	switch {
	case filter.PageSize <= 0:
		filter.PageSize = DefaultPageSize
	case filter.PageSize > MaxPageSize:
		filter.PageSize = MaxPageSize
	}

	jobs, err := s.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := &Page{Jobs: jobs}
	if len(jobs) > filter.PageSize {
		page.Jobs = jobs[:filter.PageSize]
		page.HasMore = true
	}
	return page, nil
}

// Cancel moves a pending or confirmed job to cancelled.
func (s *Service) Cancel(ctx context.Context, actorID, jobID string) (*domain.Job, error) {
	ok, err := s.store.CancelJob(ctx, jobID, actorID, s.now())
	if err != nil {
		return nil, err
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !ok {
		if !job.IsParty(actorID) {
			return nil, domain.ErrNotJobParty
		}
		return nil, domain.ErrInvalidJobState.WithMessage("job cannot be cancelled while %s", job.Status)
	}

	s.logger.Info("Job cancelled",
		slog.String("job_id", jobID),
		slog.String("actor_id", actorID),
	)

	return job, nil
}
