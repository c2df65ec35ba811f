// Package memory is an in-process Store with the same conditional-write
// semantics as the SQL store. It backs service tests and the "memory"
// database driver used for local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var _ storage.Store = (*Store)(nil)

type Store struct {
	mu            sync.Mutex
	jobs          map[string]domain.Job
	payments      map[string]domain.Payment // by reference
	payouts       map[string]domain.Payout  // by job id
	payoutMethods map[string]domain.PayoutMethod
	events        map[string]domain.WebhookEvent
}

func New() *Store {
	return &Store{
		jobs:          make(map[string]domain.Job),
		payments:      make(map[string]domain.Payment),
		payouts:       make(map[string]domain.Payout),
		payoutMethods: make(map[string]domain.PayoutMethod),
		events:        make(map[string]domain.WebhookEvent),
	}
}

func ptr[T any](v T) *T { return &v }

func (s *Store) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("failed to create job: duplicate id %s", job.ID)
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (s *Store) GetJobByPaymentReference(_ context.Context, reference string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.PaymentReference != nil && *job.PaymentReference == reference {
			return &job, nil
		}
	}
	if payment, ok := s.payments[reference]; ok {
		if job, ok := s.jobs[payment.JobID]; ok {
			return &job, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (s *Store) ListJobs(_ context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := []domain.Job{}
	for _, job := range s.jobs {
		if filter.CustomerID != "" && job.CustomerID != filter.CustomerID {
			continue
		}
		if filter.ProviderID != "" && job.ProviderID != filter.ProviderID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if c := filter.Cursor; c != nil {
			if job.CreatedAt.After(c.CreatedAt) || (job.CreatedAt.Equal(c.CreatedAt) && job.ID >= c.JobID) {
				continue
			}
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})

	if limit := filter.PageSize + 1; len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// update applies fn to the job when cond holds, reporting whether it did.
func (s *Store) update(jobID string, cond func(*domain.Job) bool, fn func(*domain.Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || !cond(&job) {
		return false
	}
	fn(&job)
	s.jobs[jobID] = job
	return true
}

func (s *Store) CancelJob(_ context.Context, jobID, actorID string, at time.Time) (bool, error) {
	return s.update(jobID,
		func(j *domain.Job) bool {
			return j.IsParty(actorID) && (j.Status == domain.JobStatusPending || j.Status == domain.JobStatusConfirmed)
		},
		func(j *domain.Job) {
			j.Status = domain.JobStatusCancelled
			j.CancelledAt = ptr(at)
			j.UpdatedAt = at
		},
	), nil
}

func (s *Store) LockQuote(_ context.Context, q domain.QuoteUpdate) (bool, error) {
	return s.update(q.JobID,
		func(j *domain.Job) bool {
			return j.ProviderID == q.ProviderID && !j.QuoteLocked &&
				(j.Status == domain.JobStatusPending || j.Status == domain.JobStatusConfirmed)
		},
		func(j *domain.Job) {
			j.QuoteTotal = decimal.NewNullDecimal(q.Total)
			j.QuoteLabor = q.Labor
			j.QuoteMaterials = q.Materials
			j.QuoteBreakdown = q.Breakdown
			j.QuoteLocked = true
			j.QuoteSubmittedAt = ptr(q.SubmittedAt)
			j.UpdatedAt = q.SubmittedAt
		},
	), nil
}

func (s *Store) RespondToQuote(_ context.Context, jobID, customerID string, accepted bool, at time.Time) (bool, error) {
	return s.update(jobID,
		func(j *domain.Job) bool {
			return j.CustomerID == customerID && j.QuoteLocked && !j.QuoteAccepted &&
				(j.Status == domain.JobStatusPending || j.Status == domain.JobStatusConfirmed)
		},
		func(j *domain.Job) {
			if accepted {
				j.QuoteAccepted = true
				j.Status = domain.JobStatusConfirmed
			} else {
				j.Status = domain.JobStatusCancelled
				j.CancelledAt = ptr(at)
			}
			j.QuoteRespondedAt = ptr(at)
			j.UpdatedAt = at
		},
	), nil
}

func (s *Store) SetHandshakeCode(_ context.Context, issue domain.CodeIssue) (bool, error) {
	switch issue.Kind {
	case domain.CodeKindStart:
		return s.update(issue.JobID,
			func(j *domain.Job) bool {
				return j.CustomerID == issue.CustomerID && j.Status == domain.JobStatusConfirmed &&
					j.QuoteAccepted && !j.StartCodeUsed
			},
			func(j *domain.Job) {
				j.StartCodeHash = ptr(issue.Hash)
				j.StartCodeExpiresAt = ptr(issue.ExpiresAt)
				j.UpdatedAt = issue.IssuedAt
			},
		), nil
	case domain.CodeKindEnd:
		return s.update(issue.JobID,
			func(j *domain.Job) bool {
				return j.CustomerID == issue.CustomerID && j.Status == domain.JobStatusInProgress &&
					j.StartCodeUsed && !j.EndCodeUsed
			},
			func(j *domain.Job) {
				j.EndCodeHash = ptr(issue.Hash)
				j.EndCodeExpiresAt = ptr(issue.ExpiresAt)
				j.UpdatedAt = issue.IssuedAt
			},
		), nil
	default:
		return false, fmt.Errorf("unknown code kind %q", issue.Kind)
	}
}

func codeMatches(hash *string, expiresAt *time.Time, attempt domain.CodeAttempt) bool {
	return hash != nil && *hash == attempt.Hash && expiresAt != nil && expiresAt.After(attempt.At)
}

func (s *Store) ConsumeStartCode(_ context.Context, attempt domain.CodeAttempt) (bool, error) {
	return s.update(attempt.JobID,
		func(j *domain.Job) bool {
			return j.ProviderID == attempt.ProviderID && j.Status == domain.JobStatusConfirmed &&
				!j.StartCodeUsed && codeMatches(j.StartCodeHash, j.StartCodeExpiresAt, attempt)
		},
		func(j *domain.Job) {
			j.StartCodeUsed = true
			j.Status = domain.JobStatusInProgress
			j.StartedAt = ptr(attempt.At)
			j.UpdatedAt = attempt.At
		},
	), nil
}

func (s *Store) ConsumeEndCode(_ context.Context, attempt domain.CodeAttempt) (bool, error) {
	return s.update(attempt.JobID,
		func(j *domain.Job) bool {
			return j.ProviderID == attempt.ProviderID && j.Status == domain.JobStatusInProgress &&
				j.StartCodeUsed && !j.EndCodeUsed && codeMatches(j.EndCodeHash, j.EndCodeExpiresAt, attempt)
		},
		func(j *domain.Job) {
			j.EndCodeUsed = true
			j.Status = domain.JobStatusCompleted
			j.CompletedAt = ptr(attempt.At)
			j.UpdatedAt = attempt.At
		},
	), nil
}

func (s *Store) SetFinalBilling(_ context.Context, billing domain.FinalBilling, at time.Time) (bool, error) {
	return s.update(billing.JobID,
		func(j *domain.Job) bool { return j.EndCodeUsed && !j.FinalTotalCost.Valid },
		func(j *domain.Job) {
			j.ActualDurationMinutes = ptr(billing.ActualDurationMinutes)
			j.FinalBilledHours = decimal.NewNullDecimal(billing.FinalBilledHours)
			j.FinalTotalCost = decimal.NewNullDecimal(billing.FinalTotalCost)
			j.FinalAmountDue = decimal.NewNullDecimal(billing.FinalAmountDue)
			j.UpdatedAt = at
		},
	), nil
}

func (s *Store) RecordPaymentIntent(_ context.Context, intent domain.PaymentIntent) (bool, error) {
	return s.update(intent.JobID,
		func(j *domain.Job) bool {
			return j.CustomerID == intent.CustomerID && j.QuoteAccepted && j.EndCodeUsed &&
				j.PaymentStatus == domain.PaymentStatusPending
		},
		func(j *domain.Job) {
			j.PaymentAmount = decimal.NewNullDecimal(intent.Amount)
			j.TipAmount = intent.Tip
			j.PaymentMethod = ptr(intent.Method)
			j.DisputeFlagged = intent.DisputeFlagged
			j.PartialPaymentReason = intent.PartialPaymentReason
			j.PaymentLastAttemptAt = ptr(intent.At)
			j.UpdatedAt = intent.At
		},
	), nil
}

func (s *Store) SetPaymentReference(_ context.Context, jobID, reference string, at time.Time) (bool, error) {
	return s.update(jobID,
		func(j *domain.Job) bool { return j.PaymentStatus == domain.PaymentStatusPending },
		func(j *domain.Job) {
			j.PaymentReference = ptr(reference)
			j.UpdatedAt = at
		},
	), nil
}

func (s *Store) CreatePayment(_ context.Context, payment *domain.Payment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[payment.Reference]; exists {
		return false, nil
	}
	s.payments[payment.Reference] = *payment
	return true, nil
}

func (s *Store) GetPaymentByReference(_ context.Context, reference string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[reference]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	return &payment, nil
}

func (s *Store) CompletePayment(_ context.Context, c domain.PaymentCompletion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[c.JobID]
	if !ok || job.PaymentStatus != domain.PaymentStatusPending {
		return false, nil
	}

	job.PaymentStatus = domain.PaymentStatusCompleted
	job.PaymentPaidAmount = decimal.NewNullDecimal(c.Amount)
	if job.PaymentReference == nil {
		job.PaymentReference = ptr(c.Reference)
	}
	job.PaymentCompletedAt = ptr(c.CompletedAt)
	job.FinalPaid = true
	job.UpdatedAt = c.CompletedAt
	s.jobs[c.JobID] = job

	method := c.Method
	if method == "" && job.PaymentMethod != nil {
		method = *job.PaymentMethod
	}
	var channel *string
	if c.Channel != "" {
		channel = ptr(c.Channel)
	}

	payment, exists := s.payments[c.Reference]
	if !exists {
		payment = domain.Payment{
			ID:         uuid.NewString(),
			JobID:      c.JobID,
			CustomerID: job.CustomerID,
			ProviderID: job.ProviderID,
			TipAmount:  job.TipAmount,
			Currency:   c.Currency,
			Method:     method,
			Reference:  c.Reference,
			CreatedAt:  c.CompletedAt,
		}
	}
	payment.Amount = c.Amount
	payment.Status = domain.PaymentStatusCompleted
	payment.Channel = channel
	payment.FailureReason = nil
	payment.ProcessedAt = ptr(c.CompletedAt)
	payment.UpdatedAt = c.CompletedAt
	s.payments[c.Reference] = payment

	return true, nil
}

func (s *Store) RecordPaymentFailure(_ context.Context, f domain.PaymentFailure) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[f.JobID]
	if !ok || job.PaymentStatus == domain.PaymentStatusCompleted {
		return false, nil
	}

	job.PaymentLastError = ptr(f.Reason)
	job.PaymentLastAttemptAt = ptr(f.At)
	job.UpdatedAt = f.At
	s.jobs[f.JobID] = job

	if payment, ok := s.payments[f.Reference]; ok && payment.Status == domain.PaymentStatusPending {
		payment.Status = domain.PaymentStatusFailed
		payment.FailureReason = ptr(f.Reason)
		payment.ProcessedAt = ptr(f.At)
		payment.UpdatedAt = f.At
		s.payments[f.Reference] = payment
	}

	return true, nil
}

func (s *Store) CreatePayoutIfAbsent(_ context.Context, payout *domain.Payout) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payouts[payout.JobID]; exists {
		return false, nil
	}
	s.payouts[payout.JobID] = *payout
	return true, nil
}

func (s *Store) GetPayoutByJob(_ context.Context, jobID string) (*domain.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payout, ok := s.payouts[jobID]
	if !ok {
		return nil, domain.ErrPayoutNotFound
	}
	return &payout, nil
}

// PayoutCount returns the number of payouts recorded. Tests use it to
// assert at-most-once payout creation.
func (s *Store) PayoutCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payouts)
}

func (s *Store) unsetDefault(providerID, exceptID string, at time.Time) {
	for id, m := range s.payoutMethods {
		if m.ProviderID == providerID && m.IsDefault && id != exceptID {
			m.IsDefault = false
			m.UpdatedAt = at
			s.payoutMethods[id] = m
		}
	}
}

func (s *Store) SavePayoutMethod(_ context.Context, method *domain.PayoutMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payoutMethods[method.ID]; exists {
		return fmt.Errorf("failed to insert payout method: duplicate id %s", method.ID)
	}
	if method.IsDefault {
		s.unsetDefault(method.ProviderID, method.ID, method.UpdatedAt)
	}
	s.payoutMethods[method.ID] = *method
	return nil
}

func (s *Store) GetPayoutMethod(_ context.Context, methodID string) (*domain.PayoutMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	method, ok := s.payoutMethods[methodID]
	if !ok {
		return nil, domain.ErrPayoutMethodNotFound
	}
	return &method, nil
}

func (s *Store) GetDefaultPayoutMethod(_ context.Context, providerID string) (*domain.PayoutMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.payoutMethods {
		if m.ProviderID == providerID && m.IsDefault {
			return &m, nil
		}
	}
	return nil, domain.ErrPayoutMethodNotFound
}

func (s *Store) ListPayoutMethods(_ context.Context, providerID string) ([]domain.PayoutMethod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	methods := []domain.PayoutMethod{}
	for _, m := range s.payoutMethods {
		if m.ProviderID == providerID {
			methods = append(methods, m)
		}
	}

	sort.Slice(methods, func(i, j int) bool {
		if methods[i].IsDefault != methods[j].IsDefault {
			return methods[i].IsDefault
		}
		if !methods[i].CreatedAt.Equal(methods[j].CreatedAt) {
			return methods[i].CreatedAt.After(methods[j].CreatedAt)
		}
		return methods[i].ID > methods[j].ID
	})
	return methods, nil
}

func (s *Store) SetDefaultPayoutMethod(_ context.Context, providerID, methodID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	method, ok := s.payoutMethods[methodID]
	if !ok || method.ProviderID != providerID {
		return domain.ErrPayoutMethodNotFound
	}

	s.unsetDefault(providerID, methodID, at)
	method.IsDefault = true
	method.UpdatedAt = at
	s.payoutMethods[methodID] = method
	return nil
}

func (s *Store) SetPayoutMethodSubaccount(_ context.Context, methodID, subaccountID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	method, ok := s.payoutMethods[methodID]
	if !ok || method.SubaccountID != nil {
		return false, nil
	}
	method.SubaccountID = ptr(subaccountID)
	method.UpdatedAt = at
	s.payoutMethods[methodID] = method
	return true, nil
}

func (s *Store) InsertWebhookEvent(_ context.Context, event *domain.WebhookEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.EventID]; exists {
		return false, nil
	}
	s.events[event.EventID] = *event
	return true, nil
}

func (s *Store) GetWebhookEvent(_ context.Context, eventID string) (*domain.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[eventID]
	if !ok {
		return nil, domain.ErrWebhookEventNotFound
	}
	return &event, nil
}

func (s *Store) MarkWebhookEventProcessed(_ context.Context, eventID string, processingError *string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[eventID]
	if !ok || event.Processed {
		return false, nil
	}
	event.Processed = true
	event.ProcessingError = processingError
	event.ProcessedAt = ptr(at)
	s.events[eventID] = event
	return true, nil
}
