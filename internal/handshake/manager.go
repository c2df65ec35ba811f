// Package handshake issues and verifies the one-time codes that prove both
// parties were present when work started and when it ended.
package handshake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/security"
	"github.com/shopspring/decimal"
)

// Store is the subset of storage the manager needs.
type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	SetHandshakeCode(ctx context.Context, issue domain.CodeIssue) (bool, error)
	ConsumeStartCode(ctx context.Context, attempt domain.CodeAttempt) (bool, error)
	ConsumeEndCode(ctx context.Context, attempt domain.CodeAttempt) (bool, error)
	SetFinalBilling(ctx context.Context, billing domain.FinalBilling, at time.Time) (bool, error)
}

type Config struct {
	CodeLength       int
	CodeTTL          time.Duration
	BillingIncrement time.Duration
}

func DefaultConfig() Config {
	return Config{
		CodeLength:       security.DefaultCodeLength,
		CodeTTL:          24 * time.Hour,
		BillingIncrement: 15 * time.Minute,
	}
}

// IssuedCode is returned exactly once to the customer. Only its hash is stored.
type IssuedCode struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EndResult describes a completed job. Billing is nil for fixed-price jobs.
type EndResult struct {
	JobID   string
	Billing *domain.FinalBilling
}

type Manager struct {
	store  Store
	hasher security.Hasher
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(store Store, hasher security.Hasher, cfg Config, logger *slog.Logger) *Manager {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = security.DefaultCodeLength
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 24 * time.Hour
	}
	if cfg.BillingIncrement <= 0 {
		cfg.BillingIncrement = 15 * time.Minute
	}

	return &Manager{
		store:  store,
		hasher: hasher,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) IssueStartCode(ctx context.Context, customerID, jobID string) (*IssuedCode, error) {
	return m.issue(ctx, customerID, jobID, domain.CodeKindStart)
}

func (m *Manager) IssueEndCode(ctx context.Context, customerID, jobID string) (*IssuedCode, error) {
	return m.issue(ctx, customerID, jobID, domain.CodeKindEnd)
}

func (m *Manager) issue(ctx context.Context, customerID, jobID, kind string) (*IssuedCode, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if err := issuePrecondition(job, customerID, kind); err != nil {
		return nil, err
	}

	code, err := security.GenerateCode(security.CodeAlphabet, m.cfg.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s code: %w", kind, err)
	}

	now := m.now()
	issue := domain.CodeIssue{
		JobID:      jobID,
		CustomerID: customerID,
		Kind:       kind,
		Hash:       security.HexDigest(m.hasher, code),
		IssuedAt:   now,
		ExpiresAt:  now.Add(m.cfg.CodeTTL),
	}

	ok, err := m.store.SetHandshakeCode(ctx, issue)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The job moved between the read and the write.
		return nil, domain.ErrInvalidJobState
	}

	m.logger.Info("Handshake code issued",
		slog.String("job_id", jobID),
		slog.String("kind", kind),
	)

	return &IssuedCode{Code: code, ExpiresAt: issue.ExpiresAt}, nil
}

func issuePrecondition(job *domain.Job, customerID, kind string) error {
	if job.CustomerID != customerID {
		return domain.ErrNotJobParty
	}

	switch kind {
	case domain.CodeKindStart:
		if !job.QuoteAccepted {
			return domain.ErrQuoteNotAccepted
		}
		if job.StartCodeUsed {
			return domain.ErrCodeAlreadyUsed
		}
		if job.Status != domain.JobStatusConfirmed {
			return domain.ErrInvalidJobState
		}
	case domain.CodeKindEnd:
		if !job.StartCodeUsed {
			return domain.ErrEndCodeBeforeStart
		}
		if job.EndCodeUsed {
			return domain.ErrCodeAlreadyUsed
		}
		if job.Status != domain.JobStatusInProgress {
			return domain.ErrInvalidJobState
		}
	}
	return nil
}

// VerifyStart consumes the start code and moves the job to in_progress.
func (m *Manager) VerifyStart(ctx context.Context, providerID, jobID, code string) error {
	attempt := domain.CodeAttempt{
		JobID:      jobID,
		ProviderID: providerID,
		Hash:       security.HexDigest(m.hasher, security.NormalizeCode(code)),
		At:         m.now(),
	}

	ok, err := m.store.ConsumeStartCode(ctx, attempt)
	if err != nil {
		return err
	}
	if !ok {
		return m.explain(ctx, attempt, domain.CodeKindStart)
	}

	m.logger.Info("Start code verified, job in progress", slog.String("job_id", jobID))
	return nil
}

// VerifyEnd consumes the end code, completes the job and settles time-based
// billing when the job was booked at an hourly rate.
func (m *Manager) VerifyEnd(ctx context.Context, providerID, jobID, code string) (*EndResult, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ProviderID != providerID {
		return nil, domain.ErrNotJobParty
	}
	if !job.StartCodeUsed {
		return nil, domain.ErrEndCodeBeforeStart
	}

	attempt := domain.CodeAttempt{
		JobID:      jobID,
		ProviderID: providerID,
		Hash:       security.HexDigest(m.hasher, security.NormalizeCode(code)),
		At:         m.now(),
	}

	ok, err := m.store.ConsumeEndCode(ctx, attempt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, m.explain(ctx, attempt, domain.CodeKindEnd)
	}

	m.logger.Info("End code verified, job completed", slog.String("job_id", jobID))

	result := &EndResult{JobID: jobID}
	billing, ok := ComputeFinalBilling(job, attempt.At, m.cfg.BillingIncrement)
	if !ok {
		return result, nil
	}

	stored, err := m.store.SetFinalBilling(ctx, billing, attempt.At)
	if err != nil {
		m.logger.Error("Failed to store final billing",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return result, nil
	}
	if stored {
		result.Billing = &billing
	}

	return result, nil
}

// explain re-reads the job after a failed conditional update and names
// the precondition that did not hold.
func (m *Manager) explain(ctx context.Context, attempt domain.CodeAttempt, kind string) error {
	job, err := m.store.GetJob(ctx, attempt.JobID)
	if err != nil {
		return err
	}
	if job.ProviderID != attempt.ProviderID {
		return domain.ErrNotJobParty
	}

	var (
		used      bool
		hash      *string
		expiresAt *time.Time
		status    string
	)
	switch kind {
	case domain.CodeKindStart:
		used, hash, expiresAt, status = job.StartCodeUsed, job.StartCodeHash, job.StartCodeExpiresAt, domain.JobStatusConfirmed
	default:
		if !job.StartCodeUsed {
			return domain.ErrEndCodeBeforeStart
		}
		used, hash, expiresAt, status = job.EndCodeUsed, job.EndCodeHash, job.EndCodeExpiresAt, domain.JobStatusInProgress
	}

	switch {
	case used:
		return domain.ErrCodeAlreadyUsed
	case job.Status != status:
		return domain.ErrInvalidJobState
	case hash == nil:
		return domain.ErrCodeNotIssued
	case expiresAt != nil && !expiresAt.After(attempt.At):
		return domain.ErrCodeExpired
	case *hash != attempt.Hash:
		m.logger.Warn("Handshake code mismatch",
			slog.String("job_id", attempt.JobID),
			slog.String("kind", kind),
		)
		return domain.ErrCodeMismatch
	default:
		return domain.ErrInvalidJobState
	}
}

var secondsPerHour = decimal.NewFromInt(3600)

// ComputeFinalBilling rounds the worked duration up to whole increments and
// bills max(hours x rate, minimum price), less a paid deposit. It reports
// false when the job carries no hourly rate or start time.
func ComputeFinalBilling(job *domain.Job, endedAt time.Time, increment time.Duration) (domain.FinalBilling, bool) {
	if !job.HourlyRateSnapshot.Valid || job.StartedAt == nil {
		return domain.FinalBilling{}, false
	}

	worked := endedAt.Sub(*job.StartedAt)
	if worked < 0 {
		worked = 0
	}

	increments := int64(worked / increment)
	if worked%increment != 0 || increments == 0 {
		increments++
	}
	billed := time.Duration(increments) * increment

	seconds := decimal.NewFromInt(int64(billed / time.Second))
	hours := seconds.Div(secondsPerHour).Round(2)
	total := seconds.Mul(job.HourlyRateSnapshot.Decimal).Div(secondsPerHour).Round(2)
	if total.LessThan(job.MinimumJobPrice) {
		total = job.MinimumJobPrice
	}

	due := total
	if job.DepositPaid {
		due = total.Sub(job.DepositAmount)
		if due.IsNegative() {
			due = decimal.Zero
		}
	}

	return domain.FinalBilling{
		JobID:                 job.ID,
		ActualDurationMinutes: int64(worked.Round(time.Minute) / time.Minute),
		FinalBilledHours:      hours,
		FinalTotalCost:        total,
		FinalAmountDue:        due,
	}, true
}
