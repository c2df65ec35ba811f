// Package payment validates a customer's payment request against the job
// and starts the gateway charge. It never moves payment_status; that is
// left to reconciliation once the gateway reports the outcome.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/gateway"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	RecordPaymentIntent(ctx context.Context, intent domain.PaymentIntent) (bool, error)
	SetPaymentReference(ctx context.Context, jobID, reference string, at time.Time) (bool, error)
	CreatePayment(ctx context.Context, payment *domain.Payment) (bool, error)
}

type Config struct {
	FeePercent decimal.Decimal
	// MaxTipRatio caps the tip as a share of the quote total.
	MaxTipRatio decimal.Decimal
	// DisputeTolerance is the shortfall below the quote accepted without a
	// reason. Zero means any shortfall needs one.
	DisputeTolerance decimal.Decimal
	DefaultCurrency  string
	// MaxAmount bounds amount plus tip. Zero means domain.MaxMoneyAmount.
	MaxAmount decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		FeePercent:       domain.DefaultPlatformFeePercent,
		MaxTipRatio:      decimal.RequireFromString("0.5"),
		DisputeTolerance: decimal.Zero,
		DefaultCurrency:  "KES",
		MaxAmount:        domain.MaxMoneyAmount,
	}
}

// Request is what the customer submits for a finished job.
type Request struct {
	Amount        decimal.Decimal
	Tip           decimal.Decimal
	Method        string
	PartialReason string
}

// Result is the fee split of an accepted request.
type Result struct {
	JobID              string          `json:"job_id"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	Tip                decimal.Decimal `json:"tip"`
	PlatformCommission decimal.Decimal `json:"platform_commission"`
	ProviderPayout     decimal.Decimal `json:"provider_payout"`
	ProviderTotal      decimal.Decimal `json:"provider_total"`
	ChargeAmount       decimal.Decimal `json:"charge_amount"`
	Method             string          `json:"method"`
	DisputeFlagged     bool            `json:"dispute_flagged"`
}

// CheckoutRequest is a Request plus what the gateway needs to charge.
type CheckoutRequest struct {
	Request
	Phone    string
	Email    string
	Currency string
}

type CheckoutResult struct {
	Result
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
	AccessCode       string `json:"access_code,omitempty"`
}

type Service struct {
	store   Store
	gateway gateway.Client
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(store Store, gw gateway.Client, cfg Config, logger *slog.Logger) *Service {
	if cfg.FeePercent.IsZero() {
		cfg.FeePercent = domain.DefaultPlatformFeePercent
	}
	if !cfg.MaxTipRatio.IsPositive() {
		cfg.MaxTipRatio = decimal.RequireFromString("0.5")
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "KES"
	}
	if !cfg.MaxAmount.IsPositive() || cfg.MaxAmount.GreaterThan(domain.MaxMoneyAmount) {
		cfg.MaxAmount = domain.MaxMoneyAmount
	}

	return &Service{
		store:   store,
		gateway: gw,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Submit validates req against the job and records it as the job's
// payment intent.
func (s *Service) Submit(ctx context.Context, customerID, jobID string, req Request) (*Result, error) {
	if req.Method == "" {
		req.Method = domain.PaymentMethodMobileMoney
	}
	if !domain.IsValidPaymentMethod(req.Method) {
		return nil, domain.NewValidationError("method", "unsupported payment method")
	}
	if !req.Amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "amount must be greater than zero")
	}
	if req.Tip.IsNegative() {
		return nil, domain.NewValidationError("tip", "tip must not be negative")
	}
	if req.Amount.Add(req.Tip).GreaterThan(s.cfg.MaxAmount) {
		return nil, domain.NewValidationError("amount", "amount plus tip must not exceed "+s.cfg.MaxAmount.String())
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.CustomerID != customerID {
		return nil, domain.ErrNotJobParty
	}

	flagged, err := s.check(job, req)
	if err != nil {
		s.logger.Warn("Payment request rejected",
			slog.String("job_id", jobID),
			slog.String("reason", err.Error()),
		)
		return nil, err
	}

	intent := domain.PaymentIntent{
		JobID:          jobID,
		CustomerID:     customerID,
		Amount:         req.Amount,
		Tip:            req.Tip,
		Method:         req.Method,
		DisputeFlagged: flagged,
		At:             s.now(),
	}
	if flagged {
		reason := strings.TrimSpace(req.PartialReason)
		intent.PartialPaymentReason = &reason
	}

	ok, err := s.store.RecordPaymentIntent(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("failed to record payment intent: %w", err)
	}
	if !ok {
		return nil, s.explain(ctx, jobID)
	}

	split := domain.ComputeSplit(req.Amount, req.Tip, s.cfg.FeePercent)

	s.logger.Info("Payment intent recorded",
		slog.String("job_id", jobID),
		slog.String("amount", req.Amount.String()),
		slog.String("tip", req.Tip.String()),
		slog.Bool("dispute_flagged", flagged),
	)

	return &Result{
		JobID:              jobID,
		Subtotal:           split.Subtotal,
		Tip:                split.Tip,
		PlatformCommission: split.PlatformCommission,
		ProviderPayout:     split.ProviderPayout,
		ProviderTotal:      split.ProviderTotal,
		ChargeAmount:       req.Amount.Add(req.Tip),
		Method:             req.Method,
		DisputeFlagged:     flagged,
	}, nil
}

// check applies the submission preconditions in order and reports whether
// the request must be flagged for dispute review.
func (s *Service) check(job *domain.Job, req Request) (bool, error) {
	if job.PaymentStatus == domain.PaymentStatusCompleted {
		return false, domain.ErrPaymentAlreadyCompleted
	}
	if !job.QuoteAccepted || !job.QuoteTotal.Valid {
		return false, domain.ErrQuoteNotAccepted
	}
	if !job.EndCodeUsed {
		return false, domain.ErrEndCodeNotVerified
	}
	if req.Amount.LessThan(job.MinimumJobPrice) {
		return false, domain.ErrAmountBelowMinimum.WithMessage(
			"payment amount %s is below the minimum job price %s", req.Amount, job.MinimumJobPrice)
	}

	quoteTotal := job.QuoteTotal.Decimal
	maxTip := quoteTotal.Mul(s.cfg.MaxTipRatio)
	if req.Tip.GreaterThan(maxTip) {
		return false, domain.ErrTipTooLarge.WithMessage("tip %s exceeds the allowed %s", req.Tip, maxTip)
	}

	shortfall := quoteTotal.Sub(req.Amount)
	if shortfall.IsPositive() && shortfall.GreaterThan(s.cfg.DisputeTolerance) {
		if strings.TrimSpace(req.PartialReason) == "" {
			return false, domain.ErrPartialReasonRequired
		}
		return true, nil
	}
	return false, nil
}

// explain re-reads the job after a lost conditional write.
func (s *Service) explain(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	switch {
	case job.PaymentStatus == domain.PaymentStatusCompleted:
		return domain.ErrPaymentAlreadyCompleted
	case !job.QuoteAccepted:
		return domain.ErrQuoteNotAccepted
	case !job.EndCodeUsed:
		return domain.ErrEndCodeNotVerified
	default:
		return domain.ErrInvalidJobState
	}
}

// Checkout submits the request and starts the gateway charge for the
// amount plus tip. The gateway reference is stored on the job and on a
// pending payment row so reconciliation can find both.
//
// The charge is validated before the intent is recorded, so a request the
// gateway would refuse leaves the job untouched.
func (s *Service) Checkout(ctx context.Context, customerID, jobID string, req CheckoutRequest) (*CheckoutResult, error) {
	currency := req.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	charge, err := s.gateway.Validate(gateway.InitiateRequest{
		JobID:    jobID,
		Email:    req.Email,
		Phone:    req.Phone,
		Amount:   req.Amount.Add(req.Tip),
		Currency: currency,
	})
	if err != nil {
		s.logger.Warn("Charge request rejected",
			slog.String("job_id", jobID),
			slog.String("reason", err.Error()),
		)
		return nil, err
	}
	currency = charge.Currency

	result, err := s.Submit(ctx, customerID, jobID, req.Request)
	if err != nil {
		return nil, err
	}

	initiated, err := s.gateway.Initiate(ctx, charge)
	if err != nil {
		s.logger.Error("Failed to initiate charge",
			slog.String("job_id", jobID),
			slog.String("kind", domain.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	now := s.now()
	ok, err := s.store.SetPaymentReference(ctx, jobID, initiated.Reference, now)
	if err != nil {
		return nil, fmt.Errorf("failed to store payment reference: %w", err)
	}
	if !ok {
		// A completion raced the initiation. The charge is not lost: the
		// webhook still carries the job id.
		s.logger.Warn("Payment reference not stored, job no longer pending",
			slog.String("job_id", jobID),
			slog.String("reference", initiated.Reference),
		)
	}

	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	created, err := s.store.CreatePayment(ctx, &domain.Payment{
		ID:         uuid.NewString(),
		JobID:      jobID,
		CustomerID: customerID,
		ProviderID: job.ProviderID,
		Amount:     result.ChargeAmount,
		TipAmount:  result.Tip,
		Currency:   currency,
		Status:     domain.PaymentStatusPending,
		Method:     result.Method,
		Reference:  initiated.Reference,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	if !created {
		s.logger.Info("Payment row already exists", slog.String("reference", initiated.Reference))
	}

	s.logger.Info("Charge initiated",
		slog.String("job_id", jobID),
		slog.String("reference", initiated.Reference),
		slog.String("amount", result.ChargeAmount.String()),
		slog.String("currency", currency),
	)

	return &CheckoutResult{
		Result:           *result,
		Reference:        initiated.Reference,
		AuthorizationURL: initiated.AuthorizationURL,
		AccessCode:       initiated.AccessCode,
	}, nil
}
