// Package payout turns a completed payment into the provider's payout and
// manages the provider's payout destinations.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/gateway"
	"github.com/cuongbtq/jobpay/internal/security"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Store interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	CreatePayoutIfAbsent(ctx context.Context, payout *domain.Payout) (bool, error)
	GetPayoutByJob(ctx context.Context, jobID string) (*domain.Payout, error)

	SavePayoutMethod(ctx context.Context, method *domain.PayoutMethod) error
	GetPayoutMethod(ctx context.Context, methodID string) (*domain.PayoutMethod, error)
	GetDefaultPayoutMethod(ctx context.Context, providerID string) (*domain.PayoutMethod, error)
	ListPayoutMethods(ctx context.Context, providerID string) ([]domain.PayoutMethod, error)
	SetDefaultPayoutMethod(ctx context.Context, providerID, methodID string, at time.Time) error
	SetPayoutMethodSubaccount(ctx context.Context, methodID, subaccountID string, at time.Time) (bool, error)
}

type Config struct {
	FeePercent    decimal.Decimal
	DefaultRegion string
}

// MethodInput is a provider's new payout destination.
type MethodInput struct {
	MethodType    string
	BankCode      string
	AccountNumber string
	AccountName   string
	Phone         string
	IsDefault     bool
}

type Router struct {
	store   Store
	gateway gateway.Client
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

func NewRouter(store Store, gw gateway.Client, cfg Config, logger *slog.Logger) *Router {
	if cfg.FeePercent.IsZero() {
		cfg.FeePercent = domain.DefaultPlatformFeePercent
	}
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "KE"
	}

	return &Router{
		store:   store,
		gateway: gw,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateForJob records the payout for a paid job. It is safe to call any
// number of times: the first call inserts, later calls return the existing
// payout with created=false.
func (r *Router) CreateForJob(ctx context.Context, jobID string) (payout *domain.Payout, created bool, err error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if job.PaymentStatus != domain.PaymentStatusCompleted {
		return nil, false, domain.ErrInvalidJobState.WithMessage("job %s has no completed payment", jobID)
	}

	amount := paidAmount(job)
	tip := job.TipAmount
	if tip.GreaterThan(amount) {
		// A short settlement cannot cover the recorded tip; whatever
		// arrived goes to the provider and no commission is taken.
		r.logger.Warn("Settled amount is below the recorded tip",
			slog.String("job_id", jobID),
			slog.String("amount", amount.String()),
			slog.String("tip", tip.String()),
		)
		tip = amount
	}
	split := domain.ComputeSplit(amount.Sub(tip), tip, r.cfg.FeePercent)

	now := r.now()
	payout = &domain.Payout{
		ID:               uuid.NewString(),
		JobID:            jobID,
		ProviderID:       job.ProviderID,
		PaymentReference: job.PaymentReference,
		Amount:           amount,
		TipAmount:        tip,
		PlatformFee:      split.PlatformCommission,
		NetAmount:        split.ProviderTotal,
		Status:           domain.PayoutStatusPending,
		CreatedAt:        now,
	}

	method, err := r.store.GetDefaultPayoutMethod(ctx, job.ProviderID)
	switch {
	case errors.Is(err, domain.ErrPayoutMethodNotFound):
	case err != nil:
		return nil, false, fmt.Errorf("failed to load default payout method: %w", err)
	default:
		payout.PayoutMethodID = &method.ID
		if method.HasSubaccount() {
			payout.SubaccountID = method.SubaccountID
			payout.Status = domain.PayoutStatusCompleted
			payout.CompletedAt = &now
		}
	}

	created, err = r.store.CreatePayoutIfAbsent(ctx, payout)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create payout: %w", err)
	}
	if !created {
		existing, err := r.store.GetPayoutByJob(ctx, jobID)
		if err != nil {
			return nil, false, err
		}
		r.logger.Debug("Payout already exists", slog.String("job_id", jobID))
		return existing, false, nil
	}

	r.logger.Info("Payout created",
		slog.String("job_id", jobID),
		slog.String("provider_id", job.ProviderID),
		slog.String("amount", payout.Amount.String()),
		slog.String("platform_fee", payout.PlatformFee.String()),
		slog.String("net_amount", payout.NetAmount.String()),
		slog.String("status", payout.Status),
	)
	return payout, true, nil
}

// paidAmount is the gross amount received for the job, tip included.
func paidAmount(job *domain.Job) decimal.Decimal {
	if job.PaymentPaidAmount.Valid {
		return job.PaymentPaidAmount.Decimal
	}
	if job.PaymentAmount.Valid {
		return job.PaymentAmount.Decimal.Add(job.TipAmount)
	}
	return decimal.Zero
}

// EnsureSubaccount registers the payout method with the gateway once. The
// idempotency key is derived from provider and method so a retried or
// concurrent call never creates a second gateway object.
func (r *Router) EnsureSubaccount(ctx context.Context, providerID, methodID string) (*domain.PayoutMethod, error) {
	method, err := r.ownedMethod(ctx, providerID, methodID)
	if err != nil {
		return nil, err
	}
	if method.HasSubaccount() {
		return method, nil
	}

	req := gateway.SubaccountRequest{
		BusinessName:     method.AccountName,
		AccountNumber:    method.AccountNumber,
		PercentageCharge: r.cfg.FeePercent,
	}
	if method.BankCode != nil {
		req.SettlementBank = *method.BankCode
	}
	if method.Phone != nil {
		req.Phone = *method.Phone
	}

	sub, err := r.gateway.CreateSubaccount(ctx, req, security.SubaccountKey(providerID, methodID))
	if err != nil {
		return nil, err
	}

	stored, err := r.store.SetPayoutMethodSubaccount(ctx, methodID, sub.Code, r.now())
	if err != nil {
		return nil, fmt.Errorf("failed to store subaccount: %w", err)
	}
	if !stored {
		r.logger.Info("Subaccount already stored by a concurrent call", slog.String("method_id", methodID))
		return r.store.GetPayoutMethod(ctx, methodID)
	}

	r.logger.Info("Subaccount registered",
		slog.String("provider_id", providerID),
		slog.String("method_id", methodID),
	)
	method.SubaccountID = &sub.Code
	return method, nil
}

// AddMethod validates and stores a payout method. A provider's first method
// becomes the default.
func (r *Router) AddMethod(ctx context.Context, providerID string, in MethodInput) (*domain.PayoutMethod, error) {
	if providerID == "" {
		return nil, domain.NewValidationError("provider_id", "provider id is required")
	}
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	in.AccountName = strings.TrimSpace(in.AccountName)
	if in.AccountName == "" {
		return nil, domain.NewValidationError("account_name", "account name is required")
	}

	now := r.now()
	method := &domain.PayoutMethod{
		ID:          uuid.NewString(),
		ProviderID:  providerID,
		MethodType:  in.MethodType,
		AccountName: in.AccountName,
		IsDefault:   in.IsDefault,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	switch in.MethodType {
	case domain.PayoutMethodBank:
		if in.AccountNumber == "" || in.BankCode == "" {
			return nil, domain.NewValidationError("account_number", "bank payouts need a bank code and account number")
		}
		bankCode := strings.TrimSpace(in.BankCode)
		method.BankCode = &bankCode
		method.AccountNumber = in.AccountNumber
	case domain.PayoutMethodMobileMoney:
		phone, err := gateway.NormalizePhone(in.Phone, r.cfg.DefaultRegion)
		if err != nil {
			return nil, err
		}
		method.Phone = &phone
		method.AccountNumber = phone
	default:
		return nil, domain.NewValidationError("method_type", "method type must be bank or mobile_money")
	}

	if !method.IsDefault {
		_, err := r.store.GetDefaultPayoutMethod(ctx, providerID)
		switch {
		case errors.Is(err, domain.ErrPayoutMethodNotFound):
			method.IsDefault = true
		case err != nil:
			return nil, fmt.Errorf("failed to load default payout method: %w", err)
		}
	}

	if err := r.store.SavePayoutMethod(ctx, method); err != nil {
		return nil, err
	}

	r.logger.Info("Payout method added",
		slog.String("provider_id", providerID),
		slog.String("method_id", method.ID),
		slog.String("method_type", method.MethodType),
		slog.Bool("is_default", method.IsDefault),
	)
	return method, nil
}

func (r *Router) SetDefault(ctx context.Context, providerID, methodID string) (*domain.PayoutMethod, error) {
	if err := r.store.SetDefaultPayoutMethod(ctx, providerID, methodID, r.now()); err != nil {
		return nil, err
	}
	return r.store.GetPayoutMethod(ctx, methodID)
}

func (r *Router) ListMethods(ctx context.Context, providerID string) ([]domain.PayoutMethod, error) {
	return r.store.ListPayoutMethods(ctx, providerID)
}

func (r *Router) ownedMethod(ctx context.Context, providerID, methodID string) (*domain.PayoutMethod, error) {
	method, err := r.store.GetPayoutMethod(ctx, methodID)
	if err != nil {
		return nil, err
	}
	if method.ProviderID != providerID {
		return nil, domain.ErrPayoutMethodNotFound
	}
	return method, nil
}
