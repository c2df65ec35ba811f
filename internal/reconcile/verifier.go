package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/gateway"
)

// VerifyResult is what the client sees after its charge flow returns.
type VerifyResult struct {
	JobID         string  `json:"job_id,omitempty"`
	Reference     string  `json:"reference"`
	Outcome       Outcome `json:"outcome"`
	PaymentStatus string  `json:"payment_status"`
	Message       string  `json:"message"`
}

// Verifier asks the gateway for a charge's final state and applies it
// through the same engine as the webhook path.
type Verifier struct {
	gateway gateway.Client
	engine  *Engine
	logger  *slog.Logger
	now     func() time.Time
}

func NewVerifier(gw gateway.Client, engine *Engine, logger *slog.Logger) *Verifier {
	return &Verifier{
		gateway: gw,
		engine:  engine,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Verify reconciles reference. Gateway errors leave the job pending and are
// returned with a message the client can show.
func (v *Verifier) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, domain.NewValidationError("reference", "reference is required")
	}

	tx, err := v.gateway.Verify(ctx, reference)
	if err != nil {
		v.logger.Warn("Payment verification failed",
			slog.String("reference", reference),
			slog.String("kind", domain.KindOf(err).String()),
			slog.String("error", err.Error()),
		)
		return nil, userFacing(err)
	}

	charge := ChargeFromTransaction(tx, v.now())
	if charge.Reference == "" {
		charge.Reference = reference
	}

	outcome, err := v.engine.Apply(ctx, charge)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{
		JobID:     charge.JobID,
		Reference: reference,
		Outcome:   outcome,
	}

	switch outcome {
	case OutcomeCompleted, OutcomeAlreadyCompleted:
		result.PaymentStatus = domain.PaymentStatusCompleted
		result.Message = "Payment confirmed"
	case OutcomeFailed:
		result.PaymentStatus = domain.PaymentStatusPending
		result.Message = "Payment was not successful. You can try again."
	case OutcomeJobNotFound:
		return nil, domain.ErrJobNotFound.WithMessage("no job matches this payment")
	default:
		result.PaymentStatus = domain.PaymentStatusPending
		result.Message = "Payment is still being processed"
	}

	if result.JobID == "" && result.PaymentStatus == domain.PaymentStatusCompleted {
		if job, err := v.engine.resolveJob(ctx, charge); err == nil {
			result.JobID = job.ID
		}
	}

	return result, nil
}

func userFacing(err error) error {
	switch domain.KindOf(err) {
	case domain.KindGatewayUnavailable:
		return &domain.Error{
			Kind:    domain.KindGatewayUnavailable,
			Code:    "gateway_unavailable",
			Message: "We could not reach the payment provider. Your payment is still pending, please try again shortly",
			Err:     err,
		}
	case domain.KindGatewayRejected:
		return &domain.Error{
			Kind:    domain.KindGatewayRejected,
			Code:    "gateway_rejected",
			Message: "The payment provider could not confirm this payment",
			Err:     err,
		}
	}
	return err
}
