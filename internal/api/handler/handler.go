package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/jobpay/internal/booking"
	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/handshake"
	"github.com/cuongbtq/jobpay/internal/payment"
	"github.com/cuongbtq/jobpay/internal/payout"
	"github.com/cuongbtq/jobpay/internal/quote"
	"github.com/cuongbtq/jobpay/internal/ratelimit"
	"github.com/cuongbtq/jobpay/internal/reconcile"
	"github.com/gin-gonic/gin"
)

// ActorHeader carries the caller identity set by the upstream auth layer.
const ActorHeader = "X-Actor-ID"

// SignatureHeader carries the gateway's HMAC-SHA512 of the webhook body.
const SignatureHeader = "X-Paystack-Signature"

var errMissingActor = &domain.Error{Kind: domain.KindAuthentication, Code: "missing_actor", Message: ActorHeader + " header is required"}

// HealthChecker is satisfied by the PostgreSQL client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Jobs      *booking.Service
	Quotes    *quote.Service
	Handshake *handshake.Manager
	Payments  *payment.Service
	Payouts   *payout.Router
	Webhooks  *reconcile.WebhookProcessor
	Verifier  *reconcile.Verifier

	// Database is nil when running on the in-memory store.
	Database HealthChecker

	// RateLimiter guards the verify and webhook routes.
	RateLimiter ratelimit.Limiter

	WebhookMaxBodyBytes int64
}

// JobHandler handles job, quote, handshake and payment requests
type JobHandler struct {
	logger    *slog.Logger
	jobs      *booking.Service
	quotes    *quote.Service
	handshake *handshake.Manager
	payments  *payment.Service
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		jobs:      deps.Jobs,
		quotes:    deps.Quotes,
		handshake: deps.Handshake,
		payments:  deps.Payments,
	}
}

// actorID reads the caller identity, answering 401 when it is absent.
func actorID(c *gin.Context) (string, bool) {
	actor := strings.TrimSpace(c.GetHeader(ActorHeader))
	if actor == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": errMissingActor.Message,
			"code":  errMissingActor.Code,
		})
		return "", false
	}
	return actor, true
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindStateConflict:
		return http.StatusConflict
	case domain.KindAuthentication:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindGatewayUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindGatewayRejected:
		return http.StatusBadGateway
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Domain errors expose their message and
// code; anything else is logged and reported as an internal error.
func respondError(c *gin.Context, logger *slog.Logger, op string, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		logger.Error("Request failed",
			slog.String("op", op),
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "internal error",
		})
		return
	}

	status := StatusFor(derr.Kind)
	if status >= http.StatusInternalServerError {
		logger.Warn("Request failed",
			slog.String("op", op),
			slog.String("kind", derr.Kind.String()),
			slog.String("error", err.Error()),
		)
	}

	c.JSON(status, gin.H{
		"error": derr.Message,
		"code":  derr.Code,
	})
}

func bindError(c *gin.Context, logger *slog.Logger, err error) {
	logger.Debug("Invalid request body", slog.String("error", err.Error()))
	c.JSON(http.StatusBadRequest, gin.H{
		"error": "Invalid request body",
		"code":  "invalid_request",
	})
}
