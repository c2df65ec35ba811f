package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/jobpay/internal/api/dto"
	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/reconcile"
	"github.com/gin-gonic/gin"
)

const defaultWebhookMaxBodyBytes = 1 << 20

// PaymentHandler handles the two reconciliation entry points: the client's
// verify call and the gateway's webhook.
type PaymentHandler struct {
	logger       *slog.Logger
	verifier     *reconcile.Verifier
	webhooks     *reconcile.WebhookProcessor
	maxBodyBytes int64
}

// NewPaymentHandler creates a new PaymentHandler instance
func NewPaymentHandler(deps *Dependencies) *PaymentHandler {
	maxBody := deps.WebhookMaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultWebhookMaxBodyBytes
	}

	return &PaymentHandler{
		logger:       deps.Logger,
		verifier:     deps.Verifier,
		webhooks:     deps.Webhooks,
		maxBodyBytes: maxBody,
	}
}

// VerifyPayment handles POST /api/v1/payments/verify
func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	var req dto.VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}

	result, err := h.verifier.Verify(c.Request.Context(), req.Reference)
	if err != nil {
		respondError(c, h.logger, "verify_payment", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GatewayWebhook handles POST /api/v1/webhooks/gateway
// The raw body is needed for the signature check, so it is read before any
// parsing. Duplicates and events for unknown jobs are acknowledged with 200
// so the gateway stops redelivering; storage failures answer 500 so it
// retries.
func (h *PaymentHandler) GatewayWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxBodyBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "failed to read body",
			"code":  "invalid_request",
		})
		return
	}
	if int64(len(body)) > h.maxBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "payload too large",
			"code":  "payload_too_large",
		})
		return
	}

	outcome, err := h.webhooks.Handle(c.Request.Context(), body, c.GetHeader(SignatureHeader))
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) && derr.Kind == domain.KindAuthentication {
			h.logger.Warn("Webhook rejected",
				slog.String("ip", c.ClientIP()),
				slog.String("reason", derr.Code),
			)
		}
		respondError(c, h.logger, "gateway_webhook", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received": true,
		"outcome":  outcome,
	})
}
