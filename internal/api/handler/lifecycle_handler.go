package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/jobpay/internal/api/dto"
	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/handshake"
	"github.com/cuongbtq/jobpay/internal/payment"
	"github.com/cuongbtq/jobpay/internal/quote"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// SubmitQuote handles POST /api/v1/jobs/:job_id/quote
func (h *JobHandler) SubmitQuote(c *gin.Context) {
	providerID, jobID, ok := h.jobRequest(c)
	if !ok {
		return
	}

	var req dto.SubmitQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}

	job, err := h.quotes.SubmitQuote(c.Request.Context(), providerID, jobID, quote.Quote{
		Total:     *req.Total,
		Labor:     req.Labor,
		Materials: req.Materials,
		Breakdown: req.Breakdown,
	})
	if err != nil {
		respondError(c, h.logger, "submit_quote", err)
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// RespondToQuote handles POST /api/v1/jobs/:job_id/quote/response
func (h *JobHandler) RespondToQuote(c *gin.Context) {
	customerID, jobID, ok := h.jobRequest(c)
	if !ok {
		return
	}

	var req dto.QuoteResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}

	job, err := h.quotes.RespondToQuote(c.Request.Context(), customerID, jobID, *req.Accepted)
	if err != nil {
		respondError(c, h.logger, "respond_to_quote", err)
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// IssueStartCode handles POST /api/v1/jobs/:job_id/codes/start
func (h *JobHandler) IssueStartCode(c *gin.Context) {
	h.issueCode(c, domain.CodeKindStart, h.handshake.IssueStartCode)
}

// IssueEndCode handles POST /api/v1/jobs/:job_id/codes/end
func (h *JobHandler) IssueEndCode(c *gin.Context) {
	h.issueCode(c, domain.CodeKindEnd, h.handshake.IssueEndCode)
}

type issueFunc func(ctx context.Context, customerID, jobID string) (*handshake.IssuedCode, error)

// issueCode returns the plaintext code to the customer. It is the only
// place the code leaves the service and is never cached.
func (h *JobHandler) issueCode(c *gin.Context, kind string, issue issueFunc) {
	customerID, jobID, ok := h.jobRequest(c)
	if !ok {
		return
	}

	issued, err := issue(c.Request.Context(), customerID, jobID)
	if err != nil {
		respondError(c, h.logger, "issue_"+kind+"_code", err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, dto.IssuedCodeResponse{
		JobID:     jobID,
		Kind:      kind,
		Code:      issued.Code,
		ExpiresAt: issued.ExpiresAt.Format(time.RFC3339),
	})
}

// VerifyStart handles POST /api/v1/jobs/:job_id/verify-start
func (h *JobHandler) VerifyStart(c *gin.Context) {
	providerID, jobID, ok := h.jobRequest(c)
	if !ok {
		return
	}

	var req dto.VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}

	if err := h.handshake.VerifyStart(c.Request.Context(), providerID, jobID, req.Code); err != nil {
		respondError(c, h.logger, "verify_start", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": domain.JobStatusInProgress,
	})
}

// VerifyEnd handles POST /api/v1/jobs/:job_id/verify-end
func (h *JobHandler) VerifyEnd(c *gin.Context) {
	providerID, jobID, ok := h.jobRequest(c)
	if !ok {
		return
	}

	var req dto.VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}

	result, err := h.handshake.VerifyEnd(c.Request.Context(), providerID, jobID, req.Code)
	if err != nil {
		respondError(c, h.logger, "verify_end", err)
		return
	}

	resp := dto.VerifyEndResponse{JobID: jobID, Status: domain.JobStatusCompleted}
	if b := result.Billing; b != nil {
		resp.Billing = &dto.FinalBillingDTO{
			ActualDurationMinutes: b.ActualDurationMinutes,
			FinalBilledHours:      b.FinalBilledHours,
			FinalTotalCost:        b.FinalTotalCost,
			FinalAmountDue:        b.FinalAmountDue,
		}
	}

	c.JSON(http.StatusOK, resp)
}

// SubmitPayment handles POST /api/v1/jobs/:job_id/payment
// Validates the payment, records the intent and starts the gateway charge
func (h *JobHandler) SubmitPayment(c *gin.Context) {
	customerID, jobID, ok := h.jobRequest(c)
	if !ok {
		return
	}

	var req dto.SubmitPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}

	tip := decimal.Zero
	if req.Tip != nil {
		tip = *req.Tip
	}

	result, err := h.payments.Checkout(c.Request.Context(), customerID, jobID, payment.CheckoutRequest{
		Request: payment.Request{
			Amount:        *req.Amount,
			Tip:           tip,
			Method:        req.Method,
			PartialReason: req.PartialReason,
		},
		Phone:    req.Phone,
		Email:    req.Email,
		Currency: req.Currency,
	})
	if err != nil {
		respondError(c, h.logger, "submit_payment", err)
		return
	}

	c.JSON(http.StatusAccepted, result)
}
