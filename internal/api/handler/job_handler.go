package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/jobpay/internal/api/dto"
	"github.com/cuongbtq/jobpay/internal/booking"
	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateJob handles POST /api/v1/jobs
// Books a job for the calling customer
func (h *JobHandler) CreateJob(c *gin.Context) {
	customerID, ok := actorID(c)
	if !ok {
		return
	}

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, h.logger, err)
		return
	}

	b := booking.Booking{
		CustomerID:      customerID,
		ProviderID:      req.ProviderID,
		Description:     req.Description,
		HourlyRate:      req.HourlyRate,
		MinimumJobPrice: *req.MinimumJobPrice,
	}
	if req.DepositAmount != nil {
		b.DepositAmount = *req.DepositAmount
	}

	job, err := h.jobs.Create(c.Request.Context(), b)
	if err != nil {
		respondError(c, h.logger, "create_job", err)
		return
	}

	c.JSON(http.StatusCreated, toJobDTO(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	actor, jobID, ok := h.jobRequest(c)
	if !ok {
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), actor, jobID)
	if err != nil {
		respondError(c, h.logger, "get_job", err)
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists the caller's jobs newest first with cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	actor, ok := actorID(c)
	if !ok {
		return
	}

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Debug("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
			"code":  "invalid_request",
		})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Debug("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
			"code":  "invalid_cursor",
		})
		return
	}

	page, err := h.jobs.List(c.Request.Context(), actor, domain.JobFilter{
		CustomerID: req.CustomerID,
		ProviderID: req.ProviderID,
		Status:     req.Status,
		PageSize:   req.PageSize,
		Cursor:     cursor,
	})
	if err != nil {
		respondError(c, h.logger, "list_jobs", err)
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(page.Jobs))}
	for i := range page.Jobs {
		resp.Jobs[i] = toJobDTO(&page.Jobs[i])
	}

	if page.HasMore {
		last := page.Jobs[len(page.Jobs)-1]
		resp.NextCursor = EncodeJobCursor(&domain.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a job that has not started
func (h *JobHandler) CancelJob(c *gin.Context) {
	actor, jobID, ok := h.jobRequest(c)
	if !ok {
		return
	}

	job, err := h.jobs.Cancel(c.Request.Context(), actor, jobID)
	if err != nil {
		respondError(c, h.logger, "cancel_job", err)
		return
	}

	c.JSON(http.StatusOK, toJobDTO(job))
}

// jobRequest reads the caller and the job_id path parameter, which must be
// a UUID.
func (h *JobHandler) jobRequest(c *gin.Context) (actor, jobID string, ok bool) {
	actor, ok = actorID(c)
	if !ok {
		return "", "", false
	}

	jobID = c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
			"code":  "invalid_job_id",
		})
		return "", "", false
	}

	return actor, jobID, true
}

func toJobDTO(job *domain.Job) dto.JobDTO {
	out := dto.JobDTO{
		JobID:           job.ID,
		CustomerID:      job.CustomerID,
		ProviderID:      job.ProviderID,
		Description:     job.Description,
		Status:          job.Status,
		QuoteTotal:      nullable(job.QuoteTotal),
		QuoteLabor:      nullable(job.QuoteLabor),
		QuoteMaterials:  nullable(job.QuoteMaterials),
		QuoteLocked:     job.QuoteLocked,
		QuoteAccepted:   job.QuoteAccepted,
		StartCodeUsed:   job.StartCodeUsed,
		EndCodeUsed:     job.EndCodeUsed,
		MinimumJobPrice: job.MinimumJobPrice,
		HourlyRate:      nullable(job.HourlyRateSnapshot),
		FinalAmountDue:  nullable(job.FinalAmountDue),
		PaymentStatus:   job.PaymentStatus,
		PaymentAmount:   nullable(job.PaymentAmount),
		TipAmount:       job.TipAmount,
		DisputeFlagged:  job.DisputeFlagged,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
	if job.PaymentReference != nil {
		out.PaymentReference = *job.PaymentReference
	}
	return out
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	return &d.Decimal
}
