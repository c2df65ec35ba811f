package dto

import "github.com/shopspring/decimal"

type CreateJobRequest struct {
	ProviderID      string           `json:"provider_id" binding:"required"`
	Description     string           `json:"description" binding:"max=2000"`
	HourlyRate      *decimal.Decimal `json:"hourly_rate"`
	MinimumJobPrice *decimal.Decimal `json:"minimum_job_price" binding:"required"`
	DepositAmount   *decimal.Decimal `json:"deposit_amount"`
}

type ListJobsRequest struct {
	CustomerID string `form:"customer_id"`
	ProviderID string `form:"provider_id"`
	Status     string `form:"status" binding:"omitempty,oneof=pending confirmed in_progress completed cancelled"`
	PageSize   int    `form:"page_size"`
	Cursor     string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string `json:"job_id"`
	CustomerID  string `json:"customer_id"`
	ProviderID  string `json:"provider_id"`
	Description string `json:"description"`
	Status      string `json:"status"`

	QuoteTotal     *decimal.Decimal `json:"quote_total,omitempty"`
	QuoteLabor     *decimal.Decimal `json:"quote_labor,omitempty"`
	QuoteMaterials *decimal.Decimal `json:"quote_materials,omitempty"`
	QuoteLocked    bool             `json:"quote_locked"`
	QuoteAccepted  bool             `json:"quote_accepted"`

	StartCodeUsed bool `json:"start_code_used"`
	EndCodeUsed   bool `json:"end_code_used"`

	MinimumJobPrice decimal.Decimal  `json:"minimum_job_price"`
	HourlyRate      *decimal.Decimal `json:"hourly_rate,omitempty"`
	FinalAmountDue  *decimal.Decimal `json:"final_amount_due,omitempty"`

	PaymentStatus    string           `json:"payment_status"`
	PaymentAmount    *decimal.Decimal `json:"payment_amount,omitempty"`
	TipAmount        decimal.Decimal  `json:"tip_amount"`
	PaymentReference string           `json:"payment_reference,omitempty"`
	DisputeFlagged   bool             `json:"dispute_flagged"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}
