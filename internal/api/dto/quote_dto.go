package dto

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

type SubmitQuoteRequest struct {
	Total     *decimal.Decimal `json:"total" binding:"required"`
	Labor     *decimal.Decimal `json:"labor"`
	Materials *decimal.Decimal `json:"materials"`
	Breakdown json.RawMessage  `json:"breakdown"`
}

type QuoteResponseRequest struct {
	Accepted *bool `json:"accepted" binding:"required"`
}

type VerifyCodeRequest struct {
	Code string `json:"code" binding:"required,min=4,max=16"`
}

type IssuedCodeResponse struct {
	JobID     string `json:"job_id"`
	Kind      string `json:"kind"`
	Code      string `json:"code"`
	ExpiresAt string `json:"expires_at"`
}

type FinalBillingDTO struct {
	ActualDurationMinutes int64           `json:"actual_duration_minutes"`
	FinalBilledHours      decimal.Decimal `json:"final_billed_hours"`
	FinalTotalCost        decimal.Decimal `json:"final_total_cost"`
	FinalAmountDue        decimal.Decimal `json:"final_amount_due"`
}

type VerifyEndResponse struct {
	JobID   string           `json:"job_id"`
	Status  string           `json:"status"`
	Billing *FinalBillingDTO `json:"billing,omitempty"`
}
