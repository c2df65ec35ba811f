package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Job is the booking aggregate that carries the quote, handshake and
// payment state of a single piece of work.
type Job struct {
	ID          string `db:"id"`
	CustomerID  string `db:"customer_id"`
	ProviderID  string `db:"provider_id"`
	Description string `db:"description"`
	Status      string `db:"status"`

	QuoteTotal       decimal.NullDecimal `db:"quote_total"`
	QuoteLabor       decimal.NullDecimal `db:"quote_labor"`
	QuoteMaterials   decimal.NullDecimal `db:"quote_materials"`
	QuoteBreakdown   *string             `db:"quote_breakdown"`
	QuoteLocked      bool                `db:"quote_locked"`
	QuoteAccepted    bool                `db:"quote_accepted"`
	QuoteSubmittedAt *time.Time          `db:"quote_submitted_at"`
	QuoteRespondedAt *time.Time          `db:"quote_responded_at"`

	StartCodeHash      *string    `db:"start_code_hash"`
	StartCodeExpiresAt *time.Time `db:"start_code_expires_at"`
	StartCodeUsed      bool       `db:"start_code_used"`
	EndCodeHash        *string    `db:"end_code_hash"`
	EndCodeExpiresAt   *time.Time `db:"end_code_expires_at"`
	EndCodeUsed        bool       `db:"end_code_used"`
	StartedAt          *time.Time `db:"started_at"`
	CompletedAt        *time.Time `db:"completed_at"`
	CancelledAt        *time.Time `db:"cancelled_at"`

	PaymentStatus        string              `db:"payment_status"`
	PaymentAmount        decimal.NullDecimal `db:"payment_amount"`
	TipAmount            decimal.Decimal     `db:"tip_amount"`
	PaymentMethod        *string             `db:"payment_method"`
	PaymentReference     *string             `db:"payment_reference"`
	PaymentPaidAmount    decimal.NullDecimal `db:"payment_paid_amount"`
	PaymentCompletedAt   *time.Time          `db:"payment_completed_at"`
	PaymentLastError     *string             `db:"payment_last_error"`
	PaymentLastAttemptAt *time.Time          `db:"payment_last_attempt_at"`
	DisputeFlagged       bool                `db:"dispute_flagged"`
	PartialPaymentReason *string             `db:"partial_payment_reason"`

	// Pricing snapshots taken at booking time
	HourlyRateSnapshot decimal.NullDecimal `db:"hourly_rate_snapshot"`
	MinimumJobPrice    decimal.Decimal     `db:"minimum_job_price"`
	DepositAmount      decimal.Decimal     `db:"deposit_amount"`
	DepositPaid        bool                `db:"deposit_paid"`

	ActualDurationMinutes *int64              `db:"actual_duration_minutes"`
	FinalBilledHours      decimal.NullDecimal `db:"final_billed_hours"`
	FinalTotalCost        decimal.NullDecimal `db:"final_total_cost"`
	FinalAmountDue        decimal.NullDecimal `db:"final_amount_due"`
	FinalPaid             bool                `db:"final_paid"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IsParty reports whether actorID is the customer or the provider of the job.
func (j *Job) IsParty(actorID string) bool {
	return actorID != "" && (actorID == j.CustomerID || actorID == j.ProviderID)
}

// IsTerminal reports whether the job can no longer change lifecycle status.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusCancelled
}

// HasQuote reports whether the provider has submitted (and thereby locked) a quote.
func (j *Job) HasQuote() bool {
	return j.QuoteLocked && j.QuoteTotal.Valid
}

// QuoteUpdate carries the fields written when a provider locks a quote.
type QuoteUpdate struct {
	JobID       string
	ProviderID  string
	Total       decimal.Decimal
	Labor       decimal.NullDecimal
	Materials   decimal.NullDecimal
	Breakdown   *string
	SubmittedAt time.Time
}

// CodeIssue carries a freshly issued handshake code hash.
type CodeIssue struct {
	JobID      string
	CustomerID string
	Kind       string
	Hash       string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// CodeAttempt is a single verification attempt of a handshake code.
type CodeAttempt struct {
	JobID      string
	ProviderID string
	Hash       string
	At         time.Time
}

// FinalBilling holds the time-based billing computed when work ends.
type FinalBilling struct {
	JobID                 string
	ActualDurationMinutes int64
	FinalBilledHours      decimal.Decimal
	FinalTotalCost        decimal.Decimal
	FinalAmountDue        decimal.Decimal
}

// PaymentIntent is a validated payment request recorded on the job
// before any funds move.
type PaymentIntent struct {
	JobID                string
	CustomerID           string
	Amount               decimal.Decimal
	Tip                  decimal.Decimal
	Method               string
	DisputeFlagged       bool
	PartialPaymentReason *string
	At                   time.Time
}

// JobFilter narrows job listings.
type JobFilter struct {
	CustomerID string
	ProviderID string
	Status     string
	PageSize   int
	Cursor     *JobCursor
}

// JobCursor is the keyset position used for job pagination.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}
