package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is one attempted charge against a job.
type Payment struct {
	ID            string          `db:"id"`
	JobID         string          `db:"job_id"`
	CustomerID    string          `db:"customer_id"`
	ProviderID    string          `db:"provider_id"`
	Amount        decimal.Decimal `db:"amount"`
	TipAmount     decimal.Decimal `db:"tip_amount"`
	Currency      string          `db:"currency"`
	Status        string          `db:"status"`
	Method        string          `db:"method"`
	Channel       *string         `db:"channel"`
	Reference     string          `db:"reference"`
	FailureReason *string         `db:"failure_reason"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// Payout is the disbursement owed to a provider for a paid job.
type Payout struct {
	ID               string          `db:"id"`
	JobID            string          `db:"job_id"`
	ProviderID       string          `db:"provider_id"`
	PaymentReference *string         `db:"payment_reference"`
	Amount           decimal.Decimal `db:"amount"`
	TipAmount        decimal.Decimal `db:"tip_amount"`
	PlatformFee      decimal.Decimal `db:"platform_fee"`
	NetAmount        decimal.Decimal `db:"net_amount"`
	Status           string          `db:"status"`
	PayoutMethodID   *string         `db:"payout_method_id"`
	SubaccountID     *string         `db:"subaccount_id"`
	CreatedAt        time.Time       `db:"created_at"`
	CompletedAt      *time.Time      `db:"completed_at"`
}

// PayoutMethod is a provider's bank or mobile-money destination.
type PayoutMethod struct {
	ID            string    `db:"id"`
	ProviderID    string    `db:"provider_id"`
	MethodType    string    `db:"method_type"`
	BankCode      *string   `db:"bank_code"`
	AccountNumber string    `db:"account_number"`
	AccountName   string    `db:"account_name"`
	Phone         *string   `db:"phone"`
	IsDefault     bool      `db:"is_default"`
	SubaccountID  *string   `db:"subaccount_id"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// HasSubaccount reports whether the method can receive automatically routed funds.
func (m *PayoutMethod) HasSubaccount() bool {
	return m != nil && m.SubaccountID != nil && *m.SubaccountID != ""
}

// WebhookEvent is the durable idempotency record of an inbound gateway event.
type WebhookEvent struct {
	EventID         string     `db:"event_id"`
	EventType       string     `db:"event_type"`
	Payload         string     `db:"payload"`
	Processed       bool       `db:"processed"`
	ProcessingError *string    `db:"processing_error"`
	ReceivedAt      time.Time  `db:"received_at"`
	ProcessedAt     *time.Time `db:"processed_at"`
}

// PaymentCompletion is the result of a successful charge, applied to a job
// exactly once.
type PaymentCompletion struct {
	JobID       string
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Channel     string
	Method      string
	CompletedAt time.Time
}

// PaymentFailure carries diagnostics of a failed charge.
type PaymentFailure struct {
	JobID     string
	Reference string
	Reason    string
	At        time.Time
}
