package domain

// Job status constants
const (
	JobStatusPending    = "pending"
	JobStatusConfirmed  = "confirmed"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusCancelled  = "cancelled"
)

// Payment status constants, shared by jobs and payment rows
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

// Payout status constants
const (
	PayoutStatusPending   = "pending"
	PayoutStatusCompleted = "completed"
)

// Payout method types
const (
	PayoutMethodBank        = "bank"
	PayoutMethodMobileMoney = "mobile_money"
)

// Payment methods a customer may pick at checkout
const (
	PaymentMethodMobileMoney = "mobile_money"
	PaymentMethodCard        = "card"
	PaymentMethodBank        = "bank_transfer"
)

// Handshake code kinds
const (
	CodeKindStart = "start"
	CodeKindEnd   = "end"
)

// Event types published after reconciliation
const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
)

// IsValidPaymentMethod reports whether m is an accepted payment method.
func IsValidPaymentMethod(m string) bool {
	switch m {
	case PaymentMethodMobileMoney, PaymentMethodCard, PaymentMethodBank:
		return true
	}
	return false
}
