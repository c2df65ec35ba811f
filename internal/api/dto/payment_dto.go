package dto

import "github.com/shopspring/decimal"

type SubmitPaymentRequest struct {
	Amount        *decimal.Decimal `json:"amount" binding:"required"`
	Tip           *decimal.Decimal `json:"tip"`
	Method        string           `json:"method" binding:"omitempty,oneof=mobile_money card bank_transfer"`
	PartialReason string           `json:"partial_reason" binding:"max=500"`
	Phone         string           `json:"phone"`
	Email         string           `json:"email" binding:"omitempty,email"`
	Currency      string           `json:"currency" binding:"omitempty,len=3"`
}

type VerifyPaymentRequest struct {
	Reference string `json:"reference" binding:"required"`
}

type AddPayoutMethodRequest struct {
	MethodType    string `json:"method_type" binding:"required,oneof=bank mobile_money"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name" binding:"required"`
	Phone         string `json:"phone"`
	IsDefault     bool   `json:"is_default"`
}

type PayoutMethodDTO struct {
	MethodID      string `json:"method_id"`
	ProviderID    string `json:"provider_id"`
	MethodType    string `json:"method_type"`
	BankCode      string `json:"bank_code,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	AccountName   string `json:"account_name"`
	Phone         string `json:"phone,omitempty"`
	IsDefault     bool   `json:"is_default"`
	HasSubaccount bool   `json:"has_subaccount"`
	CreatedAt     string `json:"created_at"`
}

type ListPayoutMethodsResponse struct {
	Methods []PayoutMethodDTO `json:"methods"`
}
