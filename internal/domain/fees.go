package domain

import "github.com/shopspring/decimal"

// DefaultPlatformFeePercent is the commission applied when none is configured.
var DefaultPlatformFeePercent = decimal.NewFromInt(15)

var hundred = decimal.NewFromInt(100)

// MaxMoneyAmount is the largest value a NUMERIC(12,2) money column holds.
var MaxMoneyAmount = decimal.RequireFromString("9999999999.99")

// Split is the division of a charge between the platform and the provider.
// Tips bypass commission and go to the provider in full.
type Split struct {
	Subtotal           decimal.Decimal
	Tip                decimal.Decimal
	PlatformCommission decimal.Decimal
	ProviderPayout     decimal.Decimal
	ProviderTotal      decimal.Decimal
}

// ComputeSplit applies feePercent to subtotal, rounding the commission to
// whole currency units.
func ComputeSplit(subtotal, tip, feePercent decimal.Decimal) Split {
	commission := subtotal.Mul(feePercent).Div(hundred).Round(0)
	payout := subtotal.Sub(commission)
	return Split{
		Subtotal:           subtotal,
		Tip:                tip,
		PlatformCommission: commission,
		ProviderPayout:     payout,
		ProviderTotal:      payout.Add(tip),
	}
}
