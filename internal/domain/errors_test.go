package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	wrapped := fmt.Errorf("submit quote: %w", ErrQuoteAlreadyLocked)
	assert.ErrorIs(t, wrapped, ErrQuoteAlreadyLocked)
	assert.NotErrorIs(t, wrapped, ErrQuoteNotSubmitted)

	detailed := ErrTipTooLarge.WithMessage("tip %s exceeds %s", "600", "500")
	assert.ErrorIs(t, detailed, ErrTipTooLarge)
	assert.Equal(t, "tip 600 exceeds 500", detailed.Error())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{name: "sentinel", err: ErrEndCodeBeforeStart, expected: KindStateConflict},
		{name: "wrapped validation", err: fmt.Errorf("x: %w", NewValidationError("amount", "bad")), expected: KindValidation},
		{name: "gateway unavailable", err: NewGatewayUnavailableError("verify", errors.New("dial tcp")), expected: KindGatewayUnavailable},
		{name: "gateway rejected", err: NewGatewayRejectedError("charge", "declined"), expected: KindGatewayRejected},
		{name: "foreign error", err: errors.New("boom"), expected: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewGatewayUnavailableError("initiate", errors.New("timeout"))))
	assert.True(t, IsRetryable(ErrRateLimited))
	assert.False(t, IsRetryable(NewGatewayRejectedError("initiate", "invalid phone")))
	assert.False(t, IsRetryable(ErrCodeMismatch))
}

func TestComputeSplit(t *testing.T) {
	tests := []struct {
		name       string
		subtotal   int64
		tip        int64
		commission int64
		payout     int64
		total      int64
	}{
		{name: "partial payment", subtotal: 500, tip: 0, commission: 75, payout: 425, total: 425},
		{name: "full payment", subtotal: 5000, tip: 0, commission: 750, payout: 4250, total: 4250},
		{name: "tip outside commission", subtotal: 1000, tip: 200, commission: 150, payout: 850, total: 1050},
		{name: "commission rounds half up", subtotal: 1010, tip: 0, commission: 152, payout: 858, total: 858},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split := ComputeSplit(decimal.NewFromInt(tt.subtotal), decimal.NewFromInt(tt.tip), DefaultPlatformFeePercent)
			assert.True(t, split.PlatformCommission.Equal(decimal.NewFromInt(tt.commission)), "commission %s", split.PlatformCommission)
			assert.True(t, split.ProviderPayout.Equal(decimal.NewFromInt(tt.payout)), "payout %s", split.ProviderPayout)
			assert.True(t, split.ProviderTotal.Equal(decimal.NewFromInt(tt.total)), "total %s", split.ProviderTotal)
		})
	}
}
