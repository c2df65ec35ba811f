package handshake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/security"
	"github.com/cuongbtq/jobpay/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T) (*Manager, *memory.Store, *clock) {
	t.Helper()

	store := memory.New()
	require.NoError(t, store.CreateJob(context.Background(), &domain.Job{
		ID:                 "job-1",
		CustomerID:         "cust-1",
		ProviderID:         "prov-1",
		Status:             domain.JobStatusConfirmed,
		QuoteLocked:        true,
		QuoteAccepted:      true,
		QuoteTotal:         decimal.NewNullDecimal(decimal.NewFromInt(1000)),
		PaymentStatus:      domain.PaymentStatusPending,
		HourlyRateSnapshot: decimal.NewNullDecimal(decimal.NewFromInt(400)),
		MinimumJobPrice:    decimal.NewFromInt(500),
		DepositAmount:      decimal.NewFromInt(100),
		DepositPaid:        true,
	}))

	c := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	m := NewManager(store, security.NativeSHA256{}, DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.now = c.now
	return m, store, c
}

func TestManager_IssueStartCode(t *testing.T) {
	m, store, _ := setup(t)
	ctx := context.Background()

	_, err := m.IssueStartCode(ctx, "prov-1", "job-1")
	assert.True(t, errors.Is(err, domain.ErrNotJobParty))

	issued, err := m.IssueStartCode(ctx, "cust-1", "job-1")
	require.NoError(t, err)
	require.Len(t, issued.Code, security.DefaultCodeLength)
	for _, r := range issued.Code {
		assert.True(t, strings.ContainsRune(security.CodeAlphabet, r))
	}

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.StartCodeHash)
	assert.Equal(t, security.HexDigest(security.NativeSHA256{}, issued.Code), *job.StartCodeHash)
	assert.NotEqual(t, issued.Code, *job.StartCodeHash)
}

func TestManager_EndBeforeStart(t *testing.T) {
	m, _, _ := setup(t)
	ctx := context.Background()

	_, err := m.IssueEndCode(ctx, "cust-1", "job-1")
	assert.True(t, errors.Is(err, domain.ErrEndCodeBeforeStart))

	_, err = m.VerifyEnd(ctx, "prov-1", "job-1", "ABCDEF")
	assert.True(t, errors.Is(err, domain.ErrEndCodeBeforeStart))
}

func TestManager_VerifyStart(t *testing.T) {
	m, store, c := setup(t)
	ctx := context.Background()

	err := m.VerifyStart(ctx, "prov-1", "job-1", "ABCDEF")
	assert.True(t, errors.Is(err, domain.ErrCodeNotIssued))

	issued, err := m.IssueStartCode(ctx, "cust-1", "job-1")
	require.NoError(t, err)

	wrong := "222222"
	if issued.Code == wrong {
		wrong = "333333"
	}

	tests := []struct {
		name       string
		providerID string
		code       string
		advance    time.Duration
		wantErr    error
	}{
		{name: "other provider", providerID: "prov-2", code: issued.Code, wantErr: domain.ErrNotJobParty},
		{name: "wrong code", providerID: "prov-1", code: wrong, wantErr: domain.ErrCodeMismatch},
		{name: "lower case input is accepted", providerID: "prov-1", code: " " + strings.ToLower(issued.Code) + " "},
		{name: "second use fails", providerID: "prov-1", code: issued.Code, wantErr: domain.ErrCodeAlreadyUsed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.advance(tt.advance)
			err := m.VerifyStart(ctx, tt.providerID, "job-1", tt.code)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
		})
	}

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusInProgress, job.Status)
}

func TestManager_StartCodeExpires(t *testing.T) {
	m, _, c := setup(t)
	ctx := context.Background()

	issued, err := m.IssueStartCode(ctx, "cust-1", "job-1")
	require.NoError(t, err)

	c.advance(25 * time.Hour)
	err = m.VerifyStart(ctx, "prov-1", "job-1", issued.Code)
	assert.True(t, errors.Is(err, domain.ErrCodeExpired))
}

func TestManager_FullHandshakeWithBilling(t *testing.T) {
	m, store, c := setup(t)
	ctx := context.Background()

	start, err := m.IssueStartCode(ctx, "cust-1", "job-1")
	require.NoError(t, err)
	require.NoError(t, m.VerifyStart(ctx, "prov-1", "job-1", start.Code))

	end, err := m.IssueEndCode(ctx, "cust-1", "job-1")
	require.NoError(t, err)

	c.advance(95 * time.Minute)
	result, err := m.VerifyEnd(ctx, "prov-1", "job-1", end.Code)
	require.NoError(t, err)
	require.NotNil(t, result.Billing)
	assert.Equal(t, int64(95), result.Billing.ActualDurationMinutes)
	assert.Equal(t, "1.75", result.Billing.FinalBilledHours.String())
	assert.Equal(t, "700", result.Billing.FinalTotalCost.String())
	assert.Equal(t, "600", result.Billing.FinalAmountDue.String())

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.True(t, job.EndCodeUsed)

	_, err = m.VerifyEnd(ctx, "prov-1", "job-1", end.Code)
	assert.True(t, errors.Is(err, domain.ErrCodeAlreadyUsed))
}

func TestComputeFinalBilling(t *testing.T) {
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		rate      int64
		worked    time.Duration
		deposit   int64
		wantHours string
		wantTotal string
		wantDue   string
	}{
		{name: "rounds up to quarter hour", rate: 400, worked: 61 * time.Minute, wantHours: "1.25", wantTotal: "500", wantDue: "500"},
		{name: "minimum price applies", rate: 400, worked: 20 * time.Minute, wantHours: "0.5", wantTotal: "500", wantDue: "500"},
		{name: "exact increments", rate: 600, worked: 2 * time.Hour, wantHours: "2", wantTotal: "1200", wantDue: "1200"},
		{name: "deposit is deducted", rate: 600, worked: 2 * time.Hour, deposit: 200, wantHours: "2", wantTotal: "1200", wantDue: "1000"},
		{name: "zero duration bills one increment", rate: 4000, worked: 0, wantHours: "0.25", wantTotal: "1000", wantDue: "1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &domain.Job{
				ID:                 "job-1",
				HourlyRateSnapshot: decimal.NewNullDecimal(decimal.NewFromInt(tt.rate)),
				MinimumJobPrice:    decimal.NewFromInt(500),
				DepositAmount:      decimal.NewFromInt(tt.deposit),
				DepositPaid:        tt.deposit > 0,
				StartedAt:          &started,
			}

			billing, ok := ComputeFinalBilling(job, started.Add(tt.worked), 15*time.Minute)
			require.True(t, ok)
			assert.Equal(t, tt.wantHours, billing.FinalBilledHours.String())
			assert.Equal(t, tt.wantTotal, billing.FinalTotalCost.String())
			assert.Equal(t, tt.wantDue, billing.FinalAmountDue.String())
		})
	}

	_, ok := ComputeFinalBilling(&domain.Job{}, started, 15*time.Minute)
	assert.False(t, ok)
}

func TestComputeFinalBilling_UnevenIncrement(t *testing.T) {
	started := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	job := &domain.Job{
		ID:                 "job-1",
		HourlyRateSnapshot: decimal.NewNullDecimal(decimal.NewFromInt(900)),
		MinimumJobPrice:    decimal.NewFromInt(100),
		StartedAt:          &started,
	}

	// 30 minutes rounds up to two 20-minute increments: 40/60 of 900.
	billing, ok := ComputeFinalBilling(job, started.Add(30*time.Minute), 20*time.Minute)
	require.True(t, ok)
	assert.Equal(t, "0.67", billing.FinalBilledHours.String())
	assert.Equal(t, "600", billing.FinalTotalCost.String())
	assert.Equal(t, "600", billing.FinalAmountDue.String())
}
