package booking

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() (*Service, *memory.Store) {
	store := memory.New()
	return NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func booking() Booking {
	return Booking{
		CustomerID:      "cust-1",
		ProviderID:      "prov-1",
		Description:     "  fix sink ",
		MinimumJobPrice: decimal.NewFromInt(500),
	}
}

func TestService_Create(t *testing.T) {
	svc, store := newService()
	rate := decimal.NewFromInt(800)

	b := booking()
	b.HourlyRate = &rate
	job, err := svc.Create(context.Background(), b)
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, domain.PaymentStatusPending, job.PaymentStatus)
	assert.Equal(t, "fix sink", job.Description)
	assert.True(t, job.HourlyRateSnapshot.Decimal.Equal(rate))

	stored, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.CustomerID, stored.CustomerID)
}

func TestService_CreateValidation(t *testing.T) {
	zero := decimal.Zero

	tests := []struct {
		name    string
		mutate  func(b *Booking)
		wantErr string
	}{
		{name: "missing customer", mutate: func(b *Booking) { b.CustomerID = "" }, wantErr: "invalid_customer_id"},
		{name: "missing provider", mutate: func(b *Booking) { b.ProviderID = " " }, wantErr: "invalid_provider_id"},
		{name: "self booking", mutate: func(b *Booking) { b.ProviderID = b.CustomerID }, wantErr: "invalid_provider_id"},
		{name: "negative minimum", mutate: func(b *Booking) { b.MinimumJobPrice = decimal.NewFromInt(-1) }, wantErr: "invalid_minimum_job_price"},
		{name: "negative deposit", mutate: func(b *Booking) { b.DepositAmount = decimal.NewFromInt(-1) }, wantErr: "invalid_deposit_amount"},
		{name: "zero hourly rate", mutate: func(b *Booking) { b.HourlyRate = &zero }, wantErr: "invalid_hourly_rate"},
		{name: "minimum above column capacity", mutate: func(b *Booking) { b.MinimumJobPrice = decimal.NewFromInt(10000000000) }, wantErr: "invalid_minimum_job_price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService()
			b := booking()
			tt.mutate(&b)

			_, err := svc.Create(context.Background(), b)
			var derr *domain.Error
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, domain.KindValidation, derr.Kind)
			assert.Equal(t, tt.wantErr, derr.Code)
		})
	}
}

func TestService_Get(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	job, err := svc.Create(ctx, booking())
	require.NoError(t, err)

	_, err = svc.Get(ctx, "prov-1", job.ID)
	require.NoError(t, err)

	_, err = svc.Get(ctx, "stranger", job.ID)
	assert.ErrorIs(t, err, domain.ErrNotJobParty)

	_, err = svc.Get(ctx, "cust-1", "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestService_ListPages(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i := range 5 {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.now = func() time.Time { return at }
		_, err := svc.Create(ctx, booking())
		require.NoError(t, err)
	}

	filter := domain.JobFilter{CustomerID: "cust-1", PageSize: 2}
	var seen []string
	for {
		page, err := svc.List(ctx, "cust-1", filter)
		require.NoError(t, err)
		for _, job := range page.Jobs {
			seen = append(seen, job.ID)
		}
		if !page.HasMore {
			break
		}
		last := page.Jobs[len(page.Jobs)-1]
		filter.Cursor = &domain.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}
	}

	assert.Len(t, seen, 5)
	assert.Len(t, uniq(seen), 5, fmt.Sprint(seen))
}

func TestService_ListAuthorization(t *testing.T) {
	tests := []struct {
		name    string
		actor   string
		filter  domain.JobFilter
		wantErr error
	}{
		{name: "no scope", actor: "cust-1", filter: domain.JobFilter{}, wantErr: domain.NewValidationError("filter", "")},
		{name: "someone else's jobs", actor: "cust-2", filter: domain.JobFilter{CustomerID: "cust-1"}, wantErr: domain.ErrNotJobParty},
		{name: "provider scope", actor: "prov-1", filter: domain.JobFilter{ProviderID: "prov-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService()
			_, err := svc.List(context.Background(), tt.actor, tt.filter)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_Cancel(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	job, err := svc.Create(ctx, booking())
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, "stranger", job.ID)
	assert.ErrorIs(t, err, domain.ErrNotJobParty)

	cancelled, err := svc.Cancel(ctx, "prov-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = svc.Cancel(ctx, "cust-1", job.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidJobState)
}

func uniq(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
