package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/gateway"
	"github.com/cuongbtq/jobpay/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	initiated []gateway.InitiateRequest
	err       error
}

func (f *fakeGateway) Validate(req gateway.InitiateRequest) (gateway.InitiateRequest, error) {
	return req, nil
}

func (f *fakeGateway) Initiate(_ context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	f.initiated = append(f.initiated, req)
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.InitiateResult{
		Reference:        "ref-" + req.JobID,
		AuthorizationURL: "https://checkout.example/ref-" + req.JobID,
		AccessCode:       "access",
	}, nil
}

func (f *fakeGateway) Verify(context.Context, string) (*gateway.Transaction, error) {
	return nil, errors.New("not used")
}

func (f *fakeGateway) CreateSubaccount(context.Context, gateway.SubaccountRequest, string) (*gateway.Subaccount, error) {
	return nil, errors.New("not used")
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func finishedJob(id string) *domain.Job {
	return &domain.Job{
		ID:              id,
		CustomerID:      "cust-1",
		ProviderID:      "prov-1",
		Status:          domain.JobStatusCompleted,
		QuoteLocked:     true,
		QuoteAccepted:   true,
		QuoteTotal:      decimal.NewNullDecimal(dec("1000")),
		StartCodeUsed:   true,
		EndCodeUsed:     true,
		PaymentStatus:   domain.PaymentStatusPending,
		MinimumJobPrice: dec("500"),
	}
}

func setup(t *testing.T, jobs ...*domain.Job) (*Service, *memory.Store, *fakeGateway) {
	t.Helper()

	store := memory.New()
	for _, job := range jobs {
		require.NoError(t, store.CreateJob(context.Background(), job))
	}
	gw := &fakeGateway{}
	return NewService(store, gw, DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil))), store, gw
}

func TestService_SubmitPartialPaymentScenario(t *testing.T) {
	svc, store, _ := setup(t, finishedJob("job-1"))
	ctx := context.Background()

	_, err := svc.Submit(ctx, "cust-1", "job-1", Request{Amount: dec("500")})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPartialReasonRequired)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	result, err := svc.Submit(ctx, "cust-1", "job-1", Request{Amount: dec("500"), PartialReason: "budget"})
	require.NoError(t, err)
	assert.True(t, result.DisputeFlagged)
	assert.True(t, result.PlatformCommission.Equal(dec("75")))
	assert.True(t, result.ProviderPayout.Equal(dec("425")), "payout %s", result.ProviderPayout)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, job.DisputeFlagged)
	require.NotNil(t, job.PartialPaymentReason)
	assert.Equal(t, "budget", *job.PartialPaymentReason)
	assert.Equal(t, domain.PaymentStatusPending, job.PaymentStatus, "submission never moves payment status")
}

func TestService_SubmitPreconditions(t *testing.T) {
	notAccepted := finishedJob("job-1")
	notAccepted.QuoteAccepted = false

	notEnded := finishedJob("job-1")
	notEnded.EndCodeUsed = false

	paid := finishedJob("job-1")
	paid.PaymentStatus = domain.PaymentStatusCompleted

	tests := []struct {
		name    string
		job     *domain.Job
		caller  string
		req     Request
		wantErr error
	}{
		{name: "quote not accepted", job: notAccepted, req: Request{Amount: dec("1000")}, wantErr: domain.ErrQuoteNotAccepted},
		{name: "end code not verified", job: notEnded, req: Request{Amount: dec("1000")}, wantErr: domain.ErrEndCodeNotVerified},
		{name: "below minimum", job: finishedJob("job-1"), req: Request{Amount: dec("499.99"), PartialReason: "x"}, wantErr: domain.ErrAmountBelowMinimum},
		{name: "tip over half the quote", job: finishedJob("job-1"), req: Request{Amount: dec("1000"), Tip: dec("500.01")}, wantErr: domain.ErrTipTooLarge},
		{name: "blank reason", job: finishedJob("job-1"), req: Request{Amount: dec("900"), PartialReason: "  "}, wantErr: domain.ErrPartialReasonRequired},
		{name: "already paid", job: paid, req: Request{Amount: dec("1000")}, wantErr: domain.ErrPaymentAlreadyCompleted},
		{name: "other customer", job: finishedJob("job-1"), caller: "cust-2", req: Request{Amount: dec("1000")}, wantErr: domain.ErrNotJobParty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := setup(t, tt.job)
			caller := tt.caller
			if caller == "" {
				caller = "cust-1"
			}

			_, err := svc.Submit(context.Background(), caller, "job-1", tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestService_SubmitInputValidation(t *testing.T) {
	svc, _, _ := setup(t, finishedJob("job-1"))

	tests := []struct {
		name string
		req  Request
	}{
		{name: "zero amount", req: Request{Amount: decimal.Zero}},
		{name: "negative tip", req: Request{Amount: dec("1000"), Tip: dec("-1")}},
		{name: "unknown method", req: Request{Amount: dec("1000"), Method: "cheque"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), "cust-1", "job-1", tt.req)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
}

func TestService_SubmitAmountBound(t *testing.T) {
	tests := []struct {
		name      string
		maxAmount decimal.Decimal
		req       Request
	}{
		{name: "above configured maximum", maxAmount: dec("1500"), req: Request{Amount: dec("1000"), Tip: dec("501"), PartialReason: "x"}},
		{name: "above column capacity", req: Request{Amount: dec("10000000000")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			require.NoError(t, store.CreateJob(context.Background(), finishedJob("job-1")))
			cfg := DefaultConfig()
			cfg.MaxAmount = tt.maxAmount
			svc := NewService(store, &fakeGateway{}, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

			_, err := svc.Submit(context.Background(), "cust-1", "job-1", tt.req)
			var derr *domain.Error
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, domain.KindValidation, derr.Kind)
			assert.Equal(t, "invalid_amount", derr.Code)

			job, err := store.GetJob(context.Background(), "job-1")
			require.NoError(t, err)
			assert.False(t, job.PaymentAmount.Valid)
		})
	}
}

func TestService_SubmitFullPaymentWithTip(t *testing.T) {
	svc, _, _ := setup(t, finishedJob("job-1"))

	result, err := svc.Submit(context.Background(), "cust-1", "job-1", Request{Amount: dec("1000"), Tip: dec("200")})
	require.NoError(t, err)
	assert.False(t, result.DisputeFlagged)
	assert.True(t, result.PlatformCommission.Equal(dec("150")))
	assert.True(t, result.ProviderPayout.Equal(dec("850")))
	assert.True(t, result.ProviderTotal.Equal(dec("1050")))
	assert.True(t, result.ChargeAmount.Equal(dec("1200")))
	assert.Equal(t, domain.PaymentMethodMobileMoney, result.Method)
}

func TestService_DisputeTolerance(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.CreateJob(context.Background(), finishedJob("job-1")))

	cfg := DefaultConfig()
	cfg.DisputeTolerance = dec("50")
	svc := NewService(store, &fakeGateway{}, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := svc.Submit(context.Background(), "cust-1", "job-1", Request{Amount: dec("950")})
	require.NoError(t, err)
	assert.False(t, result.DisputeFlagged)

	_, err = svc.Submit(context.Background(), "cust-1", "job-1", Request{Amount: dec("949")})
	assert.ErrorIs(t, err, domain.ErrPartialReasonRequired)
}

func TestService_Checkout(t *testing.T) {
	svc, store, gw := setup(t, finishedJob("job-1"))
	ctx := context.Background()

	result, err := svc.Checkout(ctx, "cust-1", "job-1", CheckoutRequest{
		Request: Request{Amount: dec("1000"), Tip: dec("100")},
		Phone:   "0712345678",
	})
	require.NoError(t, err)
	assert.Equal(t, "ref-job-1", result.Reference)

	require.Len(t, gw.initiated, 1)
	assert.True(t, gw.initiated[0].Amount.Equal(dec("1100")))
	assert.Equal(t, "KES", gw.initiated[0].Currency)
	assert.Equal(t, "job-1", gw.initiated[0].JobID)

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.PaymentReference)
	assert.Equal(t, "ref-job-1", *job.PaymentReference)
	assert.Equal(t, domain.PaymentStatusPending, job.PaymentStatus)

	payment, err := store.GetPaymentByReference(ctx, "ref-job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, payment.Status)
	assert.Equal(t, "prov-1", payment.ProviderID)
	assert.True(t, payment.Amount.Equal(dec("1100")))
	assert.True(t, payment.TipAmount.Equal(dec("100")))
}

func TestService_CheckoutGatewayUnavailable(t *testing.T) {
	svc, store, gw := setup(t, finishedJob("job-1"))
	gw.err = domain.NewGatewayUnavailableError("initiate", errors.New("dial tcp: timeout"))

	_, err := svc.Checkout(context.Background(), "cust-1", "job-1", CheckoutRequest{Request: Request{Amount: dec("1000")}})
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Nil(t, job.PaymentReference)
	assert.Equal(t, domain.PaymentStatusPending, job.PaymentStatus)
}

func TestService_CheckoutRejectedChargeLeavesJobUntouched(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.CreateJob(context.Background(), finishedJob("job-1")))

	gw := gateway.NewHTTPClient(gateway.Config{
		BaseURL:    "http://127.0.0.1:1",
		SecretKey:  "sk_test",
		Currencies: []string{"KES"},
		MaxAmount:  dec("100000"),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc := NewService(store, gw, DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name     string
		req      CheckoutRequest
		wantCode string
	}{
		{
			name: "unsupported currency",
			req: CheckoutRequest{
				Request:  Request{Amount: dec("500"), PartialReason: "budget"},
				Currency: "EUR",
			},
			wantCode: domain.ErrUnsupportedCurrency.Code,
		},
		{
			name: "invalid phone",
			req: CheckoutRequest{
				Request: Request{Amount: dec("500"), PartialReason: "budget"},
				Phone:   "12",
			},
			wantCode: domain.ErrInvalidPhone.Code,
		},
		{
			name: "charge above gateway maximum",
			req: CheckoutRequest{
				Request: Request{Amount: dec("100000"), Tip: dec("1")},
			},
			wantCode: domain.ErrInvalidAmount.Code,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Checkout(context.Background(), "cust-1", "job-1", tt.req)
			require.Error(t, err)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))

			var derr *domain.Error
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, tt.wantCode, derr.Code)

			job, err := store.GetJob(context.Background(), "job-1")
			require.NoError(t, err)
			assert.False(t, job.DisputeFlagged)
			assert.False(t, job.PaymentAmount.Valid)
			assert.Nil(t, job.PartialPaymentReason)
			assert.Nil(t, job.PaymentReference)
		})
	}
}
