package reconcile

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/events"
	"github.com/cuongbtq/jobpay/internal/gateway"
	"github.com/cuongbtq/jobpay/internal/payout"
	"github.com/cuongbtq/jobpay/internal/security"
	"github.com/cuongbtq/jobpay/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event events.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu    sync.Mutex
	tx    *gateway.Transaction
	err   error
	calls int
}

func (f *fakeGateway) Validate(req gateway.InitiateRequest) (gateway.InitiateRequest, error) {
	return req, nil
}

func (f *fakeGateway) Initiate(context.Context, gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeGateway) Verify(context.Context, string) (*gateway.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	tx := *f.tx
	return &tx, nil
}

func (f *fakeGateway) CreateSubaccount(context.Context, gateway.SubaccountRequest, string) (*gateway.Subaccount, error) {
	return nil, errors.New("not used")
}

type harness struct {
	store     *memory.Store
	publisher *recordingPublisher
	gateway   *fakeGateway
	engine    *Engine
	webhooks  *WebhookProcessor
	verifier  *Verifier
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memory.New()
	ref := "ref-1"
	require.NoError(t, store.CreateJob(context.Background(), &domain.Job{
		ID:               "job-1",
		CustomerID:       "cust-1",
		ProviderID:       "prov-1",
		Status:           domain.JobStatusCompleted,
		QuoteAccepted:    true,
		QuoteTotal:       decimal.NewNullDecimal(decimal.NewFromInt(5000)),
		EndCodeUsed:      true,
		PaymentStatus:    domain.PaymentStatusPending,
		PaymentAmount:    decimal.NewNullDecimal(decimal.NewFromInt(5000)),
		PaymentReference: &ref,
	}))

	logger := discardLogger()
	publisher := &recordingPublisher{}
	gw := &fakeGateway{tx: successTx()}
	router := payout.NewRouter(store, gw, payout.Config{}, logger)
	engine := NewEngine(store, router, publisher, logger)

	return &harness{
		store:     store,
		publisher: publisher,
		gateway:   gw,
		engine:    engine,
		webhooks:  NewWebhookProcessor(store, engine, secret, 0, logger),
		verifier:  NewVerifier(gw, engine, logger),
	}
}

func successTx() *gateway.Transaction {
	return &gateway.Transaction{
		ID:        "9001",
		Reference: "ref-1",
		Status:    gateway.StatusSuccess,
		Amount:    500000,
		Currency:  "KES",
		Channel:   "mobile_money",
		PaidAt:    "2026-03-02T12:00:00Z",
		Metadata:  gateway.Metadata{JobID: "job-1"},
	}
}

func webhookBody(event, jobID, reference, status string, amountMinor int64) []byte {
	return []byte(fmt.Sprintf(
		`{"event":%q,"data":{"id":9001,"reference":%q,"status":%q,"amount":%d,"currency":"KES","channel":"mobile_money","gateway_response":"Declined","metadata":{"job_id":%q}}}`,
		event, reference, status, amountMinor, jobID))
}

func sign(body []byte) string {
	return hex.EncodeToString(security.SignHMACSHA512([]byte(secret), body))
}

func TestWebhookAndVerifyRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := webhookBody(EventChargeSuccess, "job-1", "ref-1", "success", 500000)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
	)
	record := func(o Outcome) {
		mu.Lock()
		outcomes[o]++
		mu.Unlock()
	}

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			o, err := h.webhooks.Handle(ctx, body, sign(body))
			assert.NoError(t, err)
			record(o)
		}()
		go func() {
			defer wg.Done()
			res, err := h.verifier.Verify(ctx, "ref-1")
			if assert.NoError(t, err) {
				assert.Equal(t, domain.PaymentStatusCompleted, res.PaymentStatus)
				record(res.Outcome)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[OutcomeCompleted], "exactly one caller wins: %v", outcomes)
	assert.Equal(t, 1, h.store.PayoutCount())
	assert.Equal(t, 1, h.publisher.count(domain.EventPaymentCompleted))

	p, err := h.store.GetPayoutByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(5000)))
	assert.True(t, p.PlatformFee.Equal(decimal.NewFromInt(750)))
	assert.True(t, p.NetAmount.Equal(decimal.NewFromInt(4250)))

	job, err := h.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, job.PaymentStatus)
	assert.True(t, job.FinalPaid)

	payment, err := h.store.GetPaymentByReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, payment.Status)
}

func TestWebhook_ReplayedEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := webhookBody(EventChargeSuccess, "job-1", "ref-1", "success", 500000)

	outcome, err := h.webhooks.Handle(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	outcome, err = h.webhooks.Handle(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	// A fresh process has an empty cache; the durable ledger still dedups.
	restarted := NewWebhookProcessor(h.store, h.engine, secret, 0, discardLogger())
	outcome, err = restarted.Handle(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	assert.Equal(t, 1, h.store.PayoutCount())
	assert.Equal(t, 1, h.publisher.count(domain.EventPaymentCompleted))

	event, err := h.store.GetWebhookEvent(ctx, "charge.success:9001")
	require.NoError(t, err)
	assert.True(t, event.Processed)
}

func TestWebhook_Rejections(t *testing.T) {
	body := webhookBody(EventChargeSuccess, "job-1", "ref-1", "success", 500000)

	tests := []struct {
		name      string
		body      []byte
		signature string
		wantKind  domain.Kind
		wantErr   error
	}{
		{name: "missing signature", body: body, signature: "", wantKind: domain.KindAuthentication, wantErr: domain.ErrMissingSignature},
		{name: "wrong signature", body: body, signature: sign([]byte("other")), wantKind: domain.KindAuthentication, wantErr: domain.ErrInvalidSignature},
		{name: "not hex", body: body, signature: "zz", wantKind: domain.KindAuthentication, wantErr: domain.ErrInvalidSignature},
		{name: "unparseable", body: []byte(`{"event":`), signature: sign([]byte(`{"event":`)), wantKind: domain.KindValidation, wantErr: domain.ErrMalformedPayload},
		{name: "no event type", body: []byte(`{"data":{}}`), signature: sign([]byte(`{"data":{}}`)), wantKind: domain.KindValidation, wantErr: domain.ErrMalformedPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.webhooks.Handle(context.Background(), tt.body, tt.signature)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, domain.KindOf(err))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, h.store.PayoutCount())
		})
	}
}

func TestWebhook_UnknownJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	body := webhookBody(EventChargeSuccess, "job-404", "ref-404", "success", 100000)

	outcome, err := h.webhooks.Handle(ctx, body, sign(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeJobNotFound, outcome)
	assert.Equal(t, 0, h.store.PayoutCount())

	event, err := h.store.GetWebhookEvent(ctx, "charge.success:9001")
	require.NoError(t, err)
	assert.True(t, event.Processed)
	require.NotNil(t, event.ProcessingError)
}

func TestWebhook_LateFailureDoesNotRegress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	success := webhookBody(EventChargeSuccess, "job-1", "ref-1", "success", 500000)
	_, err := h.webhooks.Handle(ctx, success, sign(success))
	require.NoError(t, err)

	failure := []byte(`{"id":"evt-late","event":"charge.failed","data":{"id":9002,"reference":"ref-1","status":"failed","amount":500000,"metadata":{"job_id":"job-1"}}}`)
	outcome, err := h.webhooks.Handle(ctx, failure, sign(failure))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyCompleted, outcome)

	job, err := h.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, job.PaymentStatus)
	assert.Nil(t, job.PaymentLastError)
	assert.Equal(t, 0, h.publisher.count(domain.EventPaymentFailed))
}

func TestEngine_FailureThenSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	outcome, err := h.engine.Apply(ctx, Charge{JobID: "job-1", Reference: "ref-1", Status: gateway.StatusFailed, Reason: "Declined"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	job, err := h.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, job.PaymentStatus)
	require.NotNil(t, job.PaymentLastError)
	assert.Equal(t, "Declined", *job.PaymentLastError)
	assert.Equal(t, 0, h.store.PayoutCount())
	assert.Equal(t, 1, h.publisher.count(domain.EventPaymentFailed))

	outcome, err = h.engine.Apply(ctx, Charge{JobID: "job-1", Reference: "ref-1", Status: gateway.StatusSuccess, Amount: decimal.NewFromInt(5000)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, 1, h.store.PayoutCount())
}

func TestEngine_ResolvesByReference(t *testing.T) {
	h := newHarness(t)

	outcome, err := h.engine.ApplyChargeSuccess(context.Background(), Charge{Reference: "ref-1", Amount: decimal.NewFromInt(5000)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
}

func TestEngine_PendingChargeChangesNothing(t *testing.T) {
	h := newHarness(t)

	outcome, err := h.engine.Apply(context.Background(), Charge{JobID: "job-1", Reference: "ref-1", Status: gateway.StatusOngoing})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, outcome)
	assert.Equal(t, 0, h.store.PayoutCount())
}

func TestVerifier_GatewayUnavailableKeepsPending(t *testing.T) {
	h := newHarness(t)
	h.gateway.err = domain.NewGatewayUnavailableError("verify", errors.New("dial tcp: i/o timeout"))

	_, err := h.verifier.Verify(context.Background(), "ref-1")
	require.Error(t, err)
	assert.True(t, domain.IsRetryable(err))

	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, derr.Message, "still pending")

	job, err := h.store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, job.PaymentStatus)
}

func TestVerifier_FailedCharge(t *testing.T) {
	h := newHarness(t)
	h.gateway.tx.Status = gateway.StatusAbandoned
	h.gateway.tx.GatewayResponse = "The transaction was abandoned"

	res, err := h.verifier.Verify(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, domain.PaymentStatusPending, res.PaymentStatus)

	_, err = h.verifier.Verify(context.Background(), " ")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

type failingPayouts struct {
	calls int
}

func (f *failingPayouts) CreateForJob(context.Context, string) (*domain.Payout, bool, error) {
	f.calls++
	return nil, false, errors.New("connection reset")
}

func TestEngine_PublishesCompletionWhenPayoutFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	payouts := &failingPayouts{}
	engine := NewEngine(h.store, payouts, h.publisher, discardLogger())

	outcome, err := engine.ApplyChargeSuccess(ctx, Charge{JobID: "job-1", Reference: "ref-1", Amount: decimal.NewFromInt(5000)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ensure payout")
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, 1, payouts.calls)

	job, err := h.store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, job.PaymentStatus)
	assert.Equal(t, 0, h.store.PayoutCount())
	require.Equal(t, 1, h.publisher.count(domain.EventPaymentCompleted))
	assert.Equal(t, "job-1", h.publisher.events[0].JobID)

	// A retried delivery does not publish twice.
	_, err = engine.ApplyChargeSuccess(ctx, Charge{JobID: "job-1", Reference: "ref-1", Amount: decimal.NewFromInt(5000)})
	require.Error(t, err)
	assert.Equal(t, 1, h.publisher.count(domain.EventPaymentCompleted))
}
