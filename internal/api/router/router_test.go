package router

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/jobpay/internal/api/handler"
	"github.com/cuongbtq/jobpay/internal/booking"
	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/cuongbtq/jobpay/internal/events"
	"github.com/cuongbtq/jobpay/internal/gateway"
	"github.com/cuongbtq/jobpay/internal/handshake"
	"github.com/cuongbtq/jobpay/internal/payment"
	"github.com/cuongbtq/jobpay/internal/payout"
	"github.com/cuongbtq/jobpay/internal/quote"
	"github.com/cuongbtq/jobpay/internal/ratelimit"
	"github.com/cuongbtq/jobpay/internal/reconcile"
	"github.com/cuongbtq/jobpay/internal/security"
	"github.com/cuongbtq/jobpay/internal/storage/memory"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "whsec_test"

type fakeGateway struct {
	mu        sync.Mutex
	verifyErr error
	charges   map[string]int64
}

func (f *fakeGateway) Validate(req gateway.InitiateRequest) (gateway.InitiateRequest, error) {
	return req, nil
}

func (f *fakeGateway) Initiate(_ context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ref := "ref-" + req.JobID
	f.charges[ref] = req.Amount.Shift(2).IntPart()
	return &gateway.InitiateResult{Reference: ref, AuthorizationURL: "https://checkout.test/" + ref}, nil
}

func (f *fakeGateway) Verify(_ context.Context, reference string) (*gateway.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &gateway.Transaction{
		ID:        "7001",
		Reference: reference,
		Status:    gateway.StatusSuccess,
		Amount:    f.charges[reference],
		Currency:  "KES",
		Metadata:  gateway.Metadata{JobID: strings.TrimPrefix(reference, "ref-")},
	}, nil
}

func (f *fakeGateway) CreateSubaccount(_ context.Context, _ gateway.SubaccountRequest, key string) (*gateway.Subaccount, error) {
	return &gateway.Subaccount{Code: "ACCT_" + key[len(key)-6:]}, nil
}

type testServer struct {
	engine  *gin.Engine
	store   *memory.Store
	gateway *fakeGateway
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	gw := &fakeGateway{charges: map[string]int64{}}

	payouts := payout.NewRouter(store, gw, payout.Config{}, logger)
	engine := reconcile.NewEngine(store, payouts, events.Discard{}, logger)

	deps := &handler.Dependencies{
		Logger:              logger,
		Jobs:                booking.NewService(store, logger),
		Quotes:              quote.NewService(store, quote.Config{}, logger),
		Handshake:           handshake.NewManager(store, security.NativeSHA256{}, handshake.DefaultConfig(), logger),
		Payments:            payment.NewService(store, gw, payment.DefaultConfig(), logger),
		Payouts:             payouts,
		Webhooks:            reconcile.NewWebhookProcessor(store, engine, webhookSecret, 0, logger),
		Verifier:            reconcile.NewVerifier(gw, engine, logger),
		RateLimiter:         limiter,
		WebhookMaxBodyBytes: 4096,
	}

	return &testServer{engine: SetupRouter(deps), store: store, gateway: gw}
}

func (s *testServer) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(handler.ActorHeader, actor)
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) webhook(t *testing.T, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(handler.SignatureHeader, signature)
	}

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func sign(body []byte) string {
	return hex.EncodeToString(security.SignHMACSHA512([]byte(webhookSecret), body))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

// bookAndFinish drives a job through booking, quote and both handshakes.
func (s *testServer) bookAndFinish(t *testing.T) string {
	t.Helper()

	w := s.do(t, http.MethodPost, "/api/v1/jobs", "cust-1", map[string]any{
		"provider_id":       "prov-1",
		"description":       "fix sink",
		"minimum_job_price": "500",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	jobID := decode(t, w)["job_id"].(string)
	base := "/api/v1/jobs/" + jobID

	w = s.do(t, http.MethodPost, base+"/quote", "prov-1", map[string]any{"total": "1000", "labor": "600"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, base+"/quote/response", "cust-1", map[string]any{"accepted": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.JobStatusConfirmed, decode(t, w)["status"])

	for _, kind := range []string{"start", "end"} {
		w = s.do(t, http.MethodPost, base+"/codes/"+kind, "cust-1", nil)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
		code := decode(t, w)["code"].(string)

		w = s.do(t, http.MethodPost, base+"/verify-"+kind, "prov-1", map[string]any{"code": code})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	return jobID
}

func TestRouter_PaymentLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	jobID := s.bookAndFinish(t)
	base := "/api/v1/jobs/" + jobID

	w := s.do(t, http.MethodPost, base+"/payment", "cust-1", map[string]any{
		"amount": "1000",
		"tip":    "100",
		"phone":  "0712345678",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	checkout := decode(t, w)
	assert.Equal(t, "ref-"+jobID, checkout["reference"])
	assert.Equal(t, "150", checkout["platform_commission"])
	assert.Equal(t, "950", checkout["provider_total"])

	body := []byte(fmt.Sprintf(
		`{"id":555,"event":"charge.success","data":{"id":7001,"reference":"ref-%s","status":"success","amount":110000,"currency":"KES","metadata":{"job_id":%q}}}`,
		jobID, jobID,
	))

	w = s.webhook(t, body, sign(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, string(reconcile.OutcomeCompleted), decode(t, w)["outcome"])

	t.Run("replayed webhook is acknowledged as duplicate", func(t *testing.T) {
		w := s.webhook(t, body, sign(body))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, string(reconcile.OutcomeDuplicate), decode(t, w)["outcome"])
	})

	t.Run("client verify after webhook sees completed", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/v1/payments/verify", "", map[string]any{"reference": "ref-" + jobID})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		out := decode(t, w)
		assert.Equal(t, string(reconcile.OutcomeAlreadyCompleted), out["outcome"])
		assert.Equal(t, domain.PaymentStatusCompleted, out["payment_status"])
	})

	t.Run("job shows completed payment and one payout exists", func(t *testing.T) {
		w := s.do(t, http.MethodGet, base, "prov-1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, domain.PaymentStatusCompleted, decode(t, w)["payment_status"])

		p, err := s.store.GetPayoutByJob(context.Background(), jobID)
		require.NoError(t, err)
		assert.Equal(t, "850", p.NetAmount.Sub(p.TipAmount).String())
	})

	t.Run("second payment is refused", func(t *testing.T) {
		w := s.do(t, http.MethodPost, base+"/payment", "cust-1", map[string]any{"amount": "1000"})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, domain.ErrPaymentAlreadyCompleted.Code, decode(t, w)["code"])
	})
}

func TestRouter_Errors(t *testing.T) {
	s := newTestServer(t, nil)
	jobID := s.bookAndFinish(t)
	base := "/api/v1/jobs/" + jobID

	tests := []struct {
		name     string
		method   string
		path     string
		actor    string
		body     any
		wantCode int
		wantErr  string
	}{
		{name: "missing actor", method: http.MethodGet, path: base, wantCode: http.StatusUnauthorized, wantErr: "missing_actor"},
		{name: "stranger reads job", method: http.MethodGet, path: base, actor: "cust-9", wantCode: http.StatusForbidden, wantErr: domain.ErrNotJobParty.Code},
		{name: "malformed job id", method: http.MethodGet, path: "/api/v1/jobs/not-a-uuid", actor: "cust-1", wantCode: http.StatusBadRequest, wantErr: "invalid_job_id"},
		{name: "unknown job", method: http.MethodGet, path: "/api/v1/jobs/7f2d5a4e-0d67-4a8e-9f3c-111111111111", actor: "cust-1", wantCode: http.StatusNotFound, wantErr: domain.ErrJobNotFound.Code},
		{name: "quote twice", method: http.MethodPost, path: base + "/quote", actor: "prov-1", body: map[string]any{"total": "2000"}, wantCode: http.StatusConflict, wantErr: domain.ErrQuoteAlreadyLocked.Code},
		{name: "missing amount", method: http.MethodPost, path: base + "/payment", actor: "cust-1", body: map[string]any{"tip": "10"}, wantCode: http.StatusBadRequest, wantErr: "invalid_request"},
		{name: "below minimum", method: http.MethodPost, path: base + "/payment", actor: "cust-1", body: map[string]any{"amount": "400"}, wantCode: http.StatusBadRequest, wantErr: domain.ErrAmountBelowMinimum.Code},
		{name: "partial without reason", method: http.MethodPost, path: base + "/payment", actor: "cust-1", body: map[string]any{"amount": "600"}, wantCode: http.StatusBadRequest, wantErr: domain.ErrPartialReasonRequired.Code},
		{name: "cancel after completion", method: http.MethodPost, path: base + "/cancel", actor: "cust-1", wantCode: http.StatusConflict, wantErr: domain.ErrInvalidJobState.Code},
		{name: "other provider's methods", method: http.MethodGet, path: "/api/v1/providers/prov-2/payout-methods", actor: "prov-1", wantCode: http.StatusForbidden, wantErr: "not_provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantErr, decode(t, w)["code"])
		})
	}
}

func TestRouter_EndCodeBeforeStart(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/jobs", "cust-1", map[string]any{"provider_id": "prov-1", "minimum_job_price": "500"})
	require.Equal(t, http.StatusCreated, w.Code)
	base := "/api/v1/jobs/" + decode(t, w)["job_id"].(string)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/quote", "prov-1", map[string]any{"total": "1000"}).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, base+"/quote/response", "cust-1", map[string]any{"accepted": true}).Code)

	w = s.do(t, http.MethodPost, base+"/verify-end", "prov-1", map[string]any{"code": "ABCDEF"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, domain.ErrEndCodeBeforeStart.Code, decode(t, w)["code"])
}

func TestRouter_Webhook(t *testing.T) {
	s := newTestServer(t, nil)

	body := []byte(`{"id":"evt-1","event":"charge.success","data":{"reference":"ref-unknown","status":"success","amount":100}}`)

	tests := []struct {
		name        string
		body        []byte
		signature   string
		wantCode    int
		wantOutcome string
	}{
		{name: "missing signature", body: body, wantCode: http.StatusUnauthorized},
		{name: "bad signature", body: body, signature: strings.Repeat("ab", 64), wantCode: http.StatusUnauthorized},
		{name: "too large", body: bytes.Repeat([]byte("a"), 5000), signature: "x", wantCode: http.StatusRequestEntityTooLarge},
		{name: "malformed payload", body: []byte(`{"data":{}}`), signature: sign([]byte(`{"data":{}}`)), wantCode: http.StatusBadRequest},
		{name: "unknown job is acknowledged", body: body, signature: sign(body), wantCode: http.StatusOK, wantOutcome: string(reconcile.OutcomeJobNotFound)},
		{name: "unhandled event is acknowledged", body: []byte(`{"id":"evt-2","event":"transfer.success","data":{}}`), signature: sign([]byte(`{"id":"evt-2","event":"transfer.success","data":{}}`)), wantCode: http.StatusOK, wantOutcome: string(reconcile.OutcomeIgnored)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.webhook(t, tt.body, tt.signature)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.wantOutcome != "" {
				assert.Equal(t, tt.wantOutcome, decode(t, w)["outcome"])
			}
		})
	}
}

func TestRouter_VerifyGatewayUnavailable(t *testing.T) {
	s := newTestServer(t, nil)
	s.gateway.verifyErr = domain.NewGatewayUnavailableError("verify", errors.New("timeout"))

	w := s.do(t, http.MethodPost, "/api/v1/payments/verify", "", map[string]any{"reference": "ref-x"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decode(t, w)["error"], "still pending")
}

func TestRouter_RateLimit(t *testing.T) {
	s := newTestServer(t, ratelimit.NewFixedWindow(1, time.Minute))
	body := map[string]any{"reference": "ref-x"}

	first := s.do(t, http.MethodPost, "/api/v1/payments/verify", "", body)
	assert.NotEqual(t, http.StatusTooManyRequests, first.Code)

	second := s.do(t, http.MethodPost, "/api/v1/payments/verify", "", body)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Equal(t, domain.ErrRateLimited.Code, decode(t, second)["code"])

	t.Run("webhook has its own budget", func(t *testing.T) {
		payload := []byte(`{"id":"evt-9","event":"transfer.success","data":{}}`)
		w := s.webhook(t, payload, sign(payload))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRouter_ListJobsPagination(t *testing.T) {
	s := newTestServer(t, nil)

	for range 3 {
		w := s.do(t, http.MethodPost, "/api/v1/jobs", "cust-1", map[string]any{"provider_id": "prov-1", "minimum_job_price": "100"})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	seen := map[string]bool{}
	path := "/api/v1/jobs?customer_id=cust-1&page_size=2"
	for pages := 0; pages < 5; pages++ {
		w := s.do(t, http.MethodGet, path, "cust-1", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Jobs []struct {
				JobID string `json:"job_id"`
			} `json:"jobs"`
			NextCursor string `json:"next_cursor"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		for _, j := range resp.Jobs {
			seen[j.JobID] = true
		}
		if resp.NextCursor == "" {
			break
		}
		path = "/api/v1/jobs?customer_id=cust-1&page_size=2&cursor=" + resp.NextCursor
	}

	assert.Len(t, seen, 3)
}

func TestRouter_PayoutMethods(t *testing.T) {
	s := newTestServer(t, nil)
	base := "/api/v1/providers/prov-1/payout-methods"

	w := s.do(t, http.MethodPost, base, "prov-1", map[string]any{
		"method_type":  "mobile_money",
		"account_name": "Jane Provider",
		"phone":        "0712345678",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	method := decode(t, w)
	assert.Equal(t, true, method["is_default"])
	assert.Equal(t, "*********5678", method["phone"])
	methodID := method["method_id"].(string)

	w = s.do(t, http.MethodPost, base+"/"+methodID+"/subaccount", "prov-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["has_subaccount"])

	w = s.do(t, http.MethodGet, base, "prov-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["methods"], 1)
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}
