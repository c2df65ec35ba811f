// Package gateway is the HTTP client for the external payment gateway. It
// speaks the Paystack-style REST API: transaction initialize and verify,
// plus sub-account creation for automatic settlement.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction statuses reported by the gateway.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
	StatusReversed  = "reversed"
	StatusPending   = "pending"
	StatusOngoing   = "ongoing"
)

// DefaultCurrencies is the supported currency set when none is configured.
var DefaultCurrencies = []string{"KES", "NGN", "GHS", "ZAR", "USD"}

var hundred = decimal.NewFromInt(100)

type Config struct {
	BaseURL        string
	SecretKey      string
	CallbackURL    string
	DefaultRegion  string
	Currencies     []string
	MaxAmount      decimal.Decimal
	ConnectTimeout time.Duration
	Timeout        time.Duration
	VerifyRetries  int
	RetryDelay     time.Duration
	BackoffMult    float64
}

// Client is what the payment and payout components call.
type Client interface {
	Validate(req InitiateRequest) (InitiateRequest, error)
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Verify(ctx context.Context, reference string) (*Transaction, error)
	CreateSubaccount(ctx context.Context, req SubaccountRequest, idempotencyKey string) (*Subaccount, error)
}

var _ Client = (*HTTPClient)(nil)

type InitiateRequest struct {
	JobID    string
	Email    string
	Phone    string
	Amount   decimal.Decimal
	Currency string
	Channels []string
}

type InitiateResult struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
}

type SubaccountRequest struct {
	BusinessName     string
	SettlementBank   string
	AccountNumber    string
	Phone            string
	PercentageCharge decimal.Decimal
}

type Subaccount struct {
	Code string `json:"subaccount_code"`
}

// HTTPClient is the net/http implementation of Client.
type HTTPClient struct {
	cfg        Config
	currencies map[string]struct{}
	http       *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.VerifyRetries <= 0 {
		cfg.VerifyRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.BackoffMult <= 0 {
		cfg.BackoffMult = 2.0
	}
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "KE"
	}
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = DefaultCurrencies
	}

	currencies := make(map[string]struct{}, len(cfg.Currencies))
	for _, c := range cfg.Currencies {
		currencies[strings.ToUpper(c)] = struct{}{}
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout
	transport.ResponseHeaderTimeout = cfg.Timeout

	return &HTTPClient{
		cfg:        cfg,
		currencies: currencies,
		http:       &http.Client{Transport: transport, Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// ValidateCurrency upper-cases c and checks it against the supported set.
func (c *HTTPClient) ValidateCurrency(currency string) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if _, ok := c.currencies[currency]; !ok {
		return "", domain.ErrUnsupportedCurrency.WithMessage("currency %q is not supported", currency)
	}
	return currency, nil
}

// ValidateAmount requires 0 < amount <= MaxAmount with at most two decimals.
func (c *HTTPClient) ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount.WithMessage("amount must be greater than zero")
	}
	if c.cfg.MaxAmount.IsPositive() && amount.GreaterThan(c.cfg.MaxAmount) {
		return domain.ErrInvalidAmount.WithMessage("amount exceeds the maximum of %s", c.cfg.MaxAmount)
	}
	if !amount.Equal(amount.Round(2)) {
		return domain.ErrInvalidAmount.WithMessage("amount has more than two decimal places")
	}
	return nil
}

// Validate applies the checks Initiate makes without calling the gateway.
// The returned request has its currency upper-cased and its phone in E.164
// form.
func (c *HTTPClient) Validate(req InitiateRequest) (InitiateRequest, error) {
	currency, err := c.ValidateCurrency(req.Currency)
	if err != nil {
		return InitiateRequest{}, err
	}
	if err := c.ValidateAmount(req.Amount); err != nil {
		return InitiateRequest{}, err
	}
	if req.JobID == "" {
		return InitiateRequest{}, domain.NewValidationError("job_id", "job id is required")
	}
	req.Currency = currency

	if req.Phone != "" {
		phone, err := NormalizePhone(req.Phone, c.cfg.DefaultRegion)
		if err != nil {
			return InitiateRequest{}, err
		}
		req.Phone = phone
	}
	return req, nil
}

// Initiate starts a charge. It is never retried: a timeout may still have
// created the charge on the gateway side.
func (c *HTTPClient) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	req, err := c.Validate(req)
	if err != nil {
		return nil, err
	}
	currency := req.Currency

	metadata := map[string]string{"job_id": req.JobID}
	if req.Phone != "" {
		metadata["phone"] = req.Phone
	}

	email := req.Email
	if email == "" {
		// The gateway requires an email; phone-only customers get a placeholder.
		email = "customer-" + req.JobID + "@payments.invalid"
	}

	body := map[string]any{
		"email":     email,
		"amount":    req.Amount.Mul(hundred).IntPart(),
		"currency":  currency,
		"reference": NewReference(req.JobID),
		"metadata":  metadata,
	}
	if c.cfg.CallbackURL != "" {
		body["callback_url"] = c.cfg.CallbackURL
	}
	if len(req.Channels) > 0 {
		body["channels"] = req.Channels
	}

	var result InitiateResult
	if err := c.do(ctx, "initiate", http.MethodPost, "/transaction/initialize", body, nil, &result); err != nil {
		return nil, err
	}
	if result.Reference == "" {
		result.Reference = body["reference"].(string)
	}

	c.logger.Info("Charge initiated",
		slog.String("job_id", req.JobID),
		slog.String("reference", result.Reference),
		slog.String("currency", currency),
	)

	return &result, nil
}

// Verify fetches the final state of a charge, retrying transport failures
// with exponential backoff. Rejections are returned immediately.
func (c *HTTPClient) Verify(ctx context.Context, reference string) (*Transaction, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, domain.NewValidationError("reference", "reference is required")
	}

	path := "/transaction/verify/" + url.PathEscape(reference)

	var lastErr error
	for attempt := 0; attempt < c.cfg.VerifyRetries; attempt++ {
		var tx Transaction
		err := c.do(ctx, "verify", http.MethodGet, path, nil, nil, &tx)
		if err == nil {
			return &tx, nil
		}

		lastErr = err
		if !domain.IsRetryable(err) || attempt == c.cfg.VerifyRetries-1 {
			break
		}

		backoffDelay := time.Duration(float64(c.cfg.RetryDelay) * math.Pow(c.cfg.BackoffMult, float64(attempt)))
		c.logger.Warn("Gateway verify failed, retrying...",
			slog.String("reference", reference),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", c.cfg.VerifyRetries),
			slog.Duration("retry_after", backoffDelay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return nil, domain.NewGatewayUnavailableError("verify", ctx.Err())
		case <-time.After(backoffDelay):
		}
	}

	return nil, lastErr
}

// CreateSubaccount registers a settlement destination. The idempotency key
// makes repeated calls return the same gateway object.
func (c *HTTPClient) CreateSubaccount(ctx context.Context, req SubaccountRequest, idempotencyKey string) (*Subaccount, error) {
	body := map[string]any{
		"business_name":     req.BusinessName,
		"settlement_bank":   req.SettlementBank,
		"account_number":    req.AccountNumber,
		"percentage_charge": req.PercentageCharge.InexactFloat64(),
	}
	if req.Phone != "" {
		body["primary_contact_phone"] = req.Phone
	}

	headers := map[string]string{"Idempotency-Key": idempotencyKey}

	var sub Subaccount
	if err := c.do(ctx, "create subaccount", http.MethodPost, "/subaccount", body, headers, &sub); err != nil {
		return nil, err
	}
	if sub.Code == "" {
		return nil, domain.NewGatewayRejectedError("create subaccount", "response carried no subaccount code")
	}

	return &sub, nil
}

// envelope is the gateway's response wrapper.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return domain.NewGatewayUnavailableError(op, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return domain.NewGatewayUnavailableError(op, err)
	}

	if res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests {
		return domain.NewGatewayUnavailableError(op, fmt.Errorf("gateway returned status %d", res.StatusCode))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if res.StatusCode >= http.StatusBadRequest {
			return domain.NewGatewayRejectedError(op, fmt.Sprintf("status %d", res.StatusCode))
		}
		return domain.NewGatewayUnavailableError(op, fmt.Errorf("unreadable gateway response: %w", err))
	}

	if res.StatusCode >= http.StatusBadRequest || !env.Status {
		reason := env.Message
		if reason == "" {
			reason = fmt.Sprintf("status %d", res.StatusCode)
		}
		return domain.NewGatewayRejectedError(op, reason)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return domain.NewGatewayRejectedError(op, "unexpected response data: "+err.Error())
		}
	}

	return nil
}

// NewReference returns a unique charge reference carrying a job id prefix.
func NewReference(jobID string) string {
	prefix := jobID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "job_" + prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsUnavailable reports whether err is a transport-level gateway failure.
func IsUnavailable(err error) bool {
	var derr *domain.Error
	return errors.As(err, &derr) && derr.Kind == domain.KindGatewayUnavailable
}
