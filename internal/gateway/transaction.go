package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a charge as reported by verify and by webhook events.
// Amount is in minor units as sent by the gateway.
type Transaction struct {
	ID              json.Number `json:"id"`
	Reference       string      `json:"reference"`
	Status          string      `json:"status"`
	Amount          int64       `json:"amount"`
	Currency        string      `json:"currency"`
	Channel         string      `json:"channel"`
	GatewayResponse string      `json:"gateway_response"`
	PaidAt          string      `json:"paid_at"`
	Metadata        Metadata    `json:"metadata"`
}

// MajorAmount converts the minor-unit amount to the currency's major unit.
func (t *Transaction) MajorAmount() decimal.Decimal {
	return decimal.New(t.Amount, -2)
}

// PaidTime parses PaidAt, falling back to fallback when absent or malformed.
func (t *Transaction) PaidTime(fallback time.Time) time.Time {
	if paid, err := time.Parse(time.RFC3339, t.PaidAt); err == nil {
		return paid.UTC()
	}
	return fallback
}

func (t *Transaction) Succeeded() bool {
	return t.Status == StatusSuccess
}

// Failed reports a terminal unsuccessful charge. Pending and ongoing
// charges are neither succeeded nor failed.
func (t *Transaction) Failed() bool {
	switch t.Status {
	case StatusFailed, StatusAbandoned, StatusReversed:
		return true
	}
	return false
}

// Metadata is the free-form object attached at initiation. Gateways echo it
// back as an object, as a JSON-encoded string, or as an empty string.
type Metadata struct {
	JobID string
	Phone string
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" || !strings.HasPrefix(s, "{") {
			return nil
		}
		data = []byte(s)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.JobID = stringValue(raw["job_id"])
	m.Phone = stringValue(raw["phone"])
	return nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	out := map[string]string{}
	if m.JobID != "" {
		out["job_id"] = m.JobID
	}
	if m.Phone != "" {
		out["phone"] = m.Phone
	}
	return json.Marshal(out)
}

func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}
