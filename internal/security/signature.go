package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cuongbtq/jobpay/internal/domain"
)

// VerifyHMACSHA512 checks a hex HMAC-SHA512 signature over the raw body
// using a constant-time comparison.
func VerifyHMACSHA512(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return fmt.Errorf("webhook secret is not configured: %w", domain.ErrInvalidSignature)
	}

	signature = strings.TrimSpace(signature)
	if signature == "" {
		return domain.ErrMissingSignature
	}

	given, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return domain.ErrInvalidSignature
	}

	if subtle.ConstantTimeCompare(SignHMACSHA512(secret, body), given) != 1 {
		return domain.ErrInvalidSignature
	}
	return nil
}

// SignHMACSHA512 returns the raw HMAC-SHA512 of body.
func SignHMACSHA512(secret, body []byte) []byte {
	mac := hmac.New(sha512.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// SubaccountKey derives the idempotency key sent to the gateway when
// registering a provider's payout destination.
func SubaccountKey(providerID, payoutMethodID string) string {
	sum := sha256.Sum256([]byte(providerID + ":" + payoutMethodID))
	return "subacct_" + hex.EncodeToString(sum[:16])
}
