package security

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// CodeAlphabet leaves out characters that read alike (0/O, 1/I).
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength is the length of handshake codes.
const DefaultCodeLength = 6

// GenerateCode returns n characters drawn uniformly from alphabet.
func GenerateCode(alphabet string, n int) (string, error) {
	if n <= 0 || alphabet == "" {
		return "", fmt.Errorf("invalid code parameters: length=%d alphabet=%d", n, len(alphabet))
	}

	limit := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode upper-cases and trims user input before hashing.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
