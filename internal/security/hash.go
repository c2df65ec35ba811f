// Package security holds the hashing, signature and code-generation
// primitives shared by the handshake, webhook and payout components.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// Hasher produces a SHA-256 digest. Every implementation must be
// byte-identical for the same input.
type Hasher interface {
	Sum(data []byte) [32]byte
	Name() string
}

// HexDigest hashes s with h and returns the lowercase hex digest.
func HexDigest(h Hasher, s string) string {
	sum := h.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// NativeSHA256 uses the crypto/sha256 primitive.
type NativeSHA256 struct{}

func (NativeSHA256) Sum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

func (NativeSHA256) Name() string {
	return "native"
}

// knownVectors are FIPS 180-2 test vectors used to probe an implementation.
var knownVectors = []struct {
	input  string
	digest string
}{
	{"", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"},
	{"abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
	{"abcdbcdecdefdefgefghfghighijhijkijkljklmklmnlmnomnopnopq", "248d6a61d20638b8e5c026930c3e6039a33ce45964ff2167f6ecedd419db06c1"},
}

// Probe reports whether h reproduces the known test vectors.
func Probe(h Hasher) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	for _, v := range knownVectors {
		if HexDigest(h, v.input) != v.digest {
			return false
		}
	}
	return true
}

// SelectHasher probes the native primitive once and falls back to the
// portable implementation when it is unavailable or misbehaves.
func SelectHasher(logger *slog.Logger) Hasher {
	return selectHasher(NativeSHA256{}, logger)
}

func selectHasher(native Hasher, logger *slog.Logger) Hasher {
	if Probe(native) {
		logger.Debug("Using native SHA-256 hasher")
		return native
	}

	logger.Warn("Native SHA-256 unavailable, using portable implementation",
		slog.String("native", native.Name()),
	)
	return PortableSHA256{}
}
