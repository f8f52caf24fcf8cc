package logging

import (
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// Keys that carry ledger identifiers rather than secrets.
var plainKeys = map[string]bool{
	"op":       true,
	"kind":     true,
	"height":   true,
	"position": true,
	"kernel":   true,
	"tx":       true,
	"sender":   true,
	"method":   true,
}

// MaskField logs value under key unless key may carry a secret, in which
// case the value is replaced by RedactedValue. Empty values pass through.
func MaskField(key, value string) slog.Attr {
	if value == "" || plainKeys[strings.ToLower(strings.TrimSpace(key))] {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// Fingerprint logs a stable short digest of value so log lines about the
// same caller can be correlated without recording the caller itself.
func Fingerprint(key, value string) slog.Attr {
	if value == "" {
		return slog.String(key, value)
	}
	sum := crypto.Keccak256([]byte(value))
	return slog.String(key, "fp:"+hex.EncodeToString(sum[:6]))
}
