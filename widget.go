package login

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// HashField is the widget field carrying the payload signature.
const HashField = "hash"

// DataCheckString builds the canonical string a widget payload is signed over:
// every field except hash, ordered by name ignoring case, as key=value lines.
func DataCheckString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == HashField {
			continue
		}
		keys = append(keys, k)
	}

	slices.SortFunc(keys, compareFold)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
	}

	return b.String()
}

// compareFold orders names case-insensitively and falls back to a byte
// comparison so names differing only in case still sort deterministically.
func compareFold(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}

	return strings.Compare(a, b)
}

// SignWidget returns the uppercase hex HMAC-SHA-256 of the payload, keyed with
// SHA-256(secret). The hash field, if present, is ignored.
func SignWidget(fields map[string]string, secret string) string {
	key := sha256.Sum256([]byte(secret))

	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(DataCheckString(fields)))

	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// VerifyWidget checks the hash field of a widget payload against secret.
func VerifyWidget(fields map[string]string, secret string) error {
	hash, ok := fields[HashField]
	if !ok || hash == "" {
		return fmt.Errorf("%w: missing hash", ErrSignatureInvalid)
	}

	expected := SignWidget(fields, secret)
	if subtle.ConstantTimeCompare([]byte(strings.ToUpper(hash)), []byte(expected)) != 1 {
		return ErrSignatureInvalid
	}

	return nil
}
