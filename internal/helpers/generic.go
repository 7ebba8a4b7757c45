package helpers

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const (
	// 128 bits of login state.
	stateTokenBytes = 16
	// encodes to 43 characters, the shortest verifier RFC 7636 allows
	codeVerifierBytes = 32
)

// NewStateToken returns a random login state token as 32 hex characters.
func NewStateToken() (string, error) {
	return RandomHex(stateTokenBytes)
}

// NewCodeVerifier returns a random PKCE code verifier.
func NewCodeVerifier() (string, error) {
	b, err := randomBytes(codeVerifierBytes)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CodeChallengeS256 derives the S256 PKCE challenge for a verifier.
func CodeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// RandomHex returns n random bytes, hex encoded.
func RandomHex(n int) (string, error) {
	b, err := randomBytes(n)
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
