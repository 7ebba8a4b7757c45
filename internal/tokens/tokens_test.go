package tokens

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const issuer = "https://idp.example/realms/uni"

func newKey(t *testing.T, kid string) (*rsa.PrivateKey, jwk.Key) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, kid))

	return priv, pub
}

func sign(t *testing.T, priv *rsa.PrivateKey, kid string, c jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	token.Header["kid"] = kid

	s, err := token.SignedString(priv)
	require.NoError(t, err)

	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss": issuer,
		"sub": "student-sub",
		"azp": "unibot",
		"aud": "account",
		"exp": time.Now().Add(time.Minute).Unix(),
		"iat": time.Now().Unix(),
	}
}

func staticVerifier(t *testing.T, keys ...jwk.Key) *Verifier {
	t.Helper()

	set := jwk.NewSet()
	for _, k := range keys {
		require.NoError(t, set.AddKey(k))
	}

	v, err := NewVerifier(context.Background(), VerifierArgs{Keys: set, Issuer: issuer})
	require.NoError(t, err)

	return v
}

func TestVerify(t *testing.T) {
	assert := assert.New(t)

	priv, pub := newKey(t, "k1")
	v := staticVerifier(t, pub)

	raw := sign(t, priv, "k1", validClaims())

	c, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(raw, c.Token)
	assert.Equal("student-sub", c.Subject)
	assert.Equal("unibot", c.AuthorizedParty)
	assert.Equal([]string{"account"}, c.Audience)
	assert.True(c.IssuedFor("unibot"))
}

func TestVerifyRejects(t *testing.T) {
	priv, pub := newKey(t, "k1")
	other, _ := newKey(t, "k2")
	v := staticVerifier(t, pub)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://evil.example"

	noExp := validClaims()
	delete(noExp, "exp")

	noSub := validClaims()
	delete(noSub, "sub")

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"expired":      sign(t, priv, "k1", expired),
		"wrong issuer": sign(t, priv, "k1", wrongIssuer),
		"no expiry":    sign(t, priv, "k1", noExp),
		"no subject":   sign(t, priv, "k1", noSub),
		"unknown kid":  sign(t, priv, "k9", validClaims()),
		"wrong key":    sign(t, other, "k1", validClaims()),
		"alg none":     unsigned,
		"garbage":      "not.a.jwt",
		"empty":        "",
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), raw)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerifyFetchesJWKS(t *testing.T) {
	priv, pub := newKey(t, "k1")

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(set)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v, err := NewVerifier(ctx, VerifierArgs{JwksUrl: srv.URL, Issuer: issuer})
	require.NoError(t, err)

	c, err := v.Verify(ctx, sign(t, priv, "k1", validClaims()))
	require.NoError(t, err)
	assert.Equal(t, "student-sub", c.Subject)
}

func TestNewVerifierRequiresKeys(t *testing.T) {
	_, err := NewVerifier(context.Background(), VerifierArgs{})
	assert.Error(t, err)
}
