// Package tokens verifies identity tokens issued by the identity provider.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	login "github.com/tcomad/unibot"
)

var ErrInvalidToken = errors.New("invalid identity token")

var validMethods = []string{"RS256", "RS384", "RS512", "PS256", "ES256", "ES384"}

type claims struct {
	AuthorizedParty string `json:"azp"`
	jwt.RegisteredClaims
}

type keySource interface {
	Keys(ctx context.Context) (jwk.Set, error)
}

type cachedKeys struct {
	cache *jwk.Cache
	url   string
}

func (c *cachedKeys) Keys(ctx context.Context) (jwk.Set, error) {
	return c.cache.Get(ctx, c.url)
}

type staticKeys struct {
	set jwk.Set
}

func (s *staticKeys) Keys(context.Context) (jwk.Set, error) {
	return s.set, nil
}

// Verifier checks signature, expiry and (optionally) issuer of bearer tokens.
type Verifier struct {
	keys   keySource
	issuer string
	leeway time.Duration
}

type VerifierArgs struct {
	H       *http.Client
	JwksUrl string
	// Keys, when set, is used instead of fetching JwksUrl.
	Keys   jwk.Set
	Issuer string
	Leeway time.Duration
}

// NewVerifier builds a verifier. With a JWKS url the key set is fetched on
// first use and refreshed in the background until ctx is done.
func NewVerifier(ctx context.Context, args VerifierArgs) (*Verifier, error) {
	v := &Verifier{
		issuer: args.Issuer,
		leeway: args.Leeway,
	}

	if args.Keys != nil {
		v.keys = &staticKeys{set: args.Keys}
		return v, nil
	}

	if args.JwksUrl == "" {
		return nil, fmt.Errorf("no jwks url provided")
	}

	if args.H == nil {
		args.H = &http.Client{
			Timeout: login.DefaultHTTPTimeout,
		}
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(args.JwksUrl, jwk.WithHTTPClient(args.H)); err != nil {
		return nil, fmt.Errorf("could not register jwks url: %w", err)
	}

	v.keys = &cachedKeys{cache: cache, url: args.JwksUrl}

	return v, nil
}

// Verify parses raw and returns the completion it carries.
func (v *Verifier) Verify(ctx context.Context, raw string) (*login.Completion, error) {
	set, err := v.keys.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not load signing keys: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(validMethods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var c claims
	if _, err := jwt.ParseWithClaims(raw, &c, keyFunc(set), opts...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return &login.Completion{
		Token:           raw,
		Subject:         c.Subject,
		AuthorizedParty: c.AuthorizedParty,
		Audience:        []string(c.Audience),
	}, nil
}

func keyFunc(set jwk.Set) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)

		var key jwk.Key
		switch {
		case kid != "":
			k, ok := set.LookupKeyID(kid)
			if !ok {
				return nil, fmt.Errorf("unknown key id %q", kid)
			}
			key = k
		case set.Len() == 1:
			k, _ := set.Key(0)
			key = k
		default:
			return nil, fmt.Errorf("token has no key id")
		}

		var raw any
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("could not load public key: %w", err)
		}

		return raw, nil
	}
}
