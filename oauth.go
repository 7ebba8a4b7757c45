package login

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tcomad/unibot/internal/helpers"
	"golang.org/x/oauth2"
)

// DefaultHTTPTimeout bounds every call made to the identity provider.
const DefaultHTTPTimeout = 5 * time.Second

// Client talks to the identity provider's authorization and token endpoints.
type Client struct {
	h      *http.Client
	config *oauth2.Config
	pkce   bool
}

type ClientArgs struct {
	H            *http.Client
	ClientId     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectUri  string
	Scopes       []string
	PKCE         bool
}

func NewClient(args ClientArgs) (*Client, error) {
	if args.ClientId == "" {
		return nil, fmt.Errorf("no client id provided")
	}

	if args.RedirectUri == "" {
		return nil, fmt.Errorf("no redirect uri provided")
	}

	if args.AuthURL == "" || args.TokenURL == "" {
		return nil, fmt.Errorf("authorization and token endpoints are required")
	}

	if args.H == nil {
		args.H = &http.Client{
			Timeout: DefaultHTTPTimeout,
		}
	}

	if len(args.Scopes) == 0 {
		args.Scopes = []string{"openid"}
	}

	return &Client{
		h: args.H,
		config: &oauth2.Config{
			ClientID:     args.ClientId,
			ClientSecret: args.ClientSecret,
			RedirectURL:  args.RedirectUri,
			Scopes:       args.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   args.AuthURL,
				TokenURL:  args.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		pkce: args.PKCE,
	}, nil
}

// ClientID is the identity this application authenticates as.
func (c *Client) ClientID() string {
	return c.config.ClientID
}

// AuthCodeURL returns the provider's authorization URL for a login attempt.
func (c *Client) AuthCodeURL(state, codeVerifier string) string {
	var opts []oauth2.AuthCodeOption
	if c.pkce && codeVerifier != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", helpers.CodeChallengeS256(codeVerifier)),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}

	return c.config.AuthCodeURL(state, opts...)
}

// Exchange redeems an authorization code at the token endpoint. Every failure
// wraps ErrExchangeFailed.
func (c *Client) Exchange(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty authorization code", ErrExchangeFailed)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.h)

	var opts []oauth2.AuthCodeOption
	if c.pkce && codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	token, err := c.config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}

	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response had no access token", ErrExchangeFailed)
	}

	return &TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		Expiry:      token.Expiry,
	}, nil
}
