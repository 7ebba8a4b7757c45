package login

import (
	"slices"
	"time"
)

// PendingSession correlates a widget login with its OAuth callback and the
// later completion request. It is single-use.
type PendingSession struct {
	StateToken    string
	ChatID        string
	DisplayName   string
	AvatarURL     string
	IdentityToken string
	CodeVerifier  string
	CreatedAt     time.Time
}

// HasIdentityToken reports whether the code exchange already succeeded.
func (s *PendingSession) HasIdentityToken() bool {
	return s.IdentityToken != ""
}

// AuthenticatedUser is the durable record of a chat that completed login.
type AuthenticatedUser struct {
	ChatID  int64
	GroupID int64
}

// DirectoryUser is what the user directory knows about a token subject.
type DirectoryUser struct {
	FirstName string
	GroupID   *int64
}

// TokenResponse is the part of the token endpoint response the login flow uses.
type TokenResponse struct {
	AccessToken string
	TokenType   string
	Expiry      time.Time
}

// Completion is a verified identity token presented to the completion endpoint.
type Completion struct {
	Token           string
	Subject         string
	AuthorizedParty string
	Audience        []string
}

// IssuedFor reports whether the token was issued for clientID. The authorized
// party claim wins when present; otherwise the audience must contain clientID.
func (c Completion) IssuedFor(clientID string) bool {
	if clientID == "" {
		return false
	}

	if c.AuthorizedParty != "" {
		return c.AuthorizedParty == clientID
	}

	return slices.Contains(c.Audience, clientID)
}

// State is a step of the login handshake.
type State int

const (
	StateWidgetSubmitted State = iota
	StatePendingToken
	StateTokenIssued
	StateCompleted
	StateFailed
	StateInvalid
)

func (s State) String() string {
	switch s {
	case StateWidgetSubmitted:
		return "widget_submitted"
	case StatePendingToken:
		return "pending_token"
	case StateTokenIssued:
		return "token_issued"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}
