package login

import "errors"

var (
	// ErrSignatureInvalid is returned when a widget payload fails verification.
	ErrSignatureInvalid = errors.New("widget signature invalid")
	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("invalid login request")
	// ErrSessionNotFound covers unknown, expired, superseded and consumed sessions.
	ErrSessionNotFound = errors.New("login session not found")
	// ErrExchangeFailed wraps transport and provider errors from the token endpoint.
	ErrExchangeFailed = errors.New("authorization code exchange failed")
	// ErrAudienceMismatch is returned when a token was issued for another client.
	ErrAudienceMismatch = errors.New("token was not issued for this client")
	// ErrDirectoryLookupFailed means the subject could not be resolved to an affiliation.
	ErrDirectoryLookupFailed = errors.New("directory lookup failed")
	// ErrUserNotFound is returned by user stores for unknown chats.
	ErrUserNotFound = errors.New("user not found")
)
