package login

import (
	"fmt"
	"strconv"

	"github.com/tcomad/unibot/internal/helpers"
)

func newStateToken() (string, error) {
	token, err := helpers.NewStateToken()
	if err != nil {
		return "", fmt.Errorf("could not generate state token: %w", err)
	}

	return token, nil
}

func newCodeVerifier() (string, error) {
	verifier, err := helpers.NewCodeVerifier()
	if err != nil {
		return "", fmt.Errorf("could not generate pkce verifier: %w", err)
	}

	return verifier, nil
}

// ParseChatID parses the string form of a chat identifier.
func ParseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: chat id %q is not an integer", ErrInvalidRequest, s)
	}

	return id, nil
}
