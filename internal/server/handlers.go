package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	login "github.com/tcomad/unibot"
)

const (
	sessionName     = "unibot"
	sessionStateKey = "login_state"
	completionKey   = "completion"
)

// handleLogin receives the Telegram login widget redirect. Every query
// parameter is part of the signed payload.
func (s *Server) handleLogin(e echo.Context) error {
	fields := make(map[string]string)
	for k, v := range e.QueryParams() {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}

	redirect, err := s.orchestrator.BeginLogin(e.Request().Context(), fields)
	if err != nil {
		return err
	}

	sess, err := session.Get(sessionName, e)
	if err != nil {
		return err
	}

	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(login.DefaultSessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}

	// make sure the session is empty
	sess.Values = map[interface{}]interface{}{}
	sess.Values[sessionStateKey] = redirect.StateToken

	if err := sess.Save(e.Request(), e.Response()); err != nil {
		return err
	}

	return e.Redirect(http.StatusFound, redirect.URL)
}

// handleToken is the identity provider's redirect target.
func (s *Server) handleToken(e echo.Context) error {
	state := e.QueryParam("state")
	code := e.QueryParam("code")

	if state == "" || code == "" {
		return fmt.Errorf("%w: request missing needed parameters", login.ErrInvalidRequest)
	}

	sess, err := session.Get(sessionName, e)
	if err != nil {
		return err
	}

	// the cookie is absent when the provider page was opened in another browser
	if sessState, ok := sess.Values[sessionStateKey].(string); ok && sessState != state {
		return fmt.Errorf("%w: session state does not match response state", login.ErrInvalidRequest)
	}

	pending, err := s.orchestrator.HandleCallback(e.Request().Context(), state, code)
	if err != nil {
		return err
	}

	sess.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	}

	if err := sess.Save(e.Request(), e.Response()); err != nil {
		return err
	}

	return e.Render(http.StatusOK, "login.html", loginPage{
		DisplayName: pending.DisplayName,
		AvatarURL:   pending.AvatarURL,
		UserLink:    s.userLink(pending),
		Token:       pending.IdentityToken,
	})
}

func (s *Server) userLink(p *login.PendingSession) string {
	name := s.botName
	if name == "" {
		name = p.DisplayName
	}
	return "https://t.me/" + name
}

func (s *Server) bearerAuth() echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, e echo.Context) (bool, error) {
			c, err := s.verifier.Verify(e.Request().Context(), key)
			if err != nil {
				s.logger.Warn("rejected bearer token", "err", err)
				return false, nil
			}

			e.Set(completionKey, c)
			return true, nil
		},
	})
}

// handleComplete accepts both outcomes of a consumed session; the chat is
// told which one it was.
func (s *Server) handleComplete(e echo.Context) error {
	c, ok := e.Get(completionKey).(*login.Completion)
	if !ok {
		return echo.ErrUnauthorized
	}

	state, err := s.orchestrator.Complete(e.Request().Context(), *c)
	if err != nil {
		return err
	}

	s.logger.Debug("completion handled", "step", state)

	return e.NoContent(http.StatusAccepted)
}

func (s *Server) handleClose(e echo.Context) error {
	return e.Render(http.StatusOK, "close.html", nil)
}

func (s *Server) handleHealth(e echo.Context) error {
	return e.String(http.StatusOK, "ok")
}
