// Package server exposes the browser side of the login handshake over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	login "github.com/tcomad/unibot"
)

// Orchestrator runs the login steps behind the HTTP endpoints.
type Orchestrator interface {
	BeginLogin(ctx context.Context, fields map[string]string) (*login.Redirect, error)
	HandleCallback(ctx context.Context, state, code string) (*login.PendingSession, error)
	Complete(ctx context.Context, c login.Completion) (login.State, error)
}

// TokenVerifier checks a bearer identity token and extracts its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*login.Completion, error)
}

type Server struct {
	e            *echo.Echo
	orchestrator Orchestrator
	verifier     TokenVerifier
	botName      string
	secure       bool
	logger       *slog.Logger
}

type Args struct {
	Orchestrator Orchestrator
	Verifier     TokenVerifier
	// BotName is the bot's Telegram username, used for the link back to the chat.
	BotName      string
	CookieSecret []byte
	// SecureCookies marks the state cookie Secure; set it when served over https.
	SecureCookies bool
	Logger        *slog.Logger
}

func New(args Args) (*Server, error) {
	switch {
	case args.Orchestrator == nil:
		return nil, fmt.Errorf("no orchestrator provided")
	case args.Verifier == nil:
		return nil, fmt.Errorf("no token verifier provided")
	case len(args.CookieSecret) == 0:
		return nil, fmt.Errorf("no cookie secret provided")
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	s := &Server{
		e:            echo.New(),
		orchestrator: args.Orchestrator,
		verifier:     args.Verifier,
		botName:      args.BotName,
		secure:       args.SecureCookies,
		logger:       args.Logger.With("component", "server"),
	}

	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Renderer = &renderer{t: templates}
	s.e.HTTPErrorHandler = s.handleError

	s.e.Use(middleware.Recover())
	s.e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	s.e.Use(slogecho.New(s.logger))
	s.e.Use(session.Middleware(sessions.NewCookieStore(args.CookieSecret)))

	s.routes()

	return s, nil
}

func (s *Server) routes() {
	s.e.GET("/login", s.handleLogin)
	s.e.GET("/token", s.handleToken)
	s.e.Match([]string{http.MethodGet, http.MethodPost}, "/complete", s.handleComplete, s.bearerAuth())
	s.e.GET("/close", s.handleClose)
	s.e.GET("/healthz", s.handleHealth)
}

func (s *Server) Handler() http.Handler {
	return s.e
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpd := &http.Server{
		Addr:              addr,
		Handler:           s.e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", addr)
		errc <- httpd.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpd.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) handleError(err error, e echo.Context) {
	if e.Response().Committed {
		return
	}

	code := http.StatusInternalServerError

	// access logging wraps handler errors in a 500 HTTPError, so sentinels
	// are matched through it before its own code is used
	var he *echo.HTTPError
	switch {
	case errors.Is(err, login.ErrSignatureInvalid):
		code = http.StatusUnauthorized
	case errors.Is(err, login.ErrAudienceMismatch):
		code = http.StatusForbidden
	case errors.Is(err, login.ErrSessionNotFound):
		code = http.StatusNotFound
	case errors.Is(err, login.ErrInvalidRequest):
		code = http.StatusBadRequest
	case errors.Is(err, login.ErrExchangeFailed):
		code = http.StatusBadGateway
	case errors.As(err, &he):
		code = he.Code
	}

	switch {
	case login.IsClientError(err):
		s.logger.Debug("request rejected", "path", e.Path(), "err", err)
	case code >= http.StatusInternalServerError:
		s.logger.Error("request failed", "path", e.Path(), "err", err)
	}

	if e.Request().Method == http.MethodHead {
		err = e.NoContent(code)
	} else {
		err = e.JSON(code, map[string]string{"error": http.StatusText(code)})
	}

	if err != nil {
		s.logger.Error("could not write error response", "err", err)
	}
}
