package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	login "github.com/tcomad/unibot"
	"github.com/tcomad/unibot/internal/bot"
	"github.com/tcomad/unibot/internal/education"
	"github.com/tcomad/unibot/internal/server"
	"github.com/tcomad/unibot/internal/store"
	"github.com/tcomad/unibot/internal/tokens"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// long polling holds the request open for pollTimeout seconds
const pollTimeout = 30

func main() {
	app := &cli.App{
		Name:    "unibot",
		Usage:   "telegram bot for the university education app",
		Version: versioninfo.Short(),
		Flags:   flags,
		Action:  run,
	}

	if err := loadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	app.RunAndExitOnError()
}

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "listen-addr",
		Value:   ":8080",
		EnvVars: []string{"UNIBOT_LISTEN_ADDR"},
	},
	&cli.StringFlag{
		Name:     "public-url",
		Usage:    "base url the login endpoints are reachable at",
		EnvVars:  []string{"UNIBOT_PUBLIC_URL"},
		Required: true,
	},
	&cli.StringFlag{
		Name:     "bot-token",
		EnvVars:  []string{"UNIBOT_BOT_TOKEN"},
		Required: true,
	},
	&cli.StringFlag{
		Name:    "bot-name",
		Usage:   "telegram username of the bot, used for links back to the chat",
		EnvVars: []string{"UNIBOT_BOT_NAME"},
	},
	&cli.StringFlag{
		Name:     "oidc-auth-url",
		EnvVars:  []string{"UNIBOT_OIDC_AUTH_URL"},
		Required: true,
	},
	&cli.StringFlag{
		Name:     "oidc-token-url",
		EnvVars:  []string{"UNIBOT_OIDC_TOKEN_URL"},
		Required: true,
	},
	&cli.StringFlag{
		Name:     "oidc-jwks-url",
		EnvVars:  []string{"UNIBOT_OIDC_JWKS_URL"},
		Required: true,
	},
	&cli.StringFlag{
		Name:    "oidc-issuer",
		Usage:   "expected iss of identity tokens; unchecked when empty",
		EnvVars: []string{"UNIBOT_OIDC_ISSUER"},
	},
	&cli.StringFlag{
		Name:     "oidc-client-id",
		EnvVars:  []string{"UNIBOT_OIDC_CLIENT_ID"},
		Required: true,
	},
	&cli.StringFlag{
		Name:    "oidc-client-secret",
		EnvVars: []string{"UNIBOT_OIDC_CLIENT_SECRET"},
	},
	&cli.BoolFlag{
		Name:    "oidc-pkce",
		EnvVars: []string{"UNIBOT_OIDC_PKCE"},
	},
	&cli.StringFlag{
		Name:     "education-api-url",
		EnvVars:  []string{"UNIBOT_EDUCATION_API_URL"},
		Required: true,
	},
	&cli.StringFlag{
		Name:    "education-token-url",
		Usage:   "client credentials token endpoint; defaults to --oidc-token-url",
		EnvVars: []string{"UNIBOT_EDUCATION_TOKEN_URL"},
	},
	&cli.StringFlag{
		Name:    "db-path",
		Value:   "unibot.db",
		EnvVars: []string{"UNIBOT_DB_PATH"},
	},
	&cli.StringFlag{
		Name:     "cookie-secret",
		EnvVars:  []string{"UNIBOT_COOKIE_SECRET"},
		Required: true,
	},
	&cli.DurationFlag{
		Name:    "http-timeout",
		Value:   login.DefaultHTTPTimeout,
		EnvVars: []string{"UNIBOT_HTTP_TIMEOUT"},
	},
	&cli.StringFlag{
		Name:    "first-week-start",
		Usage:   "first day of the first study week, dd.mm.yyyy",
		EnvVars: []string{"UNIBOT_FIRST_WEEK_START"},
	},
	&cli.IntFlag{
		Name:    "send-rps",
		Value:   20,
		EnvVars: []string{"UNIBOT_SEND_RPS"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: []string{"UNIBOT_LOG_LEVEL"},
	},
	&cli.StringFlag{
		Name:    "log-format",
		Value:   "text",
		Usage:   "text or json",
		EnvVars: []string{"UNIBOT_LOG_FORMAT"},
	},
}

// loadEnv fills the environment from UNIBOT_ENV_FILE (default .env) so that
// flags pick the values up. A missing file is not an error.
func loadEnv() error {
	path := os.Getenv("UNIBOT_ENV_FILE")
	if path == "" {
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("could not load %s: %w", path, err)
	}
	return nil
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func run(cmd *cli.Context) error {
	logger, err := newLogger(cmd.String("log-level"), cmd.String("log-format"))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting unibot", "version", versioninfo.Short())

	ctx, stop := signal.NotifyContext(cmd.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	publicUrl, err := url.Parse(cmd.String("public-url"))
	if err != nil {
		return fmt.Errorf("invalid public url: %w", err)
	}

	firstWeekStart, err := bot.ParseWeekStart(cmd.String("first-week-start"))
	if err != nil {
		return err
	}

	h := &http.Client{Timeout: cmd.Duration("http-timeout")}

	db, err := store.Open(cmd.String("db-path"))
	if err != nil {
		return err
	}

	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	sessions := store.NewSessionStore(db, login.DefaultSessionTTL)
	users := store.NewUserStore(db)

	if n, err := sessions.DeleteExpired(ctx); err != nil {
		logger.Warn("could not remove expired login sessions", "err", err)
	} else if n > 0 {
		logger.Info("removed expired login sessions", "count", n)
	}

	exchanger, err := login.NewClient(login.ClientArgs{
		H:            h,
		ClientId:     cmd.String("oidc-client-id"),
		ClientSecret: cmd.String("oidc-client-secret"),
		AuthURL:      cmd.String("oidc-auth-url"),
		TokenURL:     cmd.String("oidc-token-url"),
		RedirectUri:  publicUrl.JoinPath("token").String(),
		PKCE:         cmd.Bool("oidc-pkce"),
	})
	if err != nil {
		return err
	}

	verifier, err := tokens.NewVerifier(ctx, tokens.VerifierArgs{
		H:       h,
		JwksUrl: cmd.String("oidc-jwks-url"),
		Issuer:  cmd.String("oidc-issuer"),
	})
	if err != nil {
		return err
	}

	eduTokenUrl := cmd.String("education-token-url")
	if eduTokenUrl == "" {
		eduTokenUrl = cmd.String("oidc-token-url")
	}

	edu, err := education.NewClient(ctx, education.ClientArgs{
		H:            h,
		BaseUrl:      cmd.String("education-api-url"),
		TokenUrl:     eduTokenUrl,
		ClientId:     cmd.String("oidc-client-id"),
		ClientSecret: cmd.String("oidc-client-secret"),
	})
	if err != nil {
		return err
	}

	// long polling needs more than the per-call timeout
	api, err := tgbotapi.NewBotAPIWithClient(
		cmd.String("bot-token"),
		tgbotapi.APIEndpoint,
		&http.Client{Timeout: pollTimeout*time.Second + cmd.Duration("http-timeout")},
	)
	if err != nil {
		return fmt.Errorf("could not connect to telegram: %w", err)
	}

	botName := cmd.String("bot-name")
	if botName == "" {
		botName = api.Self.UserName
	}

	b, err := bot.New(bot.Args{
		API:            api,
		Users:          users,
		Education:      edu,
		LoginUrl:       publicUrl.JoinPath("login").String(),
		FirstWeekStart: firstWeekStart,
		SendRPS:        cmd.Int("send-rps"),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	orchestrator, err := login.NewOrchestrator(login.OrchestratorArgs{
		Sessions:     sessions,
		Users:        users,
		Exchanger:    exchanger,
		Directory:    edu,
		Notifier:     b,
		WidgetSecret: cmd.String("bot-token"),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Args{
		Orchestrator:  orchestrator,
		Verifier:      verifier,
		BotName:       botName,
		CookieSecret:  []byte(cmd.String("cookie-secret")),
		SecureCookies: publicUrl.Scheme == "https",
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx, cmd.String("listen-addr")) })
	g.Go(func() error { return b.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("unibot stopped")
	return nil
}
