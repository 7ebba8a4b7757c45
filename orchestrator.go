package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// TokenExchanger builds authorization URLs and redeems authorization codes.
type TokenExchanger interface {
	ClientID() string
	AuthCodeURL(state, codeVerifier string) string
	Exchange(ctx context.Context, code, codeVerifier string) (*TokenResponse, error)
}

// UserDirectory resolves token subjects to directory users.
type UserDirectory interface {
	LookupUser(ctx context.Context, subject string) (*DirectoryUser, error)
}

// Notifier tells the chat about the outcome of a login. Calls are fire-and-forget.
type Notifier interface {
	OnLoginComplete(ctx context.Context, chatID int64, firstName string)
	OnLoginFail(ctx context.Context, chatID int64)
}

// Redirect is the result of a successful widget login.
type Redirect struct {
	StateToken string
	URL        string
}

// Orchestrator drives the login handshake from widget payload to a stored user.
type Orchestrator struct {
	sessions     SessionStore
	users        UserStore
	exchanger    TokenExchanger
	directory    UserDirectory
	notifier     Notifier
	widgetSecret string
	logger       *slog.Logger
}

type OrchestratorArgs struct {
	Sessions     SessionStore
	Users        UserStore
	Exchanger    TokenExchanger
	Directory    UserDirectory
	Notifier     Notifier
	WidgetSecret string
	Logger       *slog.Logger
}

func NewOrchestrator(args OrchestratorArgs) (*Orchestrator, error) {
	switch {
	case args.Sessions == nil:
		return nil, fmt.Errorf("no session store provided")
	case args.Users == nil:
		return nil, fmt.Errorf("no user store provided")
	case args.Exchanger == nil:
		return nil, fmt.Errorf("no token exchanger provided")
	case args.Directory == nil:
		return nil, fmt.Errorf("no user directory provided")
	case args.Notifier == nil:
		return nil, fmt.Errorf("no notifier provided")
	case args.WidgetSecret == "":
		return nil, fmt.Errorf("no widget secret provided")
	}

	if args.Logger == nil {
		args.Logger = slog.Default()
	}

	return &Orchestrator{
		sessions:     args.Sessions,
		users:        args.Users,
		exchanger:    args.Exchanger,
		directory:    args.Directory,
		notifier:     args.Notifier,
		widgetSecret: args.WidgetSecret,
		logger:       args.Logger.With("component", "login"),
	}, nil
}

// BeginLogin verifies a widget payload, opens a pending session for its chat
// and returns where to send the browser next. Nothing is stored when the
// signature does not verify.
func (o *Orchestrator) BeginLogin(ctx context.Context, fields map[string]string) (*Redirect, error) {
	if err := VerifyWidget(fields, o.widgetSecret); err != nil {
		o.logger.Warn("rejected widget payload", "err", err)
		return nil, err
	}

	chatID := fields["id"]
	if _, err := ParseChatID(chatID); err != nil {
		return nil, err
	}

	sess, err := o.sessions.Create(ctx, chatID, displayName(fields), fields["photo_url"])
	if err != nil {
		return nil, fmt.Errorf("could not create login session: %w", err)
	}

	o.logger.Info("login session created", "chat_id", chatID, "step", StatePendingToken)

	return &Redirect{
		StateToken: sess.StateToken,
		URL:        o.exchanger.AuthCodeURL(sess.StateToken, sess.CodeVerifier),
	}, nil
}

func displayName(fields map[string]string) string {
	if name := strings.TrimSpace(fields["username"]); name != "" {
		return name
	}

	return strings.TrimSpace(fields["first_name"])
}

// HandleCallback redeems the authorization code for the session named by
// state and attaches the resulting identity token to it.
func (o *Orchestrator) HandleCallback(ctx context.Context, state, code string) (*PendingSession, error) {
	if state == "" || code == "" {
		return nil, fmt.Errorf("%w: state and code are required", ErrInvalidRequest)
	}

	sess, err := o.sessions.FindByToken(ctx, state)
	if err != nil {
		return nil, err
	}

	token, err := o.exchanger.Exchange(ctx, code, sess.CodeVerifier)
	if err != nil {
		o.logger.Warn("code exchange failed", "chat_id", sess.ChatID, "err", err)
		return nil, err
	}

	sess, err = o.sessions.AttachIdentityToken(ctx, state, token.AccessToken)
	if err != nil {
		return nil, err
	}

	o.logger.Info("identity token issued", "chat_id", sess.ChatID, "step", StateTokenIssued)

	return sess, nil
}

// Complete finishes the login carrying the verified token c. A token issued
// for another client or matching no session is rejected with an error and
// leaves every store untouched. Otherwise the session is consumed and the
// outcome, StateCompleted or StateFailed, is reported to the chat; directory
// and storage failures only select StateFailed and are not returned.
func (o *Orchestrator) Complete(ctx context.Context, c Completion) (State, error) {
	if !c.IssuedFor(o.exchanger.ClientID()) {
		o.logger.Warn("token issued for another client", "azp", c.AuthorizedParty)
		return StateInvalid, ErrAudienceMismatch
	}

	sess, err := o.sessions.FindByIdentityToken(ctx, c.Token)
	if err != nil {
		return StateInvalid, err
	}

	// whoever deletes the session owns the completion
	if err := o.sessions.Delete(ctx, sess.StateToken); err != nil {
		return StateInvalid, err
	}

	chatID, err := ParseChatID(sess.ChatID)
	if err != nil {
		return StateInvalid, err
	}

	firstName, err := o.register(ctx, chatID, c.Subject)
	if err != nil {
		o.logger.Warn("login failed", "chat_id", chatID, "err", err)
		o.notifier.OnLoginFail(ctx, chatID)
		return StateFailed, nil
	}

	o.logger.Info("login completed", "chat_id", chatID)
	o.notifier.OnLoginComplete(ctx, chatID, firstName)

	return StateCompleted, nil
}

func (o *Orchestrator) register(ctx context.Context, chatID int64, subject string) (string, error) {
	user, err := o.directory.LookupUser(ctx, subject)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDirectoryLookupFailed, err)
	}

	if user == nil || user.GroupID == nil {
		return "", fmt.Errorf("%w: subject has no affiliation", ErrDirectoryLookupFailed)
	}

	if err := o.users.Upsert(ctx, AuthenticatedUser{ChatID: chatID, GroupID: *user.GroupID}); err != nil {
		return "", fmt.Errorf("could not save user: %w", err)
	}

	return user.FirstName, nil
}

// IsClientError reports whether err is caused by the request rather than by
// this service or its dependencies.
func IsClientError(err error) bool {
	return errors.Is(err, ErrSignatureInvalid) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrAudienceMismatch)
}
