package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	login "github.com/tcomad/unibot"
)

const (
	botToken = "123:bot-token"
	clientID = "unibot"
	chatID   = "4242"
)

type fakeExchanger struct{}

func (fakeExchanger) ClientID() string { return clientID }

func (fakeExchanger) AuthCodeURL(state, verifier string) string {
	return "https://idp.example/auth?state=" + url.QueryEscape(state)
}

func (fakeExchanger) Exchange(ctx context.Context, code, verifier string) (*login.TokenResponse, error) {
	if code == "bad" {
		return nil, login.ErrExchangeFailed
	}
	return &login.TokenResponse{AccessToken: "token-" + code}, nil
}

type fakeDirectory struct{}

func (fakeDirectory) LookupUser(ctx context.Context, subject string) (*login.DirectoryUser, error) {
	gid := int64(7)
	return &login.DirectoryUser{FirstName: "Ivan", GroupID: &gid}, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed []int64
	failed    []int64
}

func (n *recordingNotifier) OnLoginComplete(ctx context.Context, chatID int64, firstName string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, chatID)
}

func (n *recordingNotifier) OnLoginFail(ctx context.Context, chatID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, chatID)
}

// fakeVerifier accepts tokens prefixed "token-"; "token-foreign" was issued
// for another client.
type fakeVerifier struct{}

func (fakeVerifier) Verify(ctx context.Context, raw string) (*login.Completion, error) {
	if !strings.HasPrefix(raw, "token-") {
		return nil, errors.New("invalid token")
	}

	azp := clientID
	if raw == "token-foreign" {
		azp = "someone-else"
	}

	return &login.Completion{Token: raw, Subject: "sub-1", AuthorizedParty: azp}, nil
}

type harness struct {
	srv      *Server
	users    *login.MemoryUserStore
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	users := login.NewMemoryUserStore()
	notifier := &recordingNotifier{}

	orch, err := login.NewOrchestrator(login.OrchestratorArgs{
		Sessions:     login.NewMemoryStore(login.DefaultSessionTTL),
		Users:        users,
		Exchanger:    fakeExchanger{},
		Directory:    fakeDirectory{},
		Notifier:     notifier,
		WidgetSecret: botToken,
	})
	require.NoError(t, err)

	srv, err := New(Args{
		Orchestrator: orch,
		Verifier:     fakeVerifier{},
		BotName:      "unibot_bot",
		CookieSecret: []byte("cookie-secret"),
	})
	require.NoError(t, err)

	return &harness{srv: srv, users: users, notifier: notifier}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func widgetQuery(fields map[string]string) string {
	fields["hash"] = login.SignWidget(fields, botToken)

	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}
	return q.Encode()
}

func signedLoginQuery() string {
	return widgetQuery(map[string]string{
		"id":         chatID,
		"first_name": "Ivan",
		"username":   "ivan",
		"photo_url":  "https://t.me/i/userpic/ivan.jpg",
		"auth_date":  "1700000000",
	})
}

// beginLogin runs /login and returns the state token and the state cookie.
func (h *harness) beginLogin(t *testing.T) (string, *http.Cookie) {
	t.Helper()

	rec := h.do(httptest.NewRequest(http.MethodGet, "/login?"+signedLoginQuery(), nil))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	return loc.Query().Get("state"), cookies[0]
}

func TestNewValidation(t *testing.T) {
	assert := assert.New(t)

	_, err := New(Args{})
	assert.Error(err)

	_, err = New(Args{Orchestrator: &login.Orchestrator{}, Verifier: fakeVerifier{}})
	assert.ErrorContains(err, "cookie secret")
}

func TestLoginRedirects(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t)

	state, cookie := h.beginLogin(t)

	assert.NotEmpty(state)
	assert.Equal(sessionName, cookie.Name)
	assert.True(cookie.HttpOnly)
}

func TestLoginRejectsBadSignature(t *testing.T) {
	h := newHarness(t)

	q := signedLoginQuery() + "&extra=1"
	rec := h.do(httptest.NewRequest(http.MethodGet, "/login?"+q, nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}

func TestLoginRejectsNonNumericID(t *testing.T) {
	h := newHarness(t)

	q := widgetQuery(map[string]string{"id": "abc", "first_name": "Ivan", "auth_date": "1"})
	rec := h.do(httptest.NewRequest(http.MethodGet, "/login?"+q, nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenRendersLoginPage(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t)

	state, cookie := h.beginLogin(t)

	req := httptest.NewRequest(http.MethodGet, "/token?state="+url.QueryEscape(state)+"&code=abc", nil)
	req.AddCookie(cookie)
	rec := h.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(body, "ivan")
	assert.Contains(body, "https://t.me/unibot_bot")
	assert.Contains(body, `"token-abc"`)
}

func TestTokenErrors(t *testing.T) {
	h := newHarness(t)
	state, cookie := h.beginLogin(t)

	tests := []struct {
		name   string
		query  string
		cookie *http.Cookie
		want   int
	}{
		{name: "missing code", query: "state=" + url.QueryEscape(state), want: http.StatusBadRequest},
		{name: "missing state", query: "code=abc", want: http.StatusBadRequest},
		{name: "unknown state", query: "state=nope&code=abc", want: http.StatusNotFound},
		{name: "cookie mismatch", query: "state=nope&code=abc", cookie: cookie, want: http.StatusBadRequest},
		{name: "exchange failed", query: "state=" + url.QueryEscape(state) + "&code=bad", cookie: cookie, want: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/token?"+tt.query, nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			assert.Equal(t, tt.want, h.do(req).Code)
		})
	}
}

func TestCompleteFlow(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t)
	ctx := context.Background()

	state, _ := h.beginLogin(t)
	rec := h.do(httptest.NewRequest(http.MethodGet, "/token?state="+url.QueryEscape(state)+"&code=abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	complete := func() int {
		req := httptest.NewRequest(http.MethodPost, "/complete", nil)
		req.Header.Set("Authorization", "Bearer token-abc")
		return h.do(req).Code
	}

	assert.Equal(http.StatusAccepted, complete())
	assert.Equal([]int64{4242}, h.notifier.completed)

	user, err := h.users.Get(ctx, 4242)
	require.NoError(t, err)
	assert.Equal(int64(7), user.GroupID)

	// the session was consumed
	assert.Equal(http.StatusNotFound, complete())
	assert.Len(h.notifier.completed, 1)
}

func TestCompleteRejections(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "no header", want: http.StatusBadRequest},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", want: http.StatusBadRequest},
		{name: "invalid token", header: "Bearer garbage", want: http.StatusUnauthorized},
		{name: "foreign client", header: "Bearer token-foreign", want: http.StatusForbidden},
		{name: "no session", header: "Bearer token-unknown", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/complete", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, h.do(req).Code)
		})
	}

	assert.Empty(t, h.notifier.completed)
	assert.Empty(t, h.notifier.failed)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "signature", err: login.ErrSignatureInvalid, want: http.StatusUnauthorized},
		{name: "audience", err: login.ErrAudienceMismatch, want: http.StatusForbidden},
		{name: "session", err: login.ErrSessionNotFound, want: http.StatusNotFound},
		{name: "invalid-request", err: fmt.Errorf("%w: no code", login.ErrInvalidRequest), want: http.StatusBadRequest},
		{name: "exchange", err: fmt.Errorf("%w: upstream 500", login.ErrExchangeFailed), want: http.StatusBadGateway},
		{name: "http-error", err: echo.NewHTTPError(http.StatusTeapot), want: http.StatusTeapot},
		{name: "other", err: errors.New("disk on fire"), want: http.StatusInternalServerError},
	}

	h := newHarness(t)
	for _, tt := range tests {
		tt := tt
		h.srv.e.GET("/fail/"+tt.name, func(echo.Context) error { return tt.err })
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(httptest.NewRequest(http.MethodGet, "/fail/"+tt.name, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestLoginStatusCodes(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		target string
		want   int
	}{
		{target: "/login?id=1&hash=DEADBEEF", want: http.StatusUnauthorized},
		{target: "/token?state=unknown&code=abc", want: http.StatusNotFound},
		{target: "/token?state=x", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		rec := h.do(httptest.NewRequest(http.MethodGet, tt.target, nil))
		assert.Equal(t, tt.want, rec.Code, tt.target)
		assert.Contains(t, rec.Body.String(), http.StatusText(tt.want), tt.target)
	}
}

func TestStaticPages(t *testing.T) {
	assert := assert.New(t)
	h := newHarness(t)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/close", nil))
	assert.Equal(http.StatusOK, rec.Code)
	assert.Contains(rec.Body.String(), "Telegram")

	rec = h.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(http.StatusOK, rec.Code)
	assert.Equal("ok", rec.Body.String())

	rec = h.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(http.StatusNotFound, rec.Code)
}

func TestRunShutsDown(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.srv.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
