package login

import (
	"context"
	"sync"
	"time"
)

// DefaultSessionTTL bounds how long a pending login stays usable.
const DefaultSessionTTL = 15 * time.Minute

// SessionStore keeps pending logins keyed by state token. Implementations keep
// at most one session per chat: Create removes any earlier session for the same
// chat before storing the new one, and Delete reports ErrSessionNotFound when
// nothing was removed so that only one caller can consume a session.
type SessionStore interface {
	Create(ctx context.Context, chatID, displayName, avatarURL string) (*PendingSession, error)
	FindByToken(ctx context.Context, stateToken string) (*PendingSession, error)
	AttachIdentityToken(ctx context.Context, stateToken, identityToken string) (*PendingSession, error)
	FindByIdentityToken(ctx context.Context, identityToken string) (*PendingSession, error)
	Delete(ctx context.Context, stateToken string) error
}

// UserStore persists authenticated users.
type UserStore interface {
	Upsert(ctx context.Context, user AuthenticatedUser) error
	Get(ctx context.Context, chatID int64) (*AuthenticatedUser, error)
}

// NewPendingSession builds a session with fresh state and verifier values.
func NewPendingSession(chatID, displayName, avatarURL string, now time.Time) (*PendingSession, error) {
	state, err := newStateToken()
	if err != nil {
		return nil, err
	}

	verifier, err := newCodeVerifier()
	if err != nil {
		return nil, err
	}

	return &PendingSession{
		StateToken:   state,
		ChatID:       chatID,
		DisplayName:  displayName,
		AvatarURL:    avatarURL,
		CodeVerifier: verifier,
		CreatedAt:    now,
	}, nil
}

// MemoryStore is a SessionStore held in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]PendingSession
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore returns an empty store. A ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: map[string]PendingSession{},
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemoryStore) expired(s PendingSession) bool {
	return m.ttl > 0 && m.now().Sub(s.CreatedAt) > m.ttl
}

func (m *MemoryStore) Create(ctx context.Context, chatID, displayName, avatarURL string) (*PendingSession, error) {
	sess, err := NewPendingSession(chatID, displayName, avatarURL, m.now())
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for state, s := range m.sessions {
		if s.ChatID == chatID || m.expired(s) {
			delete(m.sessions, state)
		}
	}
	m.sessions[sess.StateToken] = *sess

	return sess, nil
}

func (m *MemoryStore) FindByToken(ctx context.Context, stateToken string) (*PendingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[stateToken]
	if !ok || m.expired(s) {
		return nil, ErrSessionNotFound
	}

	return &s, nil
}

func (m *MemoryStore) AttachIdentityToken(ctx context.Context, stateToken, identityToken string) (*PendingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[stateToken]
	if !ok || m.expired(s) {
		return nil, ErrSessionNotFound
	}

	s.IdentityToken = identityToken
	m.sessions[stateToken] = s

	return &s, nil
}

func (m *MemoryStore) FindByIdentityToken(ctx context.Context, identityToken string) (*PendingSession, error) {
	if identityToken == "" {
		return nil, ErrSessionNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.IdentityToken == identityToken && !m.expired(s) {
			return &s, nil
		}
	}

	return nil, ErrSessionNotFound
}

func (m *MemoryStore) Delete(ctx context.Context, stateToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[stateToken]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, stateToken)

	return nil
}

// DeleteExpired drops every session older than the ttl.
func (m *MemoryStore) DeleteExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for state, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, state)
			n++
		}
	}

	return n, nil
}

// MemoryUserStore is a UserStore held in process memory.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[int64]AuthenticatedUser
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: map[int64]AuthenticatedUser{}}
}

func (m *MemoryUserStore) Upsert(ctx context.Context, user AuthenticatedUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.users[user.ChatID] = user
	return nil
}

func (m *MemoryUserStore) Get(ctx context.Context, chatID int64) (*AuthenticatedUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[chatID]
	if !ok {
		return nil, ErrUserNotFound
	}

	return &u, nil
}
