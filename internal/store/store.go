// Package store persists login sessions and bot users in sqlite through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	login "github.com/tcomad/unibot"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Open opens (creating if needed) the sqlite database at path and migrates it.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// sqlite has a single writer
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&LoginSession{}, &BotUser{}); err != nil {
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return db, nil
}

var (
	_ login.SessionStore = (*SessionStore)(nil)
	_ login.UserStore    = (*UserStore)(nil)
)

// SessionStore is a login.SessionStore backed by the login_sessions table.
type SessionStore struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewSessionStore returns a store whose sessions expire after ttl. A ttl <= 0
// disables expiry.
func NewSessionStore(db *gorm.DB, ttl time.Duration) *SessionStore {
	return &SessionStore{
		db:  db,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// live restricts q to sessions younger than the ttl.
func (s *SessionStore) live(q *gorm.DB) *gorm.DB {
	if s.ttl <= 0 {
		return q
	}

	return q.Where("created_at > ?", s.now().Add(-s.ttl))
}

func (s *SessionStore) Create(ctx context.Context, chatID, displayName, avatarURL string) (*login.PendingSession, error) {
	sess, err := login.NewPendingSession(chatID, displayName, avatarURL, s.now())
	if err != nil {
		return nil, err
	}

	row := fromPending(sess)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&LoginSession{}).Error; err != nil {
			return err
		}

		return tx.Create(row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("could not store login session: %w", err)
	}

	return sess, nil
}

func (s *SessionStore) FindByToken(ctx context.Context, stateToken string) (*login.PendingSession, error) {
	return s.find(ctx, "state_token = ?", stateToken)
}

func (s *SessionStore) FindByIdentityToken(ctx context.Context, identityToken string) (*login.PendingSession, error) {
	if identityToken == "" {
		return nil, login.ErrSessionNotFound
	}

	return s.find(ctx, "identity_token = ?", identityToken)
}

func (s *SessionStore) find(ctx context.Context, query string, arg string) (*login.PendingSession, error) {
	var row LoginSession
	err := s.live(s.db.WithContext(ctx).Where(query, arg)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, login.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not load login session: %w", err)
	}

	return row.toPending(), nil
}

func (s *SessionStore) AttachIdentityToken(ctx context.Context, stateToken, identityToken string) (*login.PendingSession, error) {
	res := s.live(s.db.WithContext(ctx).Model(&LoginSession{}).Where("state_token = ?", stateToken)).
		Update("identity_token", identityToken)
	if res.Error != nil {
		return nil, fmt.Errorf("could not update login session: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		return nil, login.ErrSessionNotFound
	}

	return s.FindByToken(ctx, stateToken)
}

// Delete removes the session and reports ErrSessionNotFound when no row was
// deleted, which makes it usable as a compare-and-delete.
func (s *SessionStore) Delete(ctx context.Context, stateToken string) error {
	res := s.db.WithContext(ctx).Where("state_token = ?", stateToken).Delete(&LoginSession{})
	if res.Error != nil {
		return fmt.Errorf("could not delete login session: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		return login.ErrSessionNotFound
	}

	return nil
}

// DeleteExpired removes sessions older than the ttl.
func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("created_at <= ?", s.now().Add(-s.ttl)).Delete(&LoginSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("could not delete expired sessions: %w", res.Error)
	}

	return res.RowsAffected, nil
}

func fromPending(p *login.PendingSession) *LoginSession {
	return &LoginSession{
		StateToken:    p.StateToken,
		ChatID:        p.ChatID,
		DisplayName:   p.DisplayName,
		AvatarUrl:     p.AvatarURL,
		IdentityToken: p.IdentityToken,
		CodeVerifier:  p.CodeVerifier,
		CreatedAt:     p.CreatedAt,
	}
}

func (r *LoginSession) toPending() *login.PendingSession {
	return &login.PendingSession{
		StateToken:    r.StateToken,
		ChatID:        r.ChatID,
		DisplayName:   r.DisplayName,
		AvatarURL:     r.AvatarUrl,
		IdentityToken: r.IdentityToken,
		CodeVerifier:  r.CodeVerifier,
		CreatedAt:     r.CreatedAt,
	}
}

// UserStore is a login.UserStore backed by the bot_users table.
type UserStore struct {
	db *gorm.DB
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (u *UserStore) Upsert(ctx context.Context, user login.AuthenticatedUser) error {
	row := &BotUser{ChatID: user.ChatID, GroupID: user.GroupID}

	if err := u.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"group_id", "updated_at"}),
	}).Create(row).Error; err != nil {
		return fmt.Errorf("could not save bot user: %w", err)
	}

	return nil
}

func (u *UserStore) Get(ctx context.Context, chatID int64) (*login.AuthenticatedUser, error) {
	var row BotUser
	err := u.db.WithContext(ctx).Where("chat_id = ?", chatID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, login.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not load bot user: %w", err)
	}

	return &login.AuthenticatedUser{ChatID: row.ChatID, GroupID: row.GroupID}, nil
}
