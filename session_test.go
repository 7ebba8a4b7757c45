package login

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestMemoryStoreCreateSupersedes(t *testing.T) {
	assert := assert.New(t)
	store := NewMemoryStore(DefaultSessionTTL)

	first, err := store.Create(ctx, "123", "bob", "")
	require.NoError(t, err)

	second, err := store.Create(ctx, "123", "carl", "")
	require.NoError(t, err)

	assert.NotEqual(first.StateToken, second.StateToken)
	assert.Len(second.StateToken, 32)

	_, err = store.FindByToken(ctx, first.StateToken)
	assert.ErrorIs(err, ErrSessionNotFound)

	found, err := store.FindByToken(ctx, second.StateToken)
	assert.NoError(err)
	assert.Equal("carl", found.DisplayName)
}

func TestMemoryStoreKeepsOtherChats(t *testing.T) {
	store := NewMemoryStore(DefaultSessionTTL)

	a, err := store.Create(ctx, "1", "a", "")
	require.NoError(t, err)
	_, err = store.Create(ctx, "2", "b", "")
	require.NoError(t, err)

	_, err = store.FindByToken(ctx, a.StateToken)
	assert.NoError(t, err)
}

func TestMemoryStoreIdentityToken(t *testing.T) {
	assert := assert.New(t)
	store := NewMemoryStore(DefaultSessionTTL)

	sess, err := store.Create(ctx, "123", "bob", "http://x")
	require.NoError(t, err)
	assert.False(sess.HasIdentityToken())

	_, err = store.FindByIdentityToken(ctx, "")
	assert.ErrorIs(err, ErrSessionNotFound)

	updated, err := store.AttachIdentityToken(ctx, sess.StateToken, "tok")
	assert.NoError(err)
	assert.True(updated.HasIdentityToken())

	found, err := store.FindByIdentityToken(ctx, "tok")
	assert.NoError(err)
	assert.Equal(sess.StateToken, found.StateToken)

	_, err = store.AttachIdentityToken(ctx, "missing", "tok")
	assert.ErrorIs(err, ErrSessionNotFound)
}

func TestMemoryStoreDeleteIsSingleUse(t *testing.T) {
	assert := assert.New(t)
	store := NewMemoryStore(DefaultSessionTTL)

	sess, err := store.Create(ctx, "123", "bob", "")
	require.NoError(t, err)
	_, err = store.AttachIdentityToken(ctx, sess.StateToken, "tok")
	require.NoError(t, err)

	assert.NoError(store.Delete(ctx, sess.StateToken))
	assert.ErrorIs(store.Delete(ctx, sess.StateToken), ErrSessionNotFound)

	_, err = store.FindByToken(ctx, sess.StateToken)
	assert.ErrorIs(err, ErrSessionNotFound)
	_, err = store.FindByIdentityToken(ctx, "tok")
	assert.ErrorIs(err, ErrSessionNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	assert := assert.New(t)
	store := NewMemoryStore(time.Minute)

	now := time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	sess, err := store.Create(ctx, "123", "bob", "")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	_, err = store.FindByToken(ctx, sess.StateToken)
	assert.ErrorIs(err, ErrSessionNotFound)

	n, err := store.DeleteExpired(ctx)
	assert.NoError(err)
	assert.Equal(1, n)
}

func TestMemoryStoreConcurrentCreate(t *testing.T) {
	store := NewMemoryStore(DefaultSessionTTL)

	var wg sync.WaitGroup
	tokens := make([]string, 20)
	for i := range tokens {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := store.Create(ctx, "123", "bob", "")
			if err == nil {
				tokens[i] = sess.StateToken
			}
		}()
	}
	wg.Wait()

	live := 0
	for _, tok := range tokens {
		if _, err := store.FindByToken(ctx, tok); err == nil {
			live++
		}
	}
	assert.Equal(t, 1, live)
}

func TestMemoryUserStore(t *testing.T) {
	assert := assert.New(t)
	users := NewMemoryUserStore()

	_, err := users.Get(ctx, 1)
	assert.ErrorIs(err, ErrUserNotFound)

	assert.NoError(users.Upsert(ctx, AuthenticatedUser{ChatID: 1, GroupID: 7}))
	assert.NoError(users.Upsert(ctx, AuthenticatedUser{ChatID: 1, GroupID: 8}))

	u, err := users.Get(ctx, 1)
	assert.NoError(err)
	assert.Equal(int64(8), u.GroupID)
}
