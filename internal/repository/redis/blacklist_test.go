package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authcore/internal/models"
)

func newTestRepo(t *testing.T) (*BlacklistRepo, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewBlacklistRepo(client, "test"), mr
}

func Test_BlacklistRepo(t *testing.T) {
	now := time.Now()
	entry := models.BlacklistEntry{
		TokenHash: models.HashToken("access-token"),
		TokenType: models.TokenTypeAccess,
		UserID:    uuid.New(),
		ExpiresAt: now.Add(15 * time.Minute),
		Reason:    models.RevokeReasonLogout,
		CreatedAt: now,
	}

	t.Run("add and contains", func(t *testing.T) {
		repo, mr := newTestRepo(t)

		err := repo.Add(t.Context(), entry)
		require.NoError(t, err)

		found, err := repo.Contains(t.Context(), entry.TokenHash, now)
		require.NoError(t, err)
		require.True(t, found)

		require.True(t, mr.Exists("test:"+entry.TokenHash), "key should be prefixed")
		assert.InDelta(t, (15 * time.Minute).Seconds(), mr.TTL("test:"+entry.TokenHash).Seconds(), 1, "ttl should be remaining token lifetime")
	})

	t.Run("entry expires with token", func(t *testing.T) {
		repo, mr := newTestRepo(t)
		err := repo.Add(t.Context(), entry)
		require.NoError(t, err)

		mr.FastForward(16 * time.Minute)

		found, err := repo.Contains(t.Context(), entry.TokenHash, now)
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("add twice keeps first entry", func(t *testing.T) {
		repo, mr := newTestRepo(t)
		err := repo.Add(t.Context(), entry)
		require.NoError(t, err)

		dup := entry
		dup.Reason = models.RevokeReasonSecurityBreach
		err = repo.Add(t.Context(), dup)
		require.NoError(t, err, "duplicate must not be an error")

		raw, err := mr.Get("test:" + entry.TokenHash)
		require.NoError(t, err)
		var got entryValue
		require.NoError(t, json.Unmarshal([]byte(raw), &got))
		assert.Equal(t, models.RevokeReasonLogout, got.Reason)
		assert.Equal(t, entry.UserID, got.UserID)
		assert.Equal(t, models.TokenTypeAccess, got.TokenType)
		assert.InDelta(t, 15*time.Minute, mr.TTL("test:"+entry.TokenHash), float64(2*time.Second))
	})

	t.Run("expired token is skipped", func(t *testing.T) {
		repo, mr := newTestRepo(t)
		expired := entry
		expired.ExpiresAt = now.Add(-time.Minute)

		err := repo.Add(t.Context(), expired)

		require.NoError(t, err)
		require.Empty(t, mr.Keys(), "nothing should be stored for expired token")
	})

	t.Run("contains unknown", func(t *testing.T) {
		repo, _ := newTestRepo(t)

		found, err := repo.Contains(t.Context(), models.HashToken("unknown"), now)

		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("purge is noop", func(t *testing.T) {
		repo, _ := newTestRepo(t)

		count, err := repo.PurgeExpired(t.Context(), now)

		require.NoError(t, err)
		require.Zero(t, count)
	})

	t.Run("redis unavailable", func(t *testing.T) {
		repo, mr := newTestRepo(t)
		mr.Close()

		_, err := repo.Contains(t.Context(), entry.TokenHash, now)

		require.Error(t, err, "lookup must fail instead of reporting token as not blacklisted")
	})
}
