package userctx

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authcore/internal/models"
)

func TestUserCtx(t *testing.T) {
	t.Run("empty context", func(t *testing.T) {
		_, ok := FromContext(context.Background())
		require.False(t, ok)

		_, ok = User(context.Background())
		require.False(t, ok)
	})

	t.Run("session stored", func(t *testing.T) {
		session := models.Session{
			User:    models.User{ID: uuid.New(), Username: "alice"},
			TokenID: "jti",
		}

		ctx := New(context.Background(), session)

		got, ok := FromContext(ctx)
		require.True(t, ok)
		require.Equal(t, session, got)

		user, ok := User(ctx)
		require.True(t, ok)
		require.Equal(t, "alice", user.Username)
	})
}
