package chat

import (
	"context"
	"fmt"
	"testing"

	"github.com/neilberkman/querychat/internal/core/db"
	"github.com/neilberkman/querychat/internal/core/logger"
	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/neilberkman/querychat/internal/core/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *store.ChatStore {
	t.Helper()
	database, err := db.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return store.New(database.KV(db.ScopeDurable), store.DurableKeys, logger.Nop())
}

func newController(t *testing.T, max int) *Controller {
	t.Helper()
	return New(context.Background(), newStore(t), logger.Nop(), max)
}

func TestAppendMessagePreservesOrder(t *testing.T) {
	ctx := context.Background()
	c := newController(t, 100)

	for n := 1; n <= 25; n++ {
		require.NoError(t, c.AppendMessage(ctx, models.NewMessage(models.RoleUser, fmt.Sprintf("q%d", n))))

		msgs := c.Messages()
		require.Len(t, msgs, n)
		for i, m := range msgs {
			assert.Equal(t, fmt.Sprintf("q%d", i+1), m.Content)
		}
	}
}

func TestAppendMessageRespectsCap(t *testing.T) {
	ctx := context.Background()
	c := newController(t, DefaultMaxMessages)

	for i := 0; i < DefaultMaxMessages; i++ {
		require.NoError(t, c.AppendMessage(ctx, models.NewMessage(models.RoleUser, "q")))
	}
	assert.True(t, c.Full())
	assert.ErrorIs(t, c.AppendMessage(ctx, models.NewMessage(models.RoleUser, "q")), ErrSessionFull)
	assert.Len(t, c.Messages(), DefaultMaxMessages)
}

func TestStartNewSessionOnEmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	c := newController(t, 0)

	assert.False(t, c.StartNewSession(ctx))
	assert.Empty(t, c.Sessions())
	assert.Equal(t, 0, c.CurrentIndex())

	require.NoError(t, c.AppendMessage(ctx, models.NewMessage(models.RoleUser, "q")))
	require.True(t, c.StartNewSession(ctx))

	// Back-to-back new chats do not create empty threads
	assert.False(t, c.StartNewSession(ctx))
	assert.Len(t, c.Sessions(), 1)
	assert.Equal(t, 1, c.CurrentIndex())
}

func TestStartNewSessionKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	c := newController(t, 0)

	require.NoError(t, c.AppendMessage(ctx, models.NewMessage(models.RoleUser, "first")))
	require.NoError(t, c.AppendMessage(ctx, models.NewMessage(models.RoleAssistant, "answer")))
	prev := c.CurrentIndex()

	require.True(t, c.StartNewSession(ctx))
	assert.Empty(t, c.Messages())
	assert.Equal(t, prev+1, c.CurrentIndex())

	require.NoError(t, c.SwitchSession(ctx, prev))
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "answer", msgs[1].Content)
}

func TestStartNewSessionAppendsAfterSwitchingBack(t *testing.T) {
	ctx := context.Background()
	c := newController(t, 0)

	for _, q := range []string{"one", "two", "three"} {
		require.NoError(t, c.AppendMessage(ctx, models.NewMessage(models.RoleUser, q)))
		require.True(t, c.StartNewSession(ctx))
	}
	require.NoError(t, c.SwitchSession(ctx, 0))
	require.True(t, c.StartNewSession(ctx))

	// The fresh thread goes after the last one instead of over thread 1
	assert.Equal(t, 3, c.CurrentIndex())
	require.NoError(t, c.AppendMessage(ctx, models.NewMessage(models.RoleUser, "four")))

	sessions := c.Sessions()
	require.Len(t, sessions, 4)
	for i, want := range []string{"one", "two", "three", "four"} {
		assert.Equal(t, want, sessions[i].Title())
	}
}

func TestSwitchSessionBounds(t *testing.T) {
	ctx := context.Background()
	c := newController(t, 0)
	require.NoError(t, c.AppendMessage(ctx, models.NewMessage(models.RoleUser, "q")))

	assert.ErrorIs(t, c.SwitchSession(ctx, -1), ErrNoSuchSession)
	assert.ErrorIs(t, c.SwitchSession(ctx, 2), ErrNoSuchSession)

	// One past the end is the fresh session
	require.NoError(t, c.SwitchSession(ctx, 1))
	assert.Empty(t, c.Messages())
}

func TestControllerPersists(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	c := New(ctx, st, logger.Nop(), 0)

	require.NoError(t, c.AppendMessage(ctx, models.NewMessage(models.RoleUser, "a")))
	require.True(t, c.StartNewSession(ctx))
	require.NoError(t, c.AppendMessage(ctx, models.NewMessage(models.RoleUser, "b")))

	reloaded := New(ctx, st, logger.Nop(), 0)
	want, got := c.Sessions(), reloaded.Sessions()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Title(), got[i].Title())
	}
	assert.Equal(t, 1, reloaded.CurrentIndex())
	assert.Equal(t, c.ActiveSessionID(), reloaded.ActiveSessionID())
	assert.Equal(t, "b", reloaded.Messages()[0].Content)
}

func TestActiveSessionIDIsStable(t *testing.T) {
	ctx := context.Background()
	c := newController(t, 0)

	blank := c.ActiveSessionID()
	assert.NotEmpty(t, blank)
	require.NoError(t, c.AppendMessage(ctx, models.NewMessage(models.RoleUser, "q")))
	assert.Equal(t, blank, c.ActiveSessionID(), "reserved id becomes the session id")

	require.True(t, c.StartNewSession(ctx))
	assert.NotEqual(t, blank, c.ActiveSessionID())
}

func TestStartExchange(t *testing.T) {
	ctx := context.Background()
	c := newController(t, 4)

	ex, err := c.StartExchange(ctx, models.NewMessage(models.RoleUser, "q1"))
	require.NoError(t, err)
	assert.Empty(t, ex.History)
	assert.Equal(t, c.ActiveSessionID(), ex.SessionID)
	require.NoError(t, c.AppendToSession(ctx, ex.SessionID, models.NewMessage(models.RoleAssistant, "a1")))

	ex, err = c.StartExchange(ctx, models.NewMessage(models.RoleUser, "q2"))
	require.NoError(t, err)
	require.Len(t, ex.History, 2)
	assert.Equal(t, "a1", ex.History[1].Content)
	require.NoError(t, c.AppendToSession(ctx, ex.SessionID, models.NewMessage(models.RoleAssistant, "a2")))

	_, err = c.StartExchange(ctx, models.NewMessage(models.RoleUser, "q3"))
	assert.ErrorIs(t, err, ErrSessionFull)
	assert.Len(t, c.Messages(), 4)
}

func TestAppendToInactiveSession(t *testing.T) {
	ctx := context.Background()
	c := newController(t, 0)

	ex, err := c.StartExchange(ctx, models.NewMessage(models.RoleUser, "slow question"))
	require.NoError(t, err)

	// User moves on before the reply arrives
	require.True(t, c.StartNewSession(ctx))
	require.NoError(t, c.AppendToSession(ctx, ex.SessionID, models.NewMessage(models.RoleAssistant, "late answer")))

	assert.Empty(t, c.Messages())
	sess, idx, ok := c.SessionByID(ex.SessionID)
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "late answer", sess.Messages[1].Content)

	assert.ErrorIs(t, c.AppendToSession(ctx, "missing", models.NewMessage(models.RoleAssistant, "x")), ErrNoSuchSession)
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	c := New(ctx, st, logger.Nop(), 0)

	for _, q := range []string{"one", "two", "three"} {
		require.NoError(t, c.AppendMessage(ctx, models.NewMessage(models.RoleUser, q)))
		require.True(t, c.StartNewSession(ctx))
	}
	require.NoError(t, c.SwitchSession(ctx, 2))
	threeID := c.ActiveSessionID()
	oneID := c.Sessions()[0].ID
	require.NoError(t, st.PutFile(ctx, oneID, models.Upload{Name: "a.csv", Data: []byte("a")}))

	// Deleting an earlier thread keeps the active one selected
	require.NoError(t, c.DeleteSession(ctx, 0))
	assert.Equal(t, 1, c.CurrentIndex())
	assert.Equal(t, threeID, c.ActiveSessionID())
	_, ok := st.File(ctx, oneID)
	assert.False(t, ok)

	// Deleting the active thread selects a fresh one
	require.NoError(t, c.DeleteSession(ctx, 1))
	assert.Equal(t, 1, c.CurrentIndex())
	assert.Empty(t, c.Messages())
	assert.Len(t, c.Sessions(), 1)

	assert.ErrorIs(t, c.DeleteSession(ctx, 5), ErrNoSuchSession)
}

func TestAddSession(t *testing.T) {
	ctx := context.Background()
	c := newController(t, 0)

	sess := models.NewSession()
	sess.Messages = []models.Message{models.NewMessage(models.RoleUser, "imported")}
	require.NoError(t, c.AddSession(ctx, sess))

	// The blank active session stays blank and selected
	assert.Equal(t, 1, c.CurrentIndex())
	assert.Empty(t, c.Messages())
	require.Len(t, c.Sessions(), 1)
	assert.Equal(t, sess.ID, c.Sessions()[0].ID)

	assert.ErrorIs(t, c.AddSession(ctx, sess), ErrDuplicateSession)

	bad := models.Session{Messages: []models.Message{{Role: "system"}}}
	assert.Error(t, c.AddSession(ctx, bad))
}
