package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/hilthontt/nearchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, capacity int) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nearchat.db")
	s, err := Open(context.Background(), Options{Path: path, Capacity: capacity})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func message(i int, room string) domain.Message {
	return domain.Message{
		ID:         fmt.Sprintf("msg-%04d", i),
		Text:       fmt.Sprintf("hello %d", i),
		SenderName: "alice",
		SenderID:   "u-1",
		Timestamp:  "2026-01-01T00:00:00.000Z",
		RoomCode:   room,
	}
}

func TestStoreUser(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t, 0)

	_, ok, err := s.CurrentUser(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	user := domain.User{DisplayName: "alice", RoomCode: "ABCD"}
	require.NoError(t, s.SaveUser(ctx, user))

	got, ok, err := s.CurrentUser(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, user, got)

	require.NoError(t, s.SaveUser(ctx, domain.User{DisplayName: "bob", RoomCode: "WXYZ"}))
	got, _, err = s.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.DisplayName)

	require.NoError(t, s.ClearUser(ctx))
	_, ok, err = s.CurrentUser(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreMessagesDedupAndOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t, 0)

	for i := 0; i < 3; i++ {
		added, err := s.AddMessage(ctx, message(i, "ABCD"))
		require.NoError(t, err)
		assert.True(t, added)
	}
	added, err := s.AddMessage(ctx, message(1, "ABCD"))
	require.NoError(t, err)
	assert.False(t, added)

	_, err = s.AddMessage(ctx, message(9, "OTHER"))
	require.NoError(t, err)

	msgs, err := s.Messages(ctx, "ABCD")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, msg := range msgs {
		assert.Equal(t, message(i, "ABCD"), msg)
	}

	all, err := s.Messages(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	empty, err := s.Messages(ctx, "NONE")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestStoreEvictsOldestPastCapacity(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t, DefaultCapacity)

	for i := 0; i < DefaultCapacity+5; i++ {
		_, err := s.AddMessage(ctx, message(i, "ABCD"))
		require.NoError(t, err)
	}

	count, err := s.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, count)

	msgs, err := s.Messages(ctx, "ABCD")
	require.NoError(t, err)
	require.Len(t, msgs, DefaultCapacity)
	assert.Equal(t, "msg-0005", msgs[0].ID)
	assert.Equal(t, fmt.Sprintf("msg-%04d", DefaultCapacity+4), msgs[len(msgs)-1].ID)
}

func TestStoreKeys(t *testing.T) {
	ctx := context.Background()
	s, _ := openTestStore(t, 0)

	_, ok, err := s.Key(ctx, "ABCD")
	require.NoError(t, err)
	assert.False(t, ok)

	key := []byte{0, 1, 2, 254, 255}
	require.NoError(t, s.SaveKey(ctx, "ABCD", key))

	got, ok, err := s.Key(ctx, "ABCD")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, key, got)

	require.NoError(t, s.ClearKey(ctx, "ABCD"))
	_, ok, err = s.Key(ctx, "ABCD")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreClearAndReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nearchat.db")
	s, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)

	require.NoError(t, s.SaveUser(ctx, domain.User{DisplayName: "alice", RoomCode: "ABCD"}))
	_, err = s.AddMessage(ctx, message(0, "ABCD"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	user, ok, err := reopened.CurrentUser(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", user.DisplayName)

	msgs, err := reopened.Messages(ctx, "ABCD")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	require.NoError(t, reopened.Clear(ctx))
	count, err := reopened.MessageCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	_, ok, err = reopened.CurrentUser(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.Error(t, err)
}
