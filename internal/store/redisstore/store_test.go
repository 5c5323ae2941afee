package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := &Store{rdb: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "qupid:guest_chat_count:g-1", guestChatCountKey("g-1"))
	assert.Equal(t, "qupid:stream_lock:01J0000000000000000000000", streamLockKey("01J0000000000000000000000"))
}

func TestStreamLock_ReleaseNeedsOwnerToken(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	key := streamLockKey("s1")

	ok, err := s.AcquireStreamLock(ctx, "s1", "tok-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// another request's token leaves the lock in place
	require.NoError(t, s.ReleaseStreamLock(ctx, "s1", "tok-b"))
	assert.True(t, mr.Exists(key))
	ok, err = s.AcquireStreamLock(ctx, "s1", "tok-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.ReleaseStreamLock(ctx, "s1", "tok-a"))
	assert.False(t, mr.Exists(key))
	ok, err = s.AcquireStreamLock(ctx, "s1", "tok-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStreamLock_ExpiredLockNotFreedByOldHolder(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireStreamLock(ctx, "s1", "old", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	mr.FastForward(2 * time.Second)

	ok, err = s.AcquireStreamLock(ctx, "s1", "new", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ReleaseStreamLock(ctx, "s1", "old"))
	got, err := mr.Get(streamLockKey("s1"))
	require.NoError(t, err)
	assert.Equal(t, "new", got)
}

func TestGuestChatCount(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	n, err := s.GuestChatCount(ctx, "g-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	for want := int64(1); want <= 2; want++ {
		n, err = s.IncrGuestChatCount(ctx, "g-1")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	n, err = s.GuestChatCount(ctx, "g-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}
