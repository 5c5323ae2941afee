package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "qupid:"

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func guestChatCountKey(guestID string) string {
	return keyPrefix + "guest_chat_count:" + guestID
}

func streamLockKey(sessionID string) string {
	return keyPrefix + "stream_lock:" + sessionID
}

// IncrGuestChatCount bumps the number of practice chats a guest has started.
func (s *Store) IncrGuestChatCount(ctx context.Context, guestID string) (int64, error) {
	return s.rdb.Incr(ctx, guestChatCountKey(guestID)).Result()
}

func (s *Store) GuestChatCount(ctx context.Context, guestID string) (int64, error) {
	n, err := s.rdb.Get(ctx, guestChatCountKey(guestID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// releaseStreamLock deletes the lock only while it still holds the caller's
// token, so a stream whose lock expired cannot free a newer holder's lock.
var releaseStreamLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireStreamLock reports false when another stream holds the session.
// The TTL bounds how long a crashed stream can block the session.
func (s *Store) AcquireStreamLock(ctx context.Context, sessionID, token string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, streamLockKey(sessionID), token, ttl).Result()
}

// ReleaseStreamLock is a no-op when the lock is held under another token.
func (s *Store) ReleaseStreamLock(ctx context.Context, sessionID, token string) error {
	return releaseStreamLock.Run(ctx, s.rdb, []string{streamLockKey(sessionID)}, token).Err()
}
