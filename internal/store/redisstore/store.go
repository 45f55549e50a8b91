package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Store{rdb: rdb}, nil
}

func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func conversationKey(sessionID string) string {
	return "jarvis:session:" + sessionID
}

// GetConversation returns the cached conversation id of sessionID.
func (s *Store) GetConversation(ctx context.Context, sessionID string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, conversationKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// SetConversation caches the mapping; ttl 0 keeps it until overwritten.
func (s *Store) SetConversation(ctx context.Context, sessionID, conversationID string, ttl time.Duration) error {
	return s.rdb.Set(ctx, conversationKey(sessionID), conversationID, ttl).Err()
}

func (s *Store) DeleteConversation(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, conversationKey(sessionID)).Err()
}
