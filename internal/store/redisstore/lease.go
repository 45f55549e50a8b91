package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/omi-jarvis/internal/common"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a single-holder lock with expiry, used to keep a second
// consumer process from running cycles at the same time.
type Lease struct {
	store *Store
	key   string
	ttl   time.Duration
}

func (s *Store) NewLease(name string, ttl time.Duration) *Lease {
	return &Lease{store: s, key: "jarvis:lease:" + name, ttl: ttl}
}

// TryLock takes the lease if it is free. The returned release func gives it
// back and is a no-op once the lease expired and another holder took it.
func (l *Lease) TryLock(ctx context.Context) (func(), bool, error) {
	token := common.MustULID()
	ok, err := l.store.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.store.rdb, []string{l.key}, token).Err()
	}
	return release, true, nil
}
