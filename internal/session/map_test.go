package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/omi-jarvis/internal/db/dbtest"
)

type memCache struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *memCache) GetConversation(_ context.Context, sid string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[sid]
	return v, ok, nil
}

func (c *memCache) SetConversation(_ context.Context, sid, conv string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[sid] = conv
	c.ttls[sid] = ttl
	return nil
}

func (c *memCache) DeleteConversation(_ context.Context, sid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, sid)
	delete(c.ttls, sid)
	return nil
}

func newTestMap(t *testing.T, opts Options) (*Map, *Repo) {
	t.Helper()
	repo := NewRepo(dbtest.Open(t, &Mapping{}))
	return NewMap(repo, opts), repo
}

func TestResolve_NewSessionCreatesNullRow(t *testing.T) {
	m, repo := newTestMap(t, Options{})
	ctx := context.Background()

	h := m.Resolve(ctx, "s1")
	assert.Equal(t, "s1", h.SessionID())
	assert.False(t, h.Resumed())
	assert.False(t, h.Bound())

	row, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Nil(t, row.ConversationID)
}

func TestResolve_ResumesStoredConversation(t *testing.T) {
	m, repo := newTestMap(t, Options{})
	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, "s2", "conv_123", time.Now()))

	h := m.Resolve(ctx, "s2")
	assert.True(t, h.Resumed())
	assert.Equal(t, "conv_123", h.ConversationID())
}

func TestResolve_BlankIDsGetDistinctPlaceholders(t *testing.T) {
	m, repo := newTestMap(t, Options{})
	ctx := context.Background()

	a := m.Resolve(ctx, "")
	b := m.Resolve(ctx, "   ")
	c := m.Resolve(ctx, "unknown")

	for _, h := range []*Handle{a, b, c} {
		assert.True(t, strings.HasPrefix(h.SessionID(), "unknown_"), h.SessionID())
		assert.Len(t, h.SessionID(), len("unknown_")+8)
	}
	assert.NotEqual(t, a.SessionID(), b.SessionID())
	assert.NotEqual(t, b.SessionID(), c.SessionID())

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestPersist_StoresBoundHandle(t *testing.T) {
	cache := newMemCache()
	m, repo := newTestMap(t, Options{Cache: cache, IdleTimeout: time.Hour})
	ctx := context.Background()

	h := m.Resolve(ctx, "s1")
	h.Bind("conv_abc")
	require.NoError(t, m.Persist(ctx, h))

	row, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, row.ConversationID)
	assert.Equal(t, "conv_abc", *row.ConversationID)
	assert.Equal(t, "conv_abc", cache.data["s1"])
	assert.Equal(t, time.Hour, cache.ttls["s1"])

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestPersist_UnboundIsNoop(t *testing.T) {
	m, repo := newTestMap(t, Options{})
	ctx := context.Background()

	require.NoError(t, m.Persist(ctx, NewHandle("s9", "")))

	row, err := repo.Get(ctx, "s9")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestResolve_CacheHitSkipsTable(t *testing.T) {
	cache := newMemCache()
	cache.data["s3"] = "conv_cached"
	m, repo := newTestMap(t, Options{Cache: cache})

	h := m.Resolve(context.Background(), "s3")
	assert.Equal(t, "conv_cached", h.ConversationID())

	row, err := repo.Get(context.Background(), "s3")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestResolve_IdleMappingStartsFresh(t *testing.T) {
	m, repo := newTestMap(t, Options{IdleTimeout: 24 * time.Hour})
	ctx := context.Background()
	now := time.Now()
	m.now = func() time.Time { return now }

	require.NoError(t, repo.Upsert(ctx, "old", "conv_old", now.Add(-25*time.Hour)))
	require.NoError(t, repo.Upsert(ctx, "fresh", "conv_fresh", now.Add(-time.Hour)))

	assert.False(t, m.Resolve(ctx, "old").Bound())
	assert.Equal(t, "conv_fresh", m.Resolve(ctx, "fresh").ConversationID())
}

func TestResolve_IdleRolloverSurvivesFailedCall(t *testing.T) {
	cache := newMemCache()
	m, repo := newTestMap(t, Options{Cache: cache, IdleTimeout: 24 * time.Hour})
	ctx := context.Background()
	now := time.Now()
	m.now = func() time.Time { return now }

	require.NoError(t, repo.Upsert(ctx, "old", "conv_old", now.Add(-25*time.Hour)))

	first := m.Resolve(ctx, "old")
	assert.False(t, first.Bound())

	// the agent call fails, so nothing is persisted before the next batch
	now = now.Add(time.Minute)
	second := m.Resolve(ctx, "old")
	assert.False(t, second.Bound())
	assert.Empty(t, second.ConversationID())

	row, err := repo.Get(ctx, "old")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Nil(t, row.ConversationID)
	assert.WithinDuration(t, now, row.LastUsedAt, time.Second)
}

func TestPersist_CacheEntriesAlwaysExpire(t *testing.T) {
	cache := newMemCache()
	m, _ := newTestMap(t, Options{Cache: cache})
	ctx := context.Background()

	h := m.Resolve(ctx, "s1")
	h.Bind("conv_a")
	require.NoError(t, m.Persist(ctx, h))
	assert.Equal(t, DefaultCacheTTL, cache.ttls["s1"])

	capped, _ := newTestMap(t, Options{Cache: cache, CacheTTL: 6 * time.Hour, IdleTimeout: 2 * time.Hour})
	h = capped.Resolve(ctx, "s2")
	h.Bind("conv_b")
	require.NoError(t, capped.Persist(ctx, h))
	assert.Equal(t, 2*time.Hour, cache.ttls["s2"])
}

func TestPurgeIdle_DropsCachedMapping(t *testing.T) {
	cache := newMemCache()
	m, repo := newTestMap(t, Options{Cache: cache})
	ctx := context.Background()
	now := time.Now()

	m.now = func() time.Time { return now.Add(-48 * time.Hour) }
	h := m.Resolve(ctx, "s1")
	h.Bind("conv_a")
	require.NoError(t, m.Persist(ctx, h))

	m.now = func() time.Time { return now }
	h = m.Resolve(ctx, "s2")
	h.Bind("conv_b")
	require.NoError(t, m.Persist(ctx, h))

	n, err := m.PurgeIdle(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, cached := cache.data["s1"]
	assert.False(t, cached)
	assert.Equal(t, "conv_b", cache.data["s2"])

	resolved := m.Resolve(ctx, "s1")
	assert.False(t, resolved.Bound())

	row, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Nil(t, row.ConversationID)
}
