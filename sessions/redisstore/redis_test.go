package redisstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-middle-layer/internal/errors"
	"github.com/jrsteele09/go-middle-layer/sessions"
	"github.com/jrsteele09/go-middle-layer/sessions/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type testFixture struct {
	server   *miniredis.Miniredis
	store    *redisstore.Store
	hydrated []string
	mu       sync.Mutex
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{server: miniredis.RunT(t)}
	client := redis.NewClient(&redis.Options{Addr: f.server.Addr()})
	f.store = redisstore.NewWithClient(client, "test:", func(s *sessions.Session) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.hydrated = append(f.hydrated, s.ID)
		return nil
	})
	t.Cleanup(func() { _ = f.store.Close() })
	return f
}

func newSession(id string) *sessions.Session {
	return &sessions.Session{ID: id, AccountID: "demo", UserID: "alice", Strategy: "simple", LastAccessed: t0, Timeout: 30 * time.Minute, CSRFToken: "tok"}
}

func TestPutGetDelete(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.store.Get(ctx, "s1")
	require.True(t, errors.Is(err, errors.ErrSessionNotFound))

	require.NoError(t, f.store.Put(ctx, newSession("s1")))
	require.True(t, f.server.Exists("test:s:s1"))
	require.Equal(t, 30*time.Minute+time.Hour, f.server.TTL("test:s:s1"))

	got, err := f.store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "alice", got.UserID)
	require.Equal(t, 30*time.Minute, got.Timeout)
	require.True(t, t0.Equal(got.LastAccessed))
	require.Contains(t, f.hydrated, "s1")

	removed, err := f.store.Delete(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "s1", removed.ID)
	require.False(t, f.server.Exists("test:s:s1"))

	removed, err = f.store.Delete(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, removed)
}

func TestNoTimeoutHasNoExpiry(t *testing.T) {
	f := setupTestFixture(t)
	s := newSession("forever")
	s.Timeout = 0
	require.NoError(t, f.store.Put(context.Background(), s))
	require.Equal(t, time.Duration(0), f.server.TTL("test:s:forever"))
}

func TestUpdate(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, newSession("s1")))

	saved, err := f.store.Update(ctx, "s1", func(s *sessions.Session) sessions.Mutation {
		s.LastAccessed = t0.Add(time.Minute)
		return sessions.Save
	})
	require.NoError(t, err)
	require.True(t, t0.Add(time.Minute).Equal(saved.LastAccessed))

	kept, err := f.store.Update(ctx, "s1", func(s *sessions.Session) sessions.Mutation {
		s.UserID = "ignored"
		return sessions.Keep
	})
	require.NoError(t, err)
	require.Equal(t, "ignored", kept.UserID)
	got, err := f.store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "alice", got.UserID)

	gone, err := f.store.Update(ctx, "s1", func(*sessions.Session) sessions.Mutation { return sessions.Remove })
	require.NoError(t, err)
	require.Nil(t, gone)

	_, err = f.store.Update(ctx, "s1", func(*sessions.Session) sessions.Mutation { return sessions.Keep })
	require.True(t, errors.Is(err, errors.ErrSessionNotFound))

	all, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestConcurrentUpdatesAreAtomic(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	s := newSession("s1")
	s.Timeout = 0
	require.NoError(t, f.store.Put(ctx, s))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.store.Update(ctx, "s1", func(s *sessions.Session) sessions.Mutation {
				s.LastAccessed = s.LastAccessed.Add(time.Second)
				return sessions.Save
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := f.store.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, t0.Add(8*time.Second).Equal(got.LastAccessed))
}

func TestListDropsStaleEntries(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, newSession("b")))
	require.NoError(t, f.store.Put(ctx, newSession("a")))
	f.server.Del("test:s:b")

	all, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "a", all[0].ID)

	members, err := f.server.Members("test:index")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, members)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	cfg := redisstore.ConfigFromEnv()
	require.Equal(t, "redis.internal:6380", cfg.Addr)
	require.Equal(t, "middlelayer:sessions:", cfg.KeyPrefix)
}
