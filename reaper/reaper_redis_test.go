package reaper_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-middle-layer/accounts"
	"github.com/jrsteele09/go-middle-layer/reaper"
	"github.com/jrsteele09/go-middle-layer/security"
	"github.com/jrsteele09/go-middle-layer/sessions/redisstore"
	"github.com/jrsteele09/go-middle-layer/verifier"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestSweepEvictsSharedSessionsOfRemovedAccounts(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	registry := accounts.NewRegistry(
		&accounts.Account{ID: "gone", Verifier: verifier.RemoteUserName},
		&accounts.Account{ID: "kept", Verifier: verifier.RemoteUserName},
	)
	verifiers := verifier.NewDefaultRegistry(nil)
	store := redisstore.NewWithClient(client, "p:", security.HydrateWith(registry, verifiers))
	t.Cleanup(func() { _ = store.Close() })

	c := &clock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	m, err := security.NewManager(registry, verifiers, store, security.Policy{}, security.WithNowTime(c.Now))
	require.NoError(t, err)

	ctx := context.Background()
	require.True(t, m.Login(ctx, verifier.Credentials{"REMOTE_USER": "ada"}, "gone", "s1").Success)
	require.True(t, m.Login(ctx, verifier.Credentials{"REMOTE_USER": "bob"}, "kept", "s2").Success)

	registry.Replace([]*accounts.Account{{ID: "kept", Verifier: verifier.RemoteUserName}})
	c.Advance(time.Hour)

	r, err := reaper.New(m, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, r.Sweep(ctx))

	require.False(t, server.Exists("p:s:s1"))
	require.True(t, server.Exists("p:s:s2"))
	members, err := server.SMembers("p:index")
	require.NoError(t, err)
	require.Equal(t, []string{"s2"}, members)
}
