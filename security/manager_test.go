package security_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-middle-layer/accounts"
	"github.com/jrsteele09/go-middle-layer/internal/errors"
	"github.com/jrsteele09/go-middle-layer/security"
	"github.com/jrsteele09/go-middle-layer/sessions"
	"github.com/jrsteele09/go-middle-layer/verifier"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	demoAccount   = "demo"
	otherAccount  = "other"
	remoteAccount = "intranet"
	testSession   = "session-1"
	testUser      = "alice"
	testPassword  = "password123"
	localAddr     = "10.0.0.5"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testFixture struct {
	clock   *clock
	store   *sessions.InMemoryStore
	manager *security.Manager
}

var passwordHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return string(h)
}()

func simpleSettings(actions ...any) map[string]any {
	return map[string]any{
		"users":           map[string]any{testUser: passwordHash},
		"allowed_actions": actions,
	}
}

func setupTestFixture(t *testing.T, policy security.Policy) *testFixture {
	t.Helper()

	registry := accounts.NewRegistry(
		&accounts.Account{ID: demoAccount, Verifier: verifier.SimpleName, SessionTimeout: 30 * time.Minute, CSRF: true,
			Settings: simpleSettings("doStoredProcedure", "getSessionInfo")},
		&accounts.Account{ID: otherAccount, Verifier: verifier.SimpleName, SessionTimeout: 30 * time.Minute,
			Settings: simpleSettings("doStoredProcedure", "getSessionInfo")},
		&accounts.Account{ID: remoteAccount, Verifier: verifier.RemoteUserName},
	)
	f := &testFixture{
		clock: &clock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)},
		store: sessions.NewInMemoryStore(),
	}
	m, err := security.NewManager(registry, verifier.NewDefaultRegistry(nil), f.store, policy,
		security.WithNowTime(f.clock.Now),
		security.WithLocalAddresses(localAddr),
	)
	require.NoError(t, err)
	f.manager = m
	return f
}

func creds() verifier.Credentials {
	return verifier.Credentials{"username": testUser, "password": testPassword}
}

func TestNewManagerValidatesDependencies(t *testing.T) {
	_, err := security.NewManager(nil, verifier.NewRegistry(), sessions.NewInMemoryStore(), security.Policy{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "accounts registry is required")

	_, err = security.NewManager(accounts.NewRegistry(), nil, sessions.NewInMemoryStore(), security.Policy{})
	require.Contains(t, err.Error(), "verifier registry is required")

	_, err = security.NewManager(accounts.NewRegistry(), verifier.NewRegistry(), nil, security.Policy{})
	require.Contains(t, err.Error(), "session store is required")
}

func TestParseMode(t *testing.T) {
	m, err := security.ParseMode("partialrestrictedactions")
	require.NoError(t, err)
	require.Equal(t, security.PartialRestrictedActions, m)

	m, err = security.ParseMode("bogus")
	require.Error(t, err)
	require.Equal(t, security.OnlyLocalRequests, m)
}

func TestSecurityCheckpoint(t *testing.T) {
	allowed := []string{"login", "doUserStoredProcedure"}
	tests := []struct {
		name   string
		policy security.Policy
		action string
		remote string
		uri    string
		denied bool
	}{
		{"all restricted allows listed remote", security.Policy{Mode: security.AllRestrictedActions, AllowedActions: allowed}, "login", "203.0.113.9:5000", "/jml", false},
		{"all restricted denies unlisted local", security.Policy{Mode: security.AllRestrictedActions, AllowedActions: allowed}, "resetApplication", "127.0.0.1:5000", "/jml", true},
		{"only local allows loopback", security.Policy{Mode: security.OnlyLocalRequests}, "resetApplication", "127.0.0.1:5000", "/jml", false},
		{"only local allows ipv6 loopback", security.Policy{Mode: security.OnlyLocalRequests}, "resetApplication", "[::1]:5000", "/jml", false},
		{"only local allows own address", security.Policy{Mode: security.OnlyLocalRequests}, "resetApplication", localAddr + ":5000", "/jml", false},
		{"only local allows local uri", security.Policy{Mode: security.OnlyLocalRequests, LocalURIs: []string{"/internal/jml"}}, "resetApplication", "203.0.113.9:5000", "/internal/jml", false},
		{"only local denies remote", security.Policy{Mode: security.OnlyLocalRequests, AllowedActions: allowed}, "login", "203.0.113.9:5000", "/jml", true},
		{"partial allows any local", security.Policy{Mode: security.PartialRestrictedActions, AllowedActions: allowed}, "resetApplication", "127.0.0.1", "/jml", false},
		{"partial allows listed remote", security.Policy{Mode: security.PartialRestrictedActions, AllowedActions: allowed}, "doUserStoredProcedure", "203.0.113.9", "/jml", false},
		{"partial denies unlisted remote", security.Policy{Mode: security.PartialRestrictedActions, AllowedActions: allowed}, "doStoredProcedure", "203.0.113.9", "/jml", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupTestFixture(t, tt.policy)
			err := f.manager.SecurityCheckpoint(context.Background(), tt.action, testSession, tt.remote, tt.uri)
			if !tt.denied {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, errors.ErrPolicyDenied))
			require.Contains(t, err.Error(), "Action "+tt.action+" from anonymous")
			require.Contains(t, err.Error(), tt.policy.Mode.String()+" mode")
		})
	}
}

func TestCheckpointNamesSessionUser(t *testing.T) {
	f := setupTestFixture(t, security.Policy{Mode: security.OnlyLocalRequests})
	require.True(t, f.manager.Login(context.Background(), creds(), demoAccount, testSession).Success)

	err := f.manager.SecurityCheckpoint(context.Background(), "doStoredProcedure", testSession, "198.51.100.1:443", "/jml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "from alice")
}

func TestLoginFailures(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	ctx := context.Background()

	tests := []struct {
		name    string
		creds   verifier.Credentials
		account string
		session string
		message string
	}{
		{"no account", creds(), "", testSession, security.MsgMissingAccount},
		{"unknown account", creds(), "nobody", testSession, security.MsgUnknownAccount},
		{"no session id", creds(), demoAccount, "", security.MsgMissingSession},
		{"no user", verifier.Credentials{"password": testPassword}, demoAccount, testSession, verifier.MsgMissingUser},
		{"no password", verifier.Credentials{"username": testUser}, demoAccount, testSession, verifier.MsgMissingPass},
		{"bad password", verifier.Credentials{"username": testUser, "password": "x"}, demoAccount, testSession, verifier.MsgBadCombination},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.manager.Login(ctx, tt.creds, tt.account, tt.session)
			require.False(t, resp.Success)
			require.Equal(t, tt.message, resp.Message)
			require.Empty(t, resp.CSRFToken)
		})
	}

	all, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestLoginUnresolvableVerifierIsGeneric(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	f.manager.Accounts().Replace([]*accounts.Account{{ID: demoAccount, Verifier: "missing"}})

	resp := f.manager.Login(context.Background(), creds(), demoAccount, testSession)
	require.False(t, resp.Success)
	require.Equal(t, security.MsgSystemFailure, resp.Message)
}

func TestLoginStoresSession(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	ctx := context.Background()

	resp := f.manager.Login(ctx, creds(), "DEMO", testSession)
	require.True(t, resp.Success)
	require.Equal(t, verifier.MsgLoginOK, resp.Message)
	require.NotEmpty(t, resp.CSRFToken)

	s, err := f.manager.Session(ctx, testSession)
	require.NoError(t, err)
	require.Equal(t, demoAccount, s.AccountID)
	require.Equal(t, testUser, s.UserID)
	require.Equal(t, resp.CSRFToken, s.CSRFToken)
	require.Equal(t, 30*time.Minute, s.Timeout)
	require.Equal(t, f.clock.Now(), s.LastAccessed)
}

func TestAtMostOneSessionPerID(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	ctx := context.Background()

	first := f.manager.Login(ctx, creds(), demoAccount, testSession)
	require.True(t, first.Success)
	second := f.manager.Login(ctx, creds(), otherAccount, testSession)
	require.True(t, second.Success)

	all, err := f.manager.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, otherAccount, all[0].AccountID)
	require.Equal(t, second.CSRFToken, all[0].CSRFToken)

	// a failed login still clears the previous session
	failed := f.manager.Login(ctx, verifier.Credentials{"username": testUser, "password": "wrong"}, demoAccount, testSession)
	require.False(t, failed.Success)
	_, err = f.manager.Session(ctx, testSession)
	require.True(t, errors.Is(err, errors.ErrSessionNotFound))
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	ctx := context.Background()
	require.True(t, f.manager.Login(ctx, creds(), demoAccount, testSession).Success)

	require.NoError(t, f.manager.Logout(ctx, testSession))
	require.NoError(t, f.manager.Logout(ctx, testSession))
	require.NoError(t, f.manager.Logout(ctx, "never-existed"))

	_, err := f.manager.Session(ctx, testSession)
	require.True(t, errors.Is(err, errors.ErrSessionNotFound))
}

func TestTouch(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	ctx := context.Background()

	require.Equal(t, security.MsgMissingAccount, f.manager.Touch(ctx, testSession, "").Message)
	require.Equal(t, security.MsgNoSession, f.manager.Touch(ctx, testSession, demoAccount).Message)

	require.True(t, f.manager.Login(ctx, creds(), demoAccount, testSession).Success)

	f.clock.Advance(29 * time.Minute)
	resp := f.manager.Touch(ctx, testSession, demoAccount)
	require.True(t, resp.Success)
	s, err := f.manager.Session(ctx, testSession)
	require.NoError(t, err)
	require.Equal(t, f.clock.Now(), s.LastAccessed)

	// still inside the refreshed window
	f.clock.Advance(29 * time.Minute)
	require.True(t, f.manager.Touch(ctx, testSession, demoAccount).Success)

	f.clock.Advance(31 * time.Minute)
	resp = f.manager.Touch(ctx, testSession, demoAccount)
	require.False(t, resp.Success)
	require.Equal(t, security.MsgSessionTimeout, resp.Message)

	_, err = f.manager.Session(ctx, testSession)
	require.True(t, errors.Is(err, errors.ErrSessionNotFound))
	require.Equal(t, security.MsgNoSession, f.manager.Touch(ctx, testSession, demoAccount).Message)
}

func TestConcurrentTouchesNeverResurrect(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	ctx := context.Background()
	require.True(t, f.manager.Login(ctx, creds(), demoAccount, testSession).Success)
	f.clock.Advance(time.Hour)

	var wg sync.WaitGroup
	results := make(chan security.AuthResponse, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.manager.Touch(ctx, testSession, demoAccount)
		}()
	}
	wg.Wait()
	close(results)

	timeouts := 0
	for r := range results {
		require.False(t, r.Success)
		if r.Message == security.MsgSessionTimeout {
			timeouts++
		}
	}
	require.Equal(t, 1, timeouts)
}

func TestIsAuthorizedCSRFVeto(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	ctx := context.Background()
	resp := f.manager.Login(ctx, creds(), demoAccount, testSession)
	require.True(t, resp.Success)

	params := func(token string) map[string]string { return map[string]string{"token": token} }

	require.True(t, f.manager.IsAuthorized(ctx, params(resp.CSRFToken), demoAccount, testSession, "doStoredProcedure"))
	require.False(t, f.manager.IsAuthorized(ctx, params("wrong"), demoAccount, testSession, "doStoredProcedure"))
	require.False(t, f.manager.IsAuthorized(ctx, params(""), demoAccount, testSession, "doStoredProcedure"))
	// the verifier's own refusal still stands with a good token
	require.False(t, f.manager.IsAuthorized(ctx, params(resp.CSRFToken), demoAccount, testSession, "resetApplication"))
}

func TestIsAuthorizedWithoutCSRF(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	ctx := context.Background()
	require.True(t, f.manager.Login(ctx, creds(), otherAccount, testSession).Success)

	require.True(t, f.manager.IsAuthorized(ctx, nil, otherAccount, testSession, "doStoredProcedure"))
	require.False(t, f.manager.IsAuthorized(ctx, nil, otherAccount, testSession, "getActiveUsers"))
}

func TestIsAuthorizedAccountIsolation(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	ctx := context.Background()
	require.True(t, f.manager.Login(ctx, creds(), otherAccount, testSession).Success)

	require.False(t, f.manager.IsAuthorized(ctx, nil, demoAccount, testSession, "doStoredProcedure"))
	require.False(t, f.manager.IsAuthorized(ctx, nil, "", testSession, "doStoredProcedure"))
	require.True(t, f.manager.IsAuthorized(ctx, nil, "OTHER", testSession, "doStoredProcedure"))
}

func TestIsAuthorizedSeamlessLogin(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	ctx := context.Background()

	require.False(t, f.manager.IsAuthorized(ctx, map[string]string{}, remoteAccount, testSession, "doStoredProcedure"))
	_, err := f.manager.Session(ctx, testSession)
	require.Error(t, err)

	require.True(t, f.manager.IsAuthorized(ctx, map[string]string{"REMOTE_USER": "carol"}, remoteAccount, testSession, "doStoredProcedure"))
	s, err := f.manager.Session(ctx, testSession)
	require.NoError(t, err)
	require.Equal(t, "carol", s.UserID)
}

func TestDemoScenario(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	ctx := context.Background()

	resp := f.manager.Login(ctx, creds(), demoAccount, testSession)
	require.True(t, resp.Success)
	good := map[string]string{"token": resp.CSRFToken}

	require.True(t, f.manager.IsAuthorized(ctx, good, demoAccount, testSession, "doStoredProcedure"))
	require.True(t, f.manager.Touch(ctx, testSession, demoAccount).Success)
	require.False(t, f.manager.IsAuthorized(ctx, map[string]string{"token": "wrong"}, demoAccount, testSession, "doStoredProcedure"))

	f.clock.Advance(31 * time.Minute)
	require.Equal(t, security.MsgSessionTimeout, f.manager.Touch(ctx, testSession, demoAccount).Message)
	// the old token no longer authorizes anything; the seamless login has no credentials
	require.False(t, f.manager.IsAuthorized(ctx, good, demoAccount, testSession, "doStoredProcedure"))
}

func TestHydrator(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	s := &sessions.Session{ID: testSession, AccountID: otherAccount, UserID: testUser, Strategy: verifier.SimpleName, Timeout: time.Minute}

	require.NoError(t, f.manager.Hydrator()(s))
	require.NotNil(t, s.Verifier)
	require.Equal(t, testUser, s.Verifier.Identity())
	require.True(t, s.Verifier.IsActionAllowed("doStoredProcedure"))

	// sessions of removed accounts stay readable so they can be evicted
	missing := &sessions.Session{ID: "x", AccountID: "gone"}
	require.NoError(t, f.manager.Hydrator()(missing))
	require.Nil(t, missing.Verifier)
}

func TestTouchAtTimeoutBoundary(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	ctx := context.Background()
	require.True(t, f.manager.Login(ctx, creds(), demoAccount, testSession).Success)

	f.clock.Advance(30 * time.Minute)
	resp := f.manager.Touch(ctx, testSession, demoAccount)
	require.False(t, resp.Success)
	require.Equal(t, security.MsgSessionTimeout, resp.Message)
	_, err := f.manager.Session(ctx, testSession)
	require.True(t, errors.Is(err, errors.ErrSessionNotFound))
}

func TestHydratedJWTSessionKeepsTokenExpiry(t *testing.T) {
	const secret = "jwt-signing-secret"
	now := time.Now().Truncate(time.Second)
	c := &clock{now: now}
	registry := accounts.NewRegistry(&accounts.Account{ID: "api", Verifier: verifier.JWTName, SessionTimeout: 30 * time.Minute,
		Settings: map[string]any{"secret": secret}})
	verifiers := verifier.NewDefaultRegistry(nil)
	m, err := security.NewManager(registry, verifiers, sessions.NewInMemoryStore(), security.Policy{},
		security.WithNowTime(c.Now), security.WithLocalAddresses(localAddr))
	require.NoError(t, err)

	exp := now.Add(5 * time.Minute)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": testUser, "exp": exp.Unix()}).SignedString([]byte(secret))
	require.NoError(t, err)

	ctx := context.Background()
	require.True(t, m.Login(ctx, verifier.Credentials{"authorization": "Bearer " + token}, "api", testSession).Success)
	stored, err := m.Session(ctx, testSession)
	require.NoError(t, err)
	require.True(t, exp.Equal(stored.ExpiresAt))

	// what a shared store hands back after a read
	persisted := &sessions.Session{ID: stored.ID, AccountID: stored.AccountID, UserID: stored.UserID, Strategy: stored.Strategy,
		LastAccessed: stored.LastAccessed, Timeout: stored.Timeout, ExpiresAt: stored.ExpiresAt}
	require.NoError(t, security.HydrateWith(registry, verifiers)(persisted))
	require.True(t, persisted.Verifier.Refresh(now, exp.Add(-time.Second)))
	require.False(t, persisted.Verifier.Refresh(exp, exp.Add(time.Minute)))

	c.Advance(6 * time.Minute)
	require.Equal(t, security.MsgSessionTimeout, m.Touch(ctx, testSession, "api").Message)
}

func TestEvictIdle(t *testing.T) {
	f := setupTestFixture(t, security.Policy{})
	ctx := context.Background()

	require.True(t, f.manager.Login(ctx, creds(), demoAccount, testSession).Success)
	require.True(t, f.manager.IsAuthorized(ctx, map[string]string{"REMOTE_USER": "carol"}, remoteAccount, "session-2", "doStoredProcedure"))

	evicted, err := f.manager.EvictIdle(ctx, testSession)
	require.NoError(t, err)
	require.False(t, evicted)

	f.clock.Advance(30 * time.Minute)
	evicted, err = f.manager.EvictIdle(ctx, testSession)
	require.NoError(t, err)
	require.True(t, evicted)
	require.Empty(t, f.manager.UserID(ctx, testSession))

	// no timeout configured
	evicted, err = f.manager.EvictIdle(ctx, "session-2")
	require.NoError(t, err)
	require.False(t, evicted)
	require.Equal(t, remoteAccount, f.manager.AccountID(ctx, "session-2"))

	evicted, err = f.manager.EvictIdle(ctx, "nobody")
	require.NoError(t, err)
	require.False(t, evicted)
}
