package security

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-middle-layer/accounts"
	ierrors "github.com/jrsteele09/go-middle-layer/internal/errors"
	"github.com/jrsteele09/go-middle-layer/internal/metrics"
	"github.com/jrsteele09/go-middle-layer/sessions"
	"github.com/jrsteele09/go-middle-layer/verifier"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Messages returned in AuthResponse.
const (
	MsgMissingAccount = "Please enter account identifier"
	MsgUnknownAccount = "Unknown account identifier"
	MsgMissingSession = "Missing session identifier"
	MsgSystemFailure  = "Login failed because of a system error. Please try again later."
	MsgNoSession      = "No active session. Please login"
	MsgSessionTimeout = "The user session timed out. Please login again"
	MsgSessionActive  = "Session is active"
)

// CSRFParam is the request parameter carrying the caller's CSRF token.
const CSRFParam = "token"

// AuthResponse is the outcome of a login or touch.
type AuthResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	CSRFToken string `json:"csrf_token,omitempty"`
}

func failure(msg string) AuthResponse {
	return AuthResponse{Message: msg}
}

// Manager owns the session state machine: login, logout, touch and
// per-action authorization, plus the origin checkpoint that runs first.
type Manager struct {
	accounts   *accounts.Registry
	verifiers  *verifier.Registry
	store      sessions.Store
	policy     Policy
	localAddrs []string
	checkpoint checkpoint
	nowTime    func() time.Time
}

type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithLocalAddresses replaces the discovered host addresses.
func WithLocalAddresses(addrs ...string) ManagerOption {
	return func(m *Manager) {
		m.localAddrs = addrs
	}
}

func NewManager(
	registry *accounts.Registry,
	verifiers *verifier.Registry,
	store sessions.Store,
	policy Policy,
	options ...ManagerOption,
) (*Manager, error) {
	if registry == nil {
		return nil, errors.New("[NewManager] accounts registry is required")
	}
	if verifiers == nil {
		return nil, errors.New("[NewManager] verifier registry is required")
	}
	if store == nil {
		return nil, errors.New("[NewManager] session store is required")
	}

	m := &Manager{
		accounts:  registry,
		verifiers: verifiers,
		store:     store,
		policy:    policy,
		nowTime:   time.Now,
	}
	m.localAddrs = interfaceAddresses()
	for _, opt := range options {
		opt(m)
	}
	m.checkpoint = newCheckpoint(policy, m.localAddrs)

	return m, nil
}

// SecurityCheckpoint applies the origin policy. It returns an
// ErrPolicyDenied error describing the refusal, or nil to allow.
func (m *Manager) SecurityCheckpoint(ctx context.Context, action, sessionID, remoteAddr, uri string) error {
	if !m.checkpoint.denied(action, remoteAddr, uri) {
		return nil
	}
	user := "anonymous"
	if s, err := m.store.Get(ctx, sessionID); err == nil && s.UserID != "" {
		user = s.UserID
	}
	reason := fmt.Sprintf("Action %s from %s (%s) is not allowed in %s mode", action, user, remoteAddr, m.policy.Mode)
	log.Warn().Str("action", action).Str("session", sessionID).Str("remote", remoteAddr).Str("uri", uri).Msg(reason)
	return errors.Wrap(ierrors.ErrPolicyDenied, reason)
}

// Login authenticates creds against the account's verifier and binds a new
// session to sessionID, replacing any session already there.
func (m *Manager) Login(ctx context.Context, creds verifier.Credentials, accountID, sessionID string) AuthResponse {
	if accountID == "" {
		return failure(MsgMissingAccount)
	}
	account, err := m.accounts.Get(accountID)
	if err != nil {
		return failure(MsgUnknownAccount)
	}
	if sessionID == "" {
		return failure(MsgMissingSession)
	}

	if err := m.Logout(ctx, sessionID); err != nil {
		log.Err(err).Str("session", sessionID).Msg("failed to clear previous session before login")
	}

	v, err := m.verifiers.New(account)
	if err != nil {
		log.Err(err).Str("account", account.ID).Msg("could not resolve verifier")
		return failure(MsgSystemFailure)
	}

	if err := v.Verify(ctx, creds, account.SessionTimeout); err != nil {
		metrics.RecordLogin(account.ID, false)
		var authErr *verifier.AuthError
		if errors.As(err, &authErr) {
			log.Info().Str("account", account.ID).Str("session", sessionID).Str("reason", authErr.Reason).Msg("login refused")
			return failure(authErr.Reason)
		}
		log.Err(err).Str("account", account.ID).Str("session", sessionID).Msg("login failed")
		return failure(MsgSystemFailure)
	}

	token, err := sessions.NewCSRFToken()
	if err != nil {
		log.Err(err).Str("account", account.ID).Msg("could not mint csrf token")
		return failure(MsgSystemFailure)
	}

	now := m.nowTime()
	s := &sessions.Session{
		ID:           sessionID,
		AccountID:    account.ID,
		UserID:       v.Identity(),
		Strategy:     account.Verifier,
		CreatedAt:    now,
		LastAccessed: now,
		Timeout:      account.SessionTimeout,
		ExpiresAt:    v.ExpiresAt(),
		CSRFToken:    token,
		Verifier:     v,
	}
	if err := m.store.Put(ctx, s); err != nil {
		log.Err(err).Str("account", account.ID).Str("session", sessionID).Msg("could not store session")
		return failure(MsgSystemFailure)
	}

	metrics.RecordLogin(account.ID, true)
	log.Info().Str("account", account.ID).Str("session", sessionID).Str("user", s.UserID).Msg("login")
	return AuthResponse{Success: true, Message: verifier.MsgLoginOK, CSRFToken: token}
}

// Logout ends the session. Logging out an absent session is a no-op.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	s, err := m.store.Delete(ctx, sessionID)
	if err != nil {
		return errors.Wrapf(err, "[Manager.Logout] %s", sessionID)
	}
	if s == nil {
		return nil
	}
	if s.Verifier != nil {
		if err := s.Verifier.Logout(ctx); err != nil {
			log.Err(err).Str("session", sessionID).Msg("verifier teardown failed")
		}
	}
	log.Info().Str("account", s.AccountID).Str("session", sessionID).Str("user", s.UserID).Msg("logout")
	return nil
}

// Touch extends the session's idle window, or removes it when the window
// has already closed. The check and the extension happen as one step.
func (m *Manager) Touch(ctx context.Context, sessionID, accountID string) AuthResponse {
	if accountID == "" {
		return failure(MsgMissingAccount)
	}

	var ended *sessions.Session
	_, err := m.store.Update(ctx, sessionID, func(s *sessions.Session) sessions.Mutation {
		ended = nil
		now := m.nowTime()
		if !alive(s, now) {
			ended = s
			return sessions.Remove
		}
		s.LastAccessed = now
		return sessions.Save
	})
	if ierrors.Is(err, ierrors.ErrSessionNotFound) {
		return failure(MsgNoSession)
	}
	if err != nil {
		log.Err(err).Str("session", sessionID).Msg("touch failed")
		return failure(MsgSystemFailure)
	}
	if ended != nil {
		if ended.Verifier != nil {
			if err := ended.Verifier.Logout(ctx); err != nil {
				log.Err(err).Str("session", sessionID).Msg("verifier teardown failed")
			}
		}
		log.Info().Str("account", ended.AccountID).Str("session", sessionID).Msg("session timed out")
		return failure(MsgSessionTimeout)
	}
	return AuthResponse{Success: true, Message: MsgSessionActive}
}

// EvictIdle removes the session when it has been idle longer than its
// account's timeout, or when its account no longer exists. It reports
// whether the session was removed.
func (m *Manager) EvictIdle(ctx context.Context, sessionID string) (bool, error) {
	var ended *sessions.Session
	_, err := m.store.Update(ctx, sessionID, func(s *sessions.Session) sessions.Mutation {
		ended = nil
		account, err := m.accounts.Get(s.AccountID)
		if err != nil {
			ended = s
			return sessions.Remove
		}
		now := m.nowTime()
		if timeout := account.SessionTimeout; timeout > 0 && now.Sub(s.LastAccessed) >= timeout {
			ended = s
			return sessions.Remove
		}
		if !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt) {
			ended = s
			return sessions.Remove
		}
		return sessions.Keep
	})
	if ierrors.Is(err, ierrors.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "[Manager.EvictIdle] %s", sessionID)
	}
	if ended == nil {
		return false, nil
	}
	if ended.Verifier != nil {
		if err := ended.Verifier.Logout(ctx); err != nil {
			log.Err(err).Str("session", sessionID).Msg("verifier teardown failed")
		}
	}
	log.Info().Str("account", ended.AccountID).Str("session", sessionID).Str("user", ended.UserID).Msg("idle session evicted")
	return true, nil
}

func alive(s *sessions.Session, now time.Time) bool {
	if s.Verifier != nil {
		return s.Verifier.Refresh(s.LastAccessed, now)
	}
	return !s.Expired(now)
}

// IsAuthorized decides whether the session may run action against accountID.
// With no session present it makes one seamless login attempt from params,
// which lets transport supplied identities through. The CSRF check runs last
// and overrides the verifier.
func (m *Manager) IsAuthorized(ctx context.Context, params map[string]string, accountID, sessionID, action string) bool {
	s, err := m.store.Get(ctx, sessionID)
	if ierrors.Is(err, ierrors.ErrSessionNotFound) {
		if resp := m.Login(ctx, verifier.Credentials(params), accountID, sessionID); !resp.Success {
			return false
		}
		s, err = m.store.Get(ctx, sessionID)
	}
	if err != nil {
		return false
	}

	if accountID == "" || accounts.Normalize(s.AccountID) != accounts.Normalize(accountID) {
		log.Warn().Str("session", sessionID).Str("session_account", s.AccountID).Str("account", accountID).Msg("session belongs to another account")
		return false
	}
	account, err := m.accounts.Get(accountID)
	if err != nil {
		return false
	}

	allowed := s.Verifier != nil && s.Verifier.IsActionAllowed(action)
	if account.CSRF && !sessions.CSRFMatches(s.CSRFToken, params[CSRFParam]) {
		log.Warn().Str("account", account.ID).Str("session", sessionID).Str("action", action).Msg("csrf token mismatch")
		return false
	}
	return allowed
}

// Session returns the live session for id.
func (m *Manager) Session(ctx context.Context, sessionID string) (*sessions.Session, error) {
	return m.store.Get(ctx, sessionID)
}

// UserID returns the identity bound to sessionID, or "" without a session.
func (m *Manager) UserID(ctx context.Context, sessionID string) string {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return ""
	}
	return s.UserID
}

// AccountID returns the account of the session, or "" without a session.
func (m *Manager) AccountID(ctx context.Context, sessionID string) string {
	s, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return ""
	}
	return s.AccountID
}

// ActiveSessions lists every live session.
func (m *Manager) ActiveSessions(ctx context.Context) ([]*sessions.Session, error) {
	return m.store.List(ctx)
}

func (m *Manager) Accounts() *accounts.Registry {
	return m.accounts
}

func (m *Manager) Policy() Policy {
	return m.policy
}

// Hydrator rebuilds the verifier of a session read back from a shared store.
func (m *Manager) Hydrator() func(s *sessions.Session) error {
	return HydrateWith(m.accounts, m.verifiers)
}

// HydrateWith builds a hydrator before a Manager exists, for stores that
// must be constructed first. A session whose account is gone is returned
// without a verifier so it can still be listed and evicted.
func HydrateWith(registry *accounts.Registry, verifiers *verifier.Registry) func(s *sessions.Session) error {
	return func(s *sessions.Session) error {
		account, err := registry.Get(s.AccountID)
		if ierrors.Is(err, ierrors.ErrAccountNotFound) {
			s.Verifier = nil
			return nil
		}
		if err != nil {
			return err
		}
		if s.Strategy != "" && s.Strategy != account.Verifier {
			// keep the strategy the session logged in with across a reload
			pinned := *account
			pinned.Verifier = s.Strategy
			account = &pinned
		}
		v, err := verifiers.New(account)
		if err != nil {
			return err
		}
		v.Restore(s.UserID, s.Timeout, s.ExpiresAt)
		s.Verifier = v
		return nil
	}
}
