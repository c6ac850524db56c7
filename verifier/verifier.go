// Package verifier holds the credential verification strategies an account
// can be configured with. A strategy authenticates the login credentials and
// then governs per-action authorization for the session it created.
package verifier

import (
	"context"
	"time"

	"github.com/jrsteele09/go-middle-layer/internal/errors"
)

// Credential keys read from the request parameters.
const (
	KeyUsername      = "username"
	KeyPassword      = "password"
	KeyRemoteUser    = "REMOTE_USER"
	KeyAuthorization = "authorization"
	KeyIDToken       = "id_token"
)

// User facing failure reasons.
const (
	MsgMissingUser    = "Missing user name"
	MsgMissingPass    = "Missing password"
	MsgBadCombination = "Login was not successful. Incorrect user name and password combination."
	MsgInvalidToken   = "Login was not successful. The supplied token is not valid."
	MsgLoginOK        = "Login successful"
)

// Credentials is the subset of request parameters a strategy reads.
type Credentials map[string]string

func (c Credentials) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

// Verifier authenticates one principal and then answers authorization
// questions for the lifetime of that principal's session.
type Verifier interface {
	// Verify authenticates creds. timeout is the account idle timeout the
	// session will be held to; 0 never expires.
	Verify(ctx context.Context, creds Credentials, timeout time.Duration) error

	// Refresh reports whether a session last used at lastAccessed is still live at now.
	Refresh(lastAccessed, now time.Time) bool

	IsActionAllowed(action string) bool

	// Identity is the authenticated user id, empty before Verify succeeds.
	Identity() string

	// Logout releases anything the strategy holds for the session.
	Logout(ctx context.Context) error

	// ExpiresAt is when the presented credential stops being valid, zero
	// when it carries no expiry.
	ExpiresAt() time.Time

	// Restore rebuilds a verified instance from a persisted session.
	Restore(identity string, timeout time.Duration, expiresAt time.Time)
}

// AuthError carries the reason a verification failed.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *AuthError) Unwrap() []error {
	if e.Err != nil {
		return []error{errors.ErrAuthenticationFailed, e.Err}
	}
	return []error{errors.ErrAuthenticationFailed}
}

func authFailure(reason string, err error) error {
	return &AuthError{Reason: reason, Err: err}
}

// session holds the state every strategy shares.
type session struct {
	identity  string
	timeout   time.Duration
	expiresAt time.Time
	actions   actionSet
}

func (s *session) Identity() string {
	return s.identity
}

func (s *session) ExpiresAt() time.Time {
	return s.expiresAt
}

func (s *session) Restore(identity string, timeout time.Duration, expiresAt time.Time) {
	s.identity = identity
	s.timeout = timeout
	s.expiresAt = expiresAt
}

// Refresh keeps the session live strictly inside the idle window and before
// the credential expiry.
func (s *session) Refresh(lastAccessed, now time.Time) bool {
	if !s.expiresAt.IsZero() && !now.Before(s.expiresAt) {
		return false
	}
	if s.timeout <= 0 {
		return true
	}
	return now.Sub(lastAccessed) < s.timeout
}

func (s *session) IsActionAllowed(action string) bool {
	return s.actions.allows(action)
}

func (s *session) Logout(context.Context) error {
	s.identity = ""
	return nil
}

// actionSet is an allow list. A nil set allows every action.
type actionSet map[string]struct{}

func newActionSet(actions []string) actionSet {
	if len(actions) == 0 {
		return nil
	}
	set := make(actionSet, len(actions))
	for _, a := range actions {
		set[a] = struct{}{}
	}
	return set
}

func (a actionSet) allows(action string) bool {
	if a == nil {
		return true
	}
	_, ok := a[action]
	return ok
}
