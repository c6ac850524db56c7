package sessions

import (
	"time"

	"github.com/jrsteele09/go-middle-layer/verifier"
)

// Session is the server side record of one authenticated principal working
// against one account.
type Session struct {
	ID           string        `json:"id"`
	AccountID    string        `json:"account_id"`
	UserID       string        `json:"user_id"`
	Strategy     string        `json:"strategy"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
	Timeout      time.Duration `json:"timeout"` // copied from the account at login, 0 never expires
	ExpiresAt    time.Time     `json:"expires_at"` // credential expiry, zero when the credential has none
	CSRFToken    string        `json:"csrf_token"`

	// Verifier is the strategy instance that authenticated the session and
	// answers its per-action authorization questions.
	Verifier verifier.Verifier `json:"-"`
}

// Expired reports whether the idle timeout or the credential expiry has
// been reached at now.
func (s *Session) Expired(now time.Time) bool {
	if !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt) {
		return true
	}
	return s.Timeout > 0 && now.Sub(s.LastAccessed) >= s.Timeout
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
