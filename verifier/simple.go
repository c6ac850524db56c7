package verifier

import (
	"context"
	"errors"
	"time"

	"github.com/jrsteele09/go-middle-layer/accounts"
	"golang.org/x/crypto/bcrypt"
)

const SimpleName = "simple"

// Actions a simple login may run unless the account overrides the list.
var simpleDefaultActions = []string{"getSessionInfo", "doUserStoredProcedure"}

type simpleSettings struct {
	Users          map[string]string `yaml:"users"` // user id -> bcrypt hash
	AllowedActions []string          `yaml:"allowed_actions"`
}

// Simple checks a user name and password against bcrypt hashes held in the
// account configuration. It allows a narrow set of actions.
type Simple struct {
	session
	users map[string]string
}

var _ Verifier = (*Simple)(nil)

func NewSimple(account *accounts.Account) (Verifier, error) {
	var s simpleSettings
	if err := account.DecodeSettings(&s); err != nil {
		return nil, err
	}
	actions := s.AllowedActions
	if len(actions) == 0 {
		actions = simpleDefaultActions
	}
	return &Simple{
		session: session{actions: newActionSet(actions)},
		users:   s.Users,
	}, nil
}

func (v *Simple) Verify(_ context.Context, creds Credentials, timeout time.Duration) error {
	user := creds.Get(KeyUsername)
	if user == "" {
		return authFailure(MsgMissingUser, nil)
	}
	pass := creds.Get(KeyPassword)
	if pass == "" {
		return authFailure(MsgMissingPass, nil)
	}
	hash, ok := v.users[user]
	if !ok {
		return authFailure(MsgBadCombination, nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return authFailure(MsgBadCombination, nil)
		}
		return authFailure(MsgBadCombination, err)
	}
	v.identity = user
	v.timeout = timeout
	return nil
}

// HashPassword produces a hash suitable for the simple strategy's user table.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
