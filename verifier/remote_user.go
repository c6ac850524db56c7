package verifier

import (
	"context"
	"strings"
	"time"

	"github.com/jrsteele09/go-middle-layer/accounts"
)

const (
	RemoteUserName = "remote-user"
	unsetIdentity  = "<UNSET>"
)

type remoteUserSettings struct {
	Attribute      string   `yaml:"attribute"`
	AllowedActions []string `yaml:"allowed_actions"`
}

// RemoteUser trusts an identity established by a fronting proxy or web
// authentication layer. The session never idles out on its own; the
// upstream authority owns its lifetime.
type RemoteUser struct {
	session
	attribute string
}

var _ Verifier = (*RemoteUser)(nil)

func NewRemoteUser(account *accounts.Account) (Verifier, error) {
	var s remoteUserSettings
	if err := account.DecodeSettings(&s); err != nil {
		return nil, err
	}
	if s.Attribute == "" {
		s.Attribute = KeyRemoteUser
	}
	return &RemoteUser{
		session:   session{actions: newActionSet(s.AllowedActions)},
		attribute: s.Attribute,
	}, nil
}

func (v *RemoteUser) Verify(_ context.Context, creds Credentials, timeout time.Duration) error {
	user := strings.TrimSpace(creds.Get(v.attribute))
	if user == "" || user == unsetIdentity {
		return authFailure(MsgMissingUser, nil)
	}
	v.identity = user
	v.timeout = timeout
	return nil
}

func (v *RemoteUser) Refresh(time.Time, time.Time) bool {
	return true
}
