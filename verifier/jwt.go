package verifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-middle-layer/accounts"
)

const JWTName = "jwt"

type jwtSettings struct {
	Secret         string        `yaml:"secret"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	IdentityClaim  string        `yaml:"identity_claim"`
	Leeway         time.Duration `yaml:"leeway"`
	AllowedActions []string      `yaml:"allowed_actions"`
}

// JWT accepts an HMAC signed bearer token minted by a trusted issuer. The
// session ends when either the idle timeout or the token expiry passes.
type JWT struct {
	session
	settings jwtSettings
}

var _ Verifier = (*JWT)(nil)

func NewJWT(account *accounts.Account) (Verifier, error) {
	var s jwtSettings
	if err := account.DecodeSettings(&s); err != nil {
		return nil, err
	}
	if s.Secret == "" {
		return nil, errors.New("[NewJWT] secret is required")
	}
	if s.IdentityClaim == "" {
		s.IdentityClaim = "sub"
	}
	return &JWT{
		session:  session{actions: newActionSet(s.AllowedActions)},
		settings: s,
	}, nil
}

func (v *JWT) Verify(_ context.Context, creds Credentials, timeout time.Duration) error {
	raw := bearerToken(creds.Get(KeyAuthorization))
	if raw == "" {
		return authFailure(MsgMissingPass, nil)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(v.settings.Leeway),
	}
	if v.settings.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.settings.Issuer))
	}
	if v.settings.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.settings.Audience))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(v.settings.Secret), nil
	})
	if err != nil {
		return authFailure(MsgInvalidToken, err)
	}

	user, _ := claims[v.settings.IdentityClaim].(string)
	if user == "" {
		return authFailure(MsgMissingUser, fmt.Errorf("claim %q is empty", v.settings.IdentityClaim))
	}
	v.expiresAt = time.Time{}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		v.expiresAt = exp.Time
	}
	v.identity = user
	v.timeout = timeout
	return nil
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
