package verifier

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-middle-layer/accounts"
)

const OIDCName = "oidc"

// remoteKeySets shares one JWKS cache per account and issuer across logins.
var remoteKeySets = &keySetCache{sets: make(map[string]*oidc.RemoteKeySet)}

type keySetCache struct {
	mu   sync.Mutex
	sets map[string]*oidc.RemoteKeySet
}

func (c *keySetCache) get(accountID, issuer, jwksURL string) *oidc.RemoteKeySet {
	key := accountID + "\x00" + issuer + "\x00" + jwksURL
	c.mu.Lock()
	defer c.mu.Unlock()
	if ks, ok := c.sets[key]; ok {
		return ks
	}
	ks := oidc.NewRemoteKeySet(context.Background(), jwksURL)
	c.sets[key] = ks
	return ks
}

type oidcSettings struct {
	Issuer         string   `yaml:"issuer"`
	ClientID       string   `yaml:"client_id"`
	JWKSURL        string   `yaml:"jwks_url"`
	PublicKeys     []string `yaml:"public_keys"` // PEM encoded
	IdentityClaim  string   `yaml:"identity_claim"`
	AllowedActions []string `yaml:"allowed_actions"`
}

// OIDC accepts an ID token from the account's identity provider. Keys come
// either from a static PEM list or the provider's JWKS endpoint.
type OIDC struct {
	session
	verifier      *oidc.IDTokenVerifier
	identityClaim string
}

var _ Verifier = (*OIDC)(nil)

func NewOIDC(account *accounts.Account) (Verifier, error) {
	var s oidcSettings
	if err := account.DecodeSettings(&s); err != nil {
		return nil, err
	}
	if s.Issuer == "" || s.ClientID == "" {
		return nil, errors.New("[NewOIDC] issuer and client_id are required")
	}

	var keySet oidc.KeySet
	switch {
	case len(s.PublicKeys) > 0:
		keys := make([]crypto.PublicKey, 0, len(s.PublicKeys))
		for _, p := range s.PublicKeys {
			key, err := parsePublicKey(p)
			if err != nil {
				return nil, err
			}
			keys = append(keys, key)
		}
		keySet = &oidc.StaticKeySet{PublicKeys: keys}
	case s.JWKSURL != "":
		keySet = remoteKeySets.get(account.ID, s.Issuer, s.JWKSURL)
	default:
		return nil, errors.New("[NewOIDC] jwks_url or public_keys is required")
	}

	return &OIDC{
		session:       session{actions: newActionSet(s.AllowedActions)},
		verifier:      oidc.NewVerifier(s.Issuer, keySet, &oidc.Config{ClientID: s.ClientID}),
		identityClaim: s.IdentityClaim,
	}, nil
}

func (v *OIDC) Verify(ctx context.Context, creds Credentials, timeout time.Duration) error {
	raw := creds.Get(KeyIDToken)
	if raw == "" {
		raw = bearerToken(creds.Get(KeyAuthorization))
	}
	if raw == "" {
		return authFailure(MsgMissingPass, nil)
	}

	token, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return authFailure(MsgInvalidToken, err)
	}

	user := token.Subject
	if v.identityClaim != "" {
		var claims map[string]any
		if err := token.Claims(&claims); err != nil {
			return authFailure(MsgInvalidToken, err)
		}
		user, _ = claims[v.identityClaim].(string)
	}
	if user == "" {
		return authFailure(MsgMissingUser, nil)
	}
	v.identity = user
	v.timeout = timeout
	v.expiresAt = token.Expiry
	return nil
}

func parsePublicKey(pemText string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("[NewOIDC] public key is not PEM encoded")
	}
	return x509.ParsePKIXPublicKey(block.Bytes)
}
