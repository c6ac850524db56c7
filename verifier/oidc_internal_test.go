package verifier

import (
	"testing"

	"github.com/jrsteele09/go-middle-layer/accounts"
	"github.com/stretchr/testify/require"
)

func TestRemoteKeySetSharedAcrossLogins(t *testing.T) {
	account := &accounts.Account{ID: "sso", Verifier: OIDCName, Settings: map[string]any{
		"issuer":    "https://idp.example.com",
		"client_id": "middle-layer",
		"jwks_url":  "https://idp.example.com/keys",
	}}

	first, err := NewOIDC(account)
	require.NoError(t, err)
	second, err := NewOIDC(account)
	require.NoError(t, err)
	require.NotSame(t, first, second)

	ks := remoteKeySets.get("sso", "https://idp.example.com", "https://idp.example.com/keys")
	require.Same(t, ks, remoteKeySets.get("sso", "https://idp.example.com", "https://idp.example.com/keys"))
	require.NotSame(t, ks, remoteKeySets.get("other", "https://idp.example.com", "https://idp.example.com/keys"))

	remoteKeySets.mu.Lock()
	defer remoteKeySets.mu.Unlock()
	n := 0
	for k := range remoteKeySets.sets {
		if k == "sso\x00https://idp.example.com\x00https://idp.example.com/keys" {
			n++
		}
	}
	require.Equal(t, 1, n)
}
