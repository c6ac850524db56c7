package sessions

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

const csrfTokenBytes = 120

// NewCSRFToken returns a fresh random token for a new session.
func NewCSRFToken() (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("[NewCSRFToken] %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// CSRFMatches reports whether supplied is exactly the session's token.
func CSRFMatches(expected, supplied string) bool {
	if expected == "" || supplied == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}
