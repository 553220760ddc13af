// Package auth provides token-based authentication for gateway connections.
package auth

import "crypto/subtle"

// Verifier checks client tokens against the configured gateway secret.
type Verifier struct {
	secret string
}

// NewVerifier creates a verifier for the given secret. An empty secret makes
// every check fail (fail closed).
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify compares the provided token against the configured one in constant
// time.
func (v *Verifier) Verify(token string) bool {
	if v.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(v.secret)) == 1
}
