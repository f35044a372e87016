// Package security authenticates server-to-server gateway callbacks.
package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/kursadbilgin/consult-payments/internal/domain"
)

const sha256Prefix = "sha256 "

// WebhookAuthenticator checks the Authorization header the gateway sends with
// each callback: the hex sha256 of "username:password", optionally prefixed
// with "SHA256 ".
type WebhookAuthenticator struct {
	expected []byte
}

func NewWebhookAuthenticator(username, password string) (*WebhookAuthenticator, error) {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("webhook username and password are required")
	}
	return &WebhookAuthenticator{expected: []byte(HashCredentials(username, password))}, nil
}

func HashCredentials(username, password string) string {
	sum := sha256.Sum256([]byte(username + ":" + password))
	return hex.EncodeToString(sum[:])
}

// Verify returns domain.ErrUnauthorized for any header that does not match.
func (a *WebhookAuthenticator) Verify(authorization string) error {
	if a == nil || len(a.expected) == 0 {
		return domain.ErrUnauthorized
	}

	presented := strings.TrimSpace(authorization)
	if len(presented) >= len(sha256Prefix) && strings.EqualFold(presented[:len(sha256Prefix)], sha256Prefix) {
		presented = strings.TrimSpace(presented[len(sha256Prefix):])
	}
	presented = strings.ToLower(presented)

	if subtle.ConstantTimeCompare([]byte(presented), a.expected) != 1 {
		return domain.ErrUnauthorized
	}
	return nil
}
