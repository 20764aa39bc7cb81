// Package session implements the signed opaque session token (spec.md
// §4.D), ported from the original session_manager.py: a random ID signed
// with HMAC-SHA256 over the configured secret key, transported as
// "<id>.<hex-signature>" and verified in constant time.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// CookieName is the name of the cookie carrying the signed session id,
// matching the original's px_session_id.
const CookieName = "px_session_id"

// Manager mints and verifies signed session ids for one deployment's
// secret key.
type Manager struct {
	secretKey []byte
}

// New returns a Manager signing with secretKey.
func New(secretKey string) *Manager {
	return &Manager{secretKey: []byte(secretKey)}
}

// GenerateID returns a fresh random, URL-safe session id (32 bytes of
// entropy, base64url-encoded without padding).
func GenerateID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Sign returns the signed cookie value "<sessionID>.<hex-hmac>".
func (m *Manager) Sign(sessionID string) string {
	return sessionID + "." + m.signature(sessionID)
}

// NewSigned generates a fresh session id and returns its signed cookie
// value in one step.
func (m *Manager) NewSigned() (string, error) {
	id, err := GenerateID()
	if err != nil {
		return "", err
	}
	return m.Sign(id), nil
}

// Verify checks a signed cookie value and returns the embedded session id
// if the signature is valid, using a constant-time comparison. The second
// return value is false for malformed input or a signature mismatch.
func (m *Manager) Verify(signed string) (string, bool) {
	idx := strings.LastIndex(signed, ".")
	if idx < 0 {
		return "", false
	}
	sessionID, provided := signed[:idx], signed[idx+1:]

	expected := m.signature(sessionID)
	expectedBytes, err := hex.DecodeString(expected)
	if err != nil {
		return "", false
	}
	providedBytes, err := hex.DecodeString(provided)
	if err != nil {
		return "", false
	}
	if !hmac.Equal(expectedBytes, providedBytes) {
		return "", false
	}
	return sessionID, true
}

func (m *Manager) signature(sessionID string) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write([]byte(sessionID))
	return hex.EncodeToString(mac.Sum(nil))
}
