// Package signing implements a minimal HMAC helper for generating and
// verifying expiring download links to converted artifacts.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature binding an artifact of a session to an
// expiry timestamp.
func (s *Signer) Sign(sessionID, entryID string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	// The payload is canonical so signer and validator agree byte for byte.
	payload := fmt.Sprintf("%s:%s:%d", sessionID, entryID, expiresUnix)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected. It does not
// look at the clock; see Expired.
func (s *Signer) Validate(sessionID, entryID, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(sessionID, entryID, exp)
	// hmac.Equal performs constant-time comparison.
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Expired reports whether the expiry timestamp lies before now. Malformed
// timestamps count as expired.
func Expired(expires string, now time.Time) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return true
	}
	return time.Unix(exp, 0).Before(now)
}

// DownloadURL builds the relative download link for an artifact valid for ttl.
func (s *Signer) DownloadURL(base, sessionID, entryID string, ttl time.Duration, now time.Time) (string, int64) {
	expiry := now.Add(ttl).Unix()
	q := url.Values{}
	q.Set("session", sessionID)
	q.Set("entry", entryID)
	q.Set("expires", strconv.FormatInt(expiry, 10))
	q.Set("signature", s.Sign(sessionID, entryID, expiry))
	return base + "?" + q.Encode(), expiry
}
