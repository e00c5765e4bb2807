// Package audit provides tamper-evident signing for audit_log rows. A
// Signer is optional: callers that never configure a CryptoEncryptor get a
// Signer with signing disabled, and every audit row is then stored
// unsigned.
package audit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CryptoEncryptor wraps whatever at-rest key encryption the host process
// already uses, so the signing key itself is never written to disk in the
// clear.
type CryptoEncryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Event is the canonical, signable projection of an audit_log row.
type Event struct {
	ID         string
	Timestamp  time.Time
	Action     string
	UserID     string
	Username   string
	TargetType string
	TargetID   string
	IPAddress  string
	RequestID  string
	Details    string
	Signature  string
}

const signingKeyFile = ".audit-signing.key"

// Signer computes and verifies HMAC-SHA256 signatures over audit events.
// Signing is only enabled when a CryptoEncryptor was supplied at
// construction time — without one there is nowhere safe to keep the key,
// so Sign and Verify become no-ops rather than persisting an unencrypted
// key.
type Signer struct {
	key []byte
}

// NewSigner loads the signing key from dir, generating and persisting a
// new one (encrypted via crypto) if none exists yet. Passing a nil crypto
// returns a Signer with signing disabled.
func NewSigner(dir string, crypto CryptoEncryptor) (*Signer, error) {
	if crypto == nil {
		return &Signer{}, nil
	}

	path := filepath.Join(dir, signingKeyFile)
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, decErr := crypto.Decrypt(raw)
		if decErr != nil {
			return nil, fmt.Errorf("decrypt audit signing key: %w", decErr)
		}
		return &Signer{key: key}, nil
	case os.IsNotExist(err):
		key := make([]byte, 32)
		if _, randErr := rand.Read(key); randErr != nil {
			return nil, fmt.Errorf("generate audit signing key: %w", randErr)
		}
		enc, encErr := crypto.Encrypt(key)
		if encErr != nil {
			return nil, fmt.Errorf("encrypt audit signing key: %w", encErr)
		}
		if writeErr := os.WriteFile(path, enc, 0o600); writeErr != nil {
			return nil, fmt.Errorf("persist audit signing key: %w", writeErr)
		}
		return &Signer{key: key}, nil
	default:
		return nil, fmt.Errorf("read audit signing key: %w", err)
	}
}

// SigningEnabled reports whether Sign will produce a non-empty signature.
func (s *Signer) SigningEnabled() bool {
	return len(s.key) > 0
}

func (s *Signer) canonicalForm(e Event) []byte {
	return []byte(fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s|%s|%s|%s",
		e.ID, e.Timestamp.UTC().Unix(), e.Action, e.UserID, e.Username,
		e.TargetType, e.TargetID, e.IPAddress, e.RequestID, e.Details))
}

// Sign returns the hex-encoded HMAC-SHA256 signature of e's canonical
// form, or "" if signing is disabled.
func (s *Signer) Sign(e Event) string {
	if !s.SigningEnabled() {
		return ""
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(s.canonicalForm(e))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether e.Signature matches the signature Sign would
// compute for e's other fields. An empty signature, or a disabled Signer,
// never verifies.
func (s *Signer) Verify(e Event) bool {
	if !s.SigningEnabled() || e.Signature == "" {
		return false
	}
	expected := s.Sign(e)
	return hmac.Equal([]byte(expected), []byte(e.Signature))
}

// ExportKey returns the base64-encoded signing key, or "" if signing is
// disabled. Intended for operator-initiated key escrow, not for routine
// logging.
func (s *Signer) ExportKey() string {
	if !s.SigningEnabled() {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.key)
}
