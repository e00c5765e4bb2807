package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type xorCrypto struct {
	key []byte
}

func newXorCrypto() *xorCrypto {
	return &xorCrypto{key: []byte("0123456789abcdef0123456789abcdef")}
}

func (c *xorCrypto) Encrypt(plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i := range plaintext {
		out[i] = plaintext[i] ^ c.key[i%len(c.key)]
	}
	return out, nil
}

func (c *xorCrypto) Decrypt(ciphertext []byte) ([]byte, error) {
	return c.Encrypt(ciphertext)
}

func sampleEvent() Event {
	return Event{
		ID:         "evt-1",
		Timestamp:  time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC),
		Action:     "remediation.approved",
		UserID:     "u-1",
		Username:   "alice",
		TargetType: "action",
		TargetID:   "a-1",
		IPAddress:  "10.0.0.1",
		RequestID:  "req-1",
		Details:    `{"note":"looks safe"}`,
	}
}

func TestNewSignerPersistsAndReloadsKey(t *testing.T) {
	dir := t.TempDir()
	crypto := newXorCrypto()

	signer, err := NewSigner(dir, crypto)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	if !signer.SigningEnabled() {
		t.Fatal("expected signing enabled")
	}
	if _, err := os.Stat(filepath.Join(dir, signingKeyFile)); os.IsNotExist(err) {
		t.Fatal("expected signing key file to be created")
	}

	signer2, err := NewSigner(dir, crypto)
	if err != nil {
		t.Fatalf("NewSigner (reload) failed: %v", err)
	}

	event := sampleEvent()
	if signer.Sign(event) != signer2.Sign(event) {
		t.Fatal("expected reloaded signer to produce identical signatures")
	}
}

func TestNewSignerWithoutCryptoDisablesSigning(t *testing.T) {
	signer, err := NewSigner(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	if signer.SigningEnabled() {
		t.Fatal("expected signing disabled without a crypto encryptor")
	}
	if sig := signer.Sign(sampleEvent()); sig != "" {
		t.Fatalf("expected empty signature, got %q", sig)
	}
}

func TestSignerSignIsDeterministicAndSensitive(t *testing.T) {
	signer, err := NewSigner(t.TempDir(), newXorCrypto())
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	event := sampleEvent()
	sig := signer.Sign(event)
	if len(sig) != 64 {
		t.Fatalf("expected 64-char hex signature, got %d chars", len(sig))
	}
	if signer.Sign(event) != sig {
		t.Fatal("expected identical signature for identical event")
	}

	tampered := event
	tampered.Username = "mallory"
	if signer.Sign(tampered) == sig {
		t.Fatal("expected different signature for tampered event")
	}
}

func TestSignerVerify(t *testing.T) {
	signer, err := NewSigner(t.TempDir(), newXorCrypto())
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}

	event := sampleEvent()
	event.Signature = signer.Sign(event)
	if !signer.Verify(event) {
		t.Fatal("expected valid signature to verify")
	}

	tampered := event
	tampered.TargetID = "a-2"
	if signer.Verify(tampered) {
		t.Fatal("expected tampered event to fail verification")
	}

	wrongSig := event
	wrongSig.Signature = "0000000000000000000000000000000000000000000000000000000000000000"
	if signer.Verify(wrongSig) {
		t.Fatal("expected wrong signature to fail verification")
	}

	noSig := event
	noSig.Signature = ""
	if signer.Verify(noSig) {
		t.Fatal("expected empty signature to fail verification")
	}
}

func TestSignerExportKey(t *testing.T) {
	signer, err := NewSigner(t.TempDir(), newXorCrypto())
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	key := signer.ExportKey()
	if len(key) != 44 {
		t.Fatalf("expected base64-encoded 32-byte key (44 chars), got %d", len(key))
	}

	disabled, err := NewSigner(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewSigner failed: %v", err)
	}
	if key := disabled.ExportKey(); key != "" {
		t.Fatalf("expected empty export key when signing disabled, got %q", key)
	}
}
