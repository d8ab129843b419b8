package signature

import (
	"encoding/base64"
	"testing"
)

func TestVerifyNoSecretAlwaysAllows(t *testing.T) {
	v := NewVerifier("")
	if v.Enabled() {
		t.Error("verifier without secret should be disabled")
	}
	if err := v.Verify([]byte(`{"messages":[]}`), ""); err != nil {
		t.Errorf("expected allowed without secret, got %v", err)
	}
	if err := v.Verify([]byte(`{"messages":[]}`), "garbage"); err != nil {
		t.Errorf("expected allowed without secret even with header, got %v", err)
	}
}

func TestVerifyMissingHeaderRejected(t *testing.T) {
	v := NewVerifier("test-secret")
	err := v.Verify([]byte(`{}`), "")
	if err != ErrSignatureMissing {
		t.Errorf("expected ErrSignatureMissing, got %v", err)
	}
}

func TestVerifyValidSignature(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"messages":[{"id":"42","from":"u1","text":{"body":"hi"}}]}`)
	v := NewVerifier(secret)
	if err := v.Verify(body, Sign(body, secret)); err != nil {
		t.Errorf("expected valid signature to verify, got %v", err)
	}
}

func TestVerifyTamperedBodyRejected(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"messages":[{"id":"42","from":"u1","text":{"body":"hi"}}]}`)
	sig := Sign(body, secret)
	v := NewVerifier(secret)

	// Flip every single byte in turn; each mutation must be rejected.
	for i := range body {
		tampered := make([]byte, len(body))
		copy(tampered, body)
		tampered[i] ^= 0x01
		if err := v.Verify(tampered, sig); err != ErrSignatureInvalid {
			t.Fatalf("byte %d: expected ErrSignatureInvalid, got %v", i, err)
		}
	}
}

func TestVerifyWrongSecretRejected(t *testing.T) {
	body := []byte(`payload`)
	v := NewVerifier("right-secret")
	if err := v.Verify(body, Sign(body, "wrong-secret")); err != ErrSignatureInvalid {
		t.Errorf("expected ErrSignatureInvalid, got %v", err)
	}
}

func TestVerifyMalformedBase64Rejected(t *testing.T) {
	v := NewVerifier("test-secret")
	if err := v.Verify([]byte(`payload`), "not*base64!"); err != ErrSignatureInvalid {
		t.Errorf("expected ErrSignatureInvalid for malformed header, got %v", err)
	}
}

func TestVerifyDeterministic(t *testing.T) {
	secret := "test-secret"
	body := []byte(`deterministic`)
	sig := Sign(body, secret)
	v := NewVerifier(secret)
	for i := 0; i < 10; i++ {
		if err := v.Verify(body, sig); err != nil {
			t.Fatalf("run %d: expected allowed, got %v", i, err)
		}
	}
}

func TestSignProducesBase64(t *testing.T) {
	sig := Sign([]byte("x"), "s")
	if _, err := base64.StdEncoding.DecodeString(sig); err != nil {
		t.Errorf("Sign output is not valid base64: %v", err)
	}
}
