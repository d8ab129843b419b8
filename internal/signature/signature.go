// Package signature validates the HMAC signature Turn attaches to webhook
// deliveries. Verification is opt-in: without a configured secret every
// request is allowed through.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

// Header is the request header carrying the base64-encoded HMAC-SHA256
// signature of the raw request body.
const Header = "X-Turn-Hook-Signature"

var (
	// ErrSignatureMissing indicates a secret is configured but the request
	// carried no signature header.
	ErrSignatureMissing = errors.New("signature header is required")
	// ErrSignatureInvalid indicates the signature did not match the body.
	ErrSignatureInvalid = errors.New("signature verification failed")
)

// Verifier checks webhook signatures against a shared secret.
type Verifier struct {
	secret string
}

// NewVerifier creates a Verifier. An empty secret disables verification.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool {
	return v.secret != ""
}

// Verify checks header against the HMAC-SHA256 of rawBody under the
// configured secret. It is a pure function of its inputs: no I/O, no state.
// A nil return means the request is allowed.
func (v *Verifier) Verify(rawBody []byte, header string) error {
	if !v.Enabled() {
		return nil
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrSignatureMissing
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign computes the base64-encoded HMAC-SHA256 signature for rawBody under
// secret. Used by tests and by tooling that emits signed test deliveries.
func Sign(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
