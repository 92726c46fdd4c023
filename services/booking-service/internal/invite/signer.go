package invite

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	rawTokenBytes  = 32
	minSecretBytes = 32
	keyInfo        = "shopbook/review-invite/v1"
)

var (
	ErrMalformed    = errors.New("malformed invite token")
	ErrBadSignature = errors.New("invite token signature mismatch")
)

// Signer mints and verifies "raw.signature" tokens. raw is 256 random bits, signature is
// HMAC-SHA256 over the raw segment, both base64url without padding.
type Signer struct {
	key []byte
}

// NewSigner derives the MAC key from the server secret with HKDF-SHA256, so the secret itself is
// never used as a key directly.
func NewSigner(secret string) (*Signer, error) {
	if len(secret) < minSecretBytes {
		return nil, errors.New("review invite secret must be at least 32 bytes")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

// Issue returns the caller-facing token and its raw segment.
func (s *Signer) Issue() (token string, raw string, err error) {
	buf := make([]byte, rawTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw + "." + s.sign(raw), raw, nil
}

// Verify checks the shape and signature of token and returns the raw segment.
// The signature comparison is constant time.
func (s *Signer) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ErrMalformed
	}
	decoded, err := base64.RawURLEncoding.Strict().DecodeString(parts[0])
	if err != nil || len(decoded) != rawTokenBytes {
		return "", ErrMalformed
	}
	if !hmac.Equal([]byte(parts[1]), []byte(s.sign(parts[0]))) {
		return "", ErrBadSignature
	}
	return parts[0], nil
}

func (s *Signer) sign(raw string) string {
	mac := hmac.New(sha256.New, s.key)
	_, _ = mac.Write([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// HashToken is the stored form of a raw segment.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
