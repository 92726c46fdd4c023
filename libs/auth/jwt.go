package auth

import (
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the identity carried by access tokens. StaffID is set for staff accounts; Email and
// EmailVerified come from the identity provider and identify customers.
type Claims struct {
	Sub           string `json:"sub"`
	ShopID        string `json:"shop_id"`
	Role          string `json:"role"`
	StaffID       string `json:"staff_id,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Exp           int64  `json:"exp"`
	Iat           int64  `json:"iat"`
}

type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid,omitempty"`
}

// token is a compact JWS split into its parts.
type token struct {
	header    Header
	payload   []byte
	unsigned  string
	signature []byte
}

func splitToken(raw string) (*token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	t := &token{payload: payload, unsigned: parts[0] + "." + parts[1], signature: sig}
	if err := json.Unmarshal(headerJSON, &t.header); err != nil {
		return nil, ErrInvalidToken
	}
	return t, nil
}

// claims decodes the payload and rejects expired tokens. Tokens without exp never expire.
func (t *token) claims() (*Claims, error) {
	var c Claims
	if err := json.Unmarshal(t.payload, &c); err != nil {
		return nil, ErrInvalidToken
	}
	if c.Exp > 0 && time.Now().Unix() > c.Exp {
		return nil, ErrInvalidToken
	}
	return &c, nil
}

// ParseHeader decodes the header without verifying anything, e.g. to pick a key by kid.
func ParseHeader(raw string) (*Header, error) {
	t, err := splitToken(raw)
	if err != nil {
		return nil, err
	}
	return &t.header, nil
}

func SignHS256(claims Claims, secret string) (string, error) {
	headerJSON, err := json.Marshal(Header{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return unsigned + "." + base64.RawURLEncoding.EncodeToString(hmacSHA256(unsigned, secret)), nil
}

// ParseAndVerifyHS256 accepts only tokens whose header says HS256.
func ParseAndVerifyHS256(raw, secret string) (*Claims, error) {
	t, err := splitToken(raw)
	if err != nil {
		return nil, err
	}
	if t.header.Alg != "HS256" || !hmac.Equal(t.signature, hmacSHA256(t.unsigned, secret)) {
		return nil, ErrInvalidToken
	}
	return t.claims()
}

// VerifyRS256 accepts only tokens whose header says RS256, signed by pubKey.
func VerifyRS256(raw string, pubKey crypto.PublicKey) (*Claims, error) {
	rsaKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidToken
	}
	t, err := splitToken(raw)
	if err != nil {
		return nil, err
	}
	if t.header.Alg != "RS256" {
		return nil, ErrInvalidToken
	}
	hash := sha256.Sum256([]byte(t.unsigned))
	if err := rsa.VerifyPKCS1v15(rsaKey, crypto.SHA256, hash[:], t.signature); err != nil {
		return nil, ErrInvalidToken
	}
	return t.claims()
}

func hmacSHA256(data, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(data))
	return mac.Sum(nil)
}
