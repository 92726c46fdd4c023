package invite

import (
	"errors"
	"strings"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testSecret)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	return s
}

func TestSigner_RoundTrip(t *testing.T) {
	s := newTestSigner(t)
	token, raw, err := s.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if strings.Count(token, ".") != 1 || strings.ContainsAny(token, "+/=") {
		t.Fatalf("token is not two url-safe segments: %q", token)
	}
	got, err := s.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != raw {
		t.Fatalf("expected raw %q, got %q", raw, got)
	}
}

func TestSigner_AnySingleCharFlipFails(t *testing.T) {
	s := newTestSigner(t)
	token, _, err := s.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	for i := range token {
		if token[i] == '.' {
			continue
		}
		repl := byte('A')
		if token[i] == 'A' {
			repl = 'B'
		}
		flipped := token[:i] + string(repl) + token[i+1:]
		if _, err := s.Verify(flipped); err == nil {
			t.Fatalf("flip at %d was accepted: %q", i, flipped)
		}
	}
}

func TestSigner_RejectsMalformed(t *testing.T) {
	s := newTestSigner(t)
	token, _, _ := s.Issue()
	raw, sig, _ := strings.Cut(token, ".")
	for _, bad := range []string{
		"",
		raw,
		"." + sig,
		raw + ".",
		token + ".x",
		"not base64!." + sig,
		raw[:10] + "." + sig,
	} {
		if _, err := s.Verify(bad); !errors.Is(err, ErrMalformed) && !errors.Is(err, ErrBadSignature) {
			t.Fatalf("expected rejection for %q, got %v", bad, err)
		}
	}
}

func TestSigner_OtherSecretRejects(t *testing.T) {
	a := newTestSigner(t)
	b, err := NewSigner(strings.Repeat("z", 40))
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	token, _, _ := a.Issue()
	if _, err := b.Verify(token); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
}

func TestNewSigner_ShortSecret(t *testing.T) {
	if _, err := NewSigner("short"); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
}

func TestHashToken_IsHexSHA256(t *testing.T) {
	h := HashToken("abc")
	if h != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected hash %s", h)
	}
}
