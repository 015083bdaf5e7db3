package security

import (
	"strings"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var testOpts = DefaultOptions([]byte("unit-test-secret"))

func TestGenerateVerifyRoundTrip(t *testing.T) {
	token, exp, err := Generate(testOpts, "doc-1", "doctor")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expireAt in the past: %v", exp)
	}

	id, err := Verify(testOpts, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.UserID != "doc-1" || id.Role != "doctor" {
		t.Fatalf("identity = %+v", id)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, err := Generate(testOpts, "p1", "patient")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := Verify(DefaultOptions([]byte("other-secret")), token); err == nil {
		t.Fatal("token verified under wrong secret")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Now()
	claims := jwtlib.MapClaims{
		"sub": "p1", "role": "patient",
		"iat": now.Add(-2 * time.Hour).Unix(),
		"exp": now.Add(-time.Hour).Unix(),
	}
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(testOpts.Secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := Verify(testOpts, token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestGenerateClampsTTL(t *testing.T) {
	opts := testOpts
	opts.TTL = -time.Minute
	_, exp, err := Generate(opts, "p1", "patient")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !exp.After(time.Now()) {
		t.Fatalf("expireAt in the past: %v", exp)
	}
}

func TestVerifyRejectsTampered(t *testing.T) {
	token, _, err := Generate(testOpts, "p1", "patient")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape: %q", token)
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := Verify(testOpts, tampered); err == nil {
		t.Fatal("tampered signature accepted")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	if _, err := Verify(testOpts, "not-a-token"); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestUnsupportedAlg(t *testing.T) {
	opts := testOpts
	opts.Alg = "RS256"
	if _, _, err := Generate(opts, "p1", "patient"); err == nil {
		t.Fatal("RS256 accepted for HMAC options")
	}
}

func TestHashTokenStable(t *testing.T) {
	a, b := HashToken("tok"), HashToken("tok")
	if a != b || !strings.HasPrefix(a, "sha256:") {
		t.Fatalf("hash = %q / %q", a, b)
	}
	if HashToken("tok2") == a {
		t.Fatal("distinct tokens collide")
	}
}
