package auth

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerify_ValidToken(t *testing.T) {
	v := NewVerifier("hush")
	token := mintToken(t, "hush", jwt.MapClaims{
		"sub":  "u1",
		"name": "Alice",
		"room": "r1",
		"kind": "human",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "u1" || claims.DisplayName != "Alice" || claims.Room != "r1" || claims.Kind != "human" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestVerify_RejectsBadTokens(t *testing.T) {
	v := NewVerifier("hush")

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", mintToken(t, "other", jwt.MapClaims{"sub": "u1"})},
		{"expired", mintToken(t, "hush", jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()})},
		{"no subject", mintToken(t, "hush", jwt.MapClaims{"name": "Alice"})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Verify(tc.token); err == nil {
				t.Fatalf("Verify() accepted %s token", tc.name)
			}
		})
	}
}

func TestVerify_RejectsUnsignedAlg(t *testing.T) {
	v := NewVerifier("hush")
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"})
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := v.Verify(signed); err == nil {
		t.Fatalf("Verify() accepted alg=none token")
	}
}

func TestVerify_OpenMode(t *testing.T) {
	var v *Verifier // no secret configured

	claims, err := v.Verify("anything")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims != (Claims{}) {
		t.Fatalf("claims = %+v, want zero", claims)
	}

	if _, err := v.Verify("  "); err == nil {
		t.Fatalf("open mode accepted an empty token")
	}
}

func TestNewVerifier_EmptySecretIsOpen(t *testing.T) {
	if NewVerifier("  ") != nil {
		t.Fatalf("NewVerifier should return nil for a blank secret")
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/meetings/r1/ws?token=query-tok", nil)
	if got := TokenFromRequest(r); got != "query-tok" {
		t.Fatalf("TokenFromRequest = %q, want query-tok", got)
	}

	r = httptest.NewRequest("GET", "/v1/meetings/r1/ws", nil)
	r.Header.Set("Authorization", "Bearer header-tok")
	if got := TokenFromRequest(r); got != "header-tok" {
		t.Fatalf("TokenFromRequest = %q, want header-tok", got)
	}

	r = httptest.NewRequest("GET", "/v1/meetings/r1/ws", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := TokenFromRequest(r); got != "" {
		t.Fatalf("TokenFromRequest = %q, want empty", got)
	}

	// Query wins over the header when both are present.
	r = httptest.NewRequest("GET", "/ws?token=q", nil)
	r.Header.Set("Authorization", "Bearer h")
	if got := TokenFromRequest(r); got != "q" {
		t.Fatalf("TokenFromRequest = %q, want q", got)
	}

	if strings.TrimSpace(TokenFromRequest(httptest.NewRequest("GET", "/ws", nil))) != "" {
		t.Fatalf("TokenFromRequest should be empty with no credential")
	}
}
