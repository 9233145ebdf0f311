// Package auth validates meeting access tokens. Tokens are HS256 JWTs
// minted by the dashboard backend; the gateway only verifies them and
// never issues credentials of its own.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of token claims the gateway acts on.
type Claims struct {
	// Subject is the participant id the token was minted for.
	Subject string

	// DisplayName, when present, overrides the name in the join frame.
	DisplayName string

	// Room, when present, pins the token to a single room id.
	Room string

	// Kind, when present, pins the participant kind ("human" or "ai").
	Kind string
}

// Verifier checks meeting tokens against a shared HS256 secret. A nil
// Verifier runs the gateway open: any non-empty token is accepted and
// identity is taken from the join frame.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

func NewVerifier(secret string) *Verifier {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret), leeway: 30 * time.Second}
}

// Verify parses and validates token. The empty token always fails,
// even in open mode: clients must present something.
func (v *Verifier) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, fmt.Errorf("missing token")
	}
	if v == nil {
		return Claims{}, nil
	}

	parsed, err := jwt.Parse(token,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("invalid token: %w", err)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, fmt.Errorf("invalid token claims")
	}
	sub, _ := mc.GetSubject()
	if strings.TrimSpace(sub) == "" {
		return Claims{}, fmt.Errorf("token missing sub claim")
	}

	return Claims{
		Subject:     sub,
		DisplayName: stringClaim(mc, "name"),
		Room:        stringClaim(mc, "room"),
		Kind:        stringClaim(mc, "kind"),
	}, nil
}

// TokenFromRequest extracts the credential from an upgrade request:
// the token query parameter first, then an Authorization bearer.
func TokenFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.URL.Query().Get("token")); tok != "" {
		return tok
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if strings.HasPrefix(authz, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	}
	return ""
}

func stringClaim(mc jwt.MapClaims, key string) string {
	if s, ok := mc[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
