package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"taskboard/config"
)

func sign(t *testing.T, secret []byte, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestParseBearer(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		err    error
	}{
		{"ok", "Bearer header.payload.signature", "header.payload.signature", nil},
		{"padded", "  Bearer a.b.c  ", "a.b.c", nil},
		{"empty", "   ", "", ErrNoCredentials},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", ErrMalformedCredentials},
		{"no token", "Bearer ", "", ErrMalformedCredentials},
		{"many periods", "Bearer " + strings.Repeat(".", 1000), "", ErrMalformedCredentials},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseBearer(tc.header)
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestUserIDChecksAudienceAndIssuer(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "user-123",
		Audience:  jwt.ClaimStrings{"api://aud"},
		Issuer:    "https://issuer/",
		ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
	}
	a := NewLocalAuth(secret, WithAudience("api://aud"), WithIssuer("https://issuer/"))

	userID, err := a.UserID(sign(t, secret, claims))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}

	wrongAud := claims
	wrongAud.Audience = jwt.ClaimStrings{"api://other"}
	if _, err := a.UserID(sign(t, secret, wrongAud)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected audience rejection, got %v", err)
	}
	wrongIss := claims
	wrongIss.Issuer = "https://elsewhere/"
	if _, err := a.UserID(sign(t, secret, wrongIss)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer rejection, got %v", err)
	}
}

func TestUserIDTimeClaims(t *testing.T) {
	secret := []byte("secret")
	a := NewLocalAuth(secret)
	now := time.Now()

	cases := []struct {
		name   string
		claims jwt.RegisteredClaims
		ok     bool
	}{
		{"expired", jwt.RegisteredClaims{Subject: "u", ExpiresAt: jwt.NewNumericDate(now.Add(-5 * time.Minute))}, false},
		{"expired within skew", jwt.RegisteredClaims{Subject: "u", ExpiresAt: jwt.NewNumericDate(now.Add(-10 * time.Second))}, true},
		{"no expiry", jwt.RegisteredClaims{Subject: "u"}, false},
		{"not yet valid", jwt.RegisteredClaims{Subject: "u", ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)), NotBefore: jwt.NewNumericDate(now.Add(10 * time.Minute))}, false},
		{"missing subject", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour))}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.UserID(sign(t, secret, tc.claims))
			if (err == nil) != tc.ok {
				t.Fatalf("ok=%v, got err %v", tc.ok, err)
			}
		})
	}
}

func TestUserIDRejectsWrongSecret(t *testing.T) {
	signed, err := IssueLocalToken([]byte("other"), "user-1", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := NewLocalAuth([]byte("secret")).UserID(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestKeyCacheMemoizesByKid(t *testing.T) {
	calls := 0
	k := &keyCache{
		source:  func(*jwt.Token) (any, error) { calls++; return []byte("k"), nil },
		ttl:     time.Minute,
		entries: make(map[string]cachedKey),
	}
	withKid := &jwt.Token{Header: map[string]any{"kid": "key-1"}}
	for i := 0; i < 3; i++ {
		if _, err := k.lookup(withKid); err != nil {
			t.Fatalf("lookup: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one source call, got %d", calls)
	}
	if _, err := k.lookup(&jwt.Token{Header: map[string]any{}}); err != nil {
		t.Fatalf("lookup without kid: %v", err)
	}
	if calls != 2 {
		t.Fatalf("tokens without kid bypass the cache, got %d calls", calls)
	}
}

func TestUserIDFromRequestQueryFallback(t *testing.T) {
	secret := []byte("secret")
	signed, err := IssueLocalToken(secret, "user-9", time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	a := NewLocalAuth(secret)

	req := httptest.NewRequest(http.MethodGet, "/stream?token="+signed, nil)
	userID, err := a.UserIDFromRequest(req)
	if err != nil {
		t.Fatalf("query token: %v", err)
	}
	if userID != "user-9" {
		t.Fatalf("unexpected user id: %s", userID)
	}

	req = httptest.NewRequest(http.MethodGet, "/stream", nil)
	if _, err := a.UserIDFromRequest(req); !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
}

func TestFromConfigTestMode(t *testing.T) {
	a, err := FromConfig(config.Auth{TestMode: true, TestSecret: "s3cret"})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	tok, err := IssueLocalToken([]byte("s3cret"), "user-1", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if sub, err := a.UserIDFromAuthHeader("Bearer " + tok); err != nil || sub != "user-1" {
		t.Fatalf("expected user-1, got %q (%v)", sub, err)
	}
}

func TestFromConfigRejectsIncompleteConfig(t *testing.T) {
	if _, err := FromConfig(config.Auth{TestMode: true}); err == nil {
		t.Fatal("expected error without a test secret")
	}
	if _, err := FromConfig(config.Auth{Domain: "tenant.auth0.com"}); err == nil {
		t.Fatal("expected error without an audience")
	}
}
