package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultKeyCacheTTL = 15 * time.Minute
	clockSkew          = time.Minute
)

var (
	ErrInvalidToken = errors.New("invalid token")
	errNoSubject    = errors.New("token has no subject")
)

// Auth resolves a bearer token to the user id in its sub claim.
type Auth struct {
	audience string
	issuer   string
	parser   *jwt.Parser
	keyfunc  jwt.Keyfunc
}

// Option narrows what an Auth accepts.
type Option func(*Auth)

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) Option { return func(a *Auth) { a.audience = audience } }

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) Option { return func(a *Auth) { a.issuer = issuer } }

// NewAuth verifies RS256 tokens against a JWKS, memoizing keys by kid.
func NewAuth(jwks *keyfunc.JWKS, keyCacheTTL time.Duration, opts ...Option) *Auth {
	if keyCacheTTL <= 0 {
		keyCacheTTL = defaultKeyCacheTTL
	}
	keys := &keyCache{source: jwks.Keyfunc, ttl: keyCacheTTL, entries: make(map[string]cachedKey)}
	return newAuth("RS256", keys.lookup, opts)
}

// NewLocalAuth verifies HS256 tokens signed with secret. Used for local runs
// and tests.
func NewLocalAuth(secret []byte, opts ...Option) *Auth {
	if len(secret) == 0 {
		panic("auth.NewLocalAuth: secret is empty")
	}
	return newAuth("HS256", func(*jwt.Token) (any, error) { return secret, nil }, opts)
}

func newAuth(method string, kf jwt.Keyfunc, opts []Option) *Auth {
	a := &Auth{
		// Time claims are checked by verifyClaims with skew allowance.
		parser:  jwt.NewParser(jwt.WithValidMethods([]string{method}), jwt.WithoutClaimsValidation()),
		keyfunc: kf,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// UserIDFromAuthHeader authenticates an Authorization header value.
func (a *Auth) UserIDFromAuthHeader(header string) (string, error) {
	token, err := parseBearer(header)
	if err != nil {
		return "", err
	}
	return a.UserID(token)
}

// UserID verifies a raw token and returns its subject.
func (a *Auth) UserID(token string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, err := a.parser.ParseWithClaims(token, &claims, a.keyfunc); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := a.verifyClaims(&claims, time.Now()); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.Subject, nil
}

func (a *Auth) verifyClaims(c *jwt.RegisteredClaims, now time.Time) error {
	switch {
	case !c.VerifyExpiresAt(now.Add(-clockSkew), true):
		return errors.New("token expired")
	case !c.VerifyNotBefore(now.Add(clockSkew), false):
		return errors.New("token not valid yet")
	case !c.VerifyIssuedAt(now.Add(clockSkew), false):
		return errors.New("token used before issued")
	case a.audience != "" && !c.VerifyAudience(a.audience, true):
		return errors.New("invalid audience")
	case a.issuer != "" && !c.VerifyIssuer(a.issuer, true):
		return errors.New("invalid issuer")
	case c.Subject == "":
		return errNoSubject
	}
	return nil
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// keyCache avoids a JWKS lookup per request for tokens that carry a kid.
type keyCache struct {
	source jwt.Keyfunc
	ttl    time.Duration

	mu      sync.Mutex
	entries map[string]cachedKey
}

func (k *keyCache) lookup(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return k.source(token)
	}
	now := time.Now()
	k.mu.Lock()
	entry, ok := k.entries[kid]
	k.mu.Unlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.key, nil
	}

	key, err := k.source(token)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	k.entries[kid] = cachedKey{key: key, expiresAt: now.Add(k.ttl)}
	k.mu.Unlock()
	return key, nil
}
