package auth

import (
	"fmt"

	"github.com/MicahParks/keyfunc"

	"taskboard/config"
)

// FromConfig builds the verifier the services run with: HS256 in test mode,
// Auth0 RS256 through a refreshing JWKS otherwise.
func FromConfig(cfg config.Auth) (*Auth, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TestMode {
		return NewLocalAuth([]byte(cfg.TestSecret)), nil
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{RefreshUnknownKID: true})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return NewAuth(jwks, cfg.KeyCacheTTL, WithAudience(cfg.Audience), WithIssuer(cfg.Issuer())), nil
}
