package auth

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrNoCredentials        = errors.New("missing authorization header")
	ErrMalformedCredentials = errors.New("bad auth header")
)

const bearerScheme = "Bearer "

// parseBearer extracts the compact JWT from "Bearer <token>".
func parseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrNoCredentials
	}
	token, ok := strings.CutPrefix(header, bearerScheme)
	if !ok || token == "" || strings.Count(token, ".") != 2 {
		return "", ErrMalformedCredentials
	}
	return token, nil
}

// UserIDFromRequest authenticates by the Authorization header, falling back
// to a token query parameter for EventSource clients that cannot set headers.
func (a *Auth) UserIDFromRequest(r *http.Request) (string, error) {
	token, err := parseBearer(r.Header.Get("Authorization"))
	if errors.Is(err, ErrNoCredentials) {
		if q := r.URL.Query().Get("token"); q != "" {
			token, err = parseBearer(bearerScheme + q)
		}
	}
	if err != nil {
		return "", err
	}
	return a.UserID(token)
}
