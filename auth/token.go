package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// IssueLocalToken returns an HS256 token accepted by NewLocalAuth with the
// same secret.
func IssueLocalToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("local token secret must be set")
	}
	if userID == "" {
		return "", errors.New("user id must be set")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(secret)
}
