package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// LocalToken signs an HS256 token accepted by an Auth built with
// WithHS256Secret(secret).
func LocalToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("local auth secret is empty")
	}
	if userID == "" {
		return "", errors.New("user id is empty")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}
