package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken   = errors.New("missing credential")
	ErrInvalidToken   = errors.New("invalid credential")
	ErrMissingSubject = errors.New("credential has no subject")
)

// TokenValidator checks the handshake credential: an HMAC-signed JWT whose
// subject is the user id.
type TokenValidator struct {
	secret []byte
}

// NewTokenValidator creates a validator over a shared HMAC secret.
func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

// Validate parses the token and returns the user id. Any failure means the
// handshake is rejected before a connection is registered.
func (v *TokenValidator) Validate(tokenString string) (string, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return "", ErrMissingToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrMissingSubject
	}
	return subject, nil
}

// Issue mints a token for the given user id. Used by tooling and tests.
func (v *TokenValidator) Issue(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
	})
	return token.SignedString(v.secret)
}
