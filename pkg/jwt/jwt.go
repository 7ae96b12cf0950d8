package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned when a token is opaque rather than a JWT.
var ErrNotJWT = errors.New("token is not a JWT")

// Expiry reads the exp claim of an access token without verifying its
// signature. The token is issued by the vendor and the client holds no key.
func Expiry(token string) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, errors.New("JWT expiration (exp) claim missing")
	}

	return exp.Time, nil
}

// ExpiresIn returns how long token stays valid, or fallback when the
// lifetime cannot be read from the token.
func ExpiresIn(token string, fallback time.Duration) time.Duration {
	exp, err := Expiry(token)
	if err != nil {
		return fallback
	}
	return time.Until(exp)
}
