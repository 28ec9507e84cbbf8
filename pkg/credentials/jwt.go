package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryFromJWT reads the exp claim of a JWT without verifying its signature.
// The runtime only uses it to schedule refreshes; the server remains the
// authority on validity.
func ExpiryFromJWT(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
