package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/user/pageflow/internal/types"
)

// Claims are the fields the client reads out of an access token.
type Claims struct {
	SubjectID types.SubjectID
	Expiry    time.Time
}

// DecodeClaims parses the token payload without verifying its signature; the
// client only needs the subject and expiry, and the server is the one doing
// verification. Returns false for anything malformed. Never panics.
func DecodeClaims(token string) (Claims, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return Claims{}, false
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return Claims{}, false
	}
	return Claims{SubjectID: types.SubjectID(sub), Expiry: exp.Time}, true
}

// IsExpired reports whether the token is expired or will expire within skew.
// Malformed tokens count as expired.
func IsExpired(token string, skew time.Duration) bool {
	claims, ok := DecodeClaims(token)
	if !ok {
		return true
	}
	return !time.Now().Before(claims.Expiry.Add(-skew))
}

// TimeToLive returns the remaining validity of the token, or false if the
// token is malformed. A negative duration means already expired.
func TimeToLive(token string) (time.Duration, bool) {
	claims, ok := DecodeClaims(token)
	if !ok {
		return 0, false
	}
	return time.Until(claims.Expiry), true
}
