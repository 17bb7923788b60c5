package broker

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/keylink-bridge/internal/errs"
)

// AccessTokenExpiry returns the exp claim of a broker access token. The signature is not
// checked; the broker does that. A token without exp yields the zero time.
func AccessTokenExpiry(token string) (time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return time.Time{}, errs.Wrap(errs.CodeInvalidAccessToken, err, "failed to parse access token")
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// WarnAccessTokenExpiry logs when the access token has expired or will expire within
// the given window. Tokens that are not JWTs are ignored.
func WarnAccessTokenExpiry(token string, now time.Time, within time.Duration) {
	if strings.TrimSpace(token) == "" {
		return
	}

	exp, err := AccessTokenExpiry(token)
	if err != nil {
		log.Debug().Err(err).Msg("Access token is not a JWT, skipping expiry check")
		return
	}
	if exp.IsZero() {
		return
	}

	switch {
	case !exp.After(now):
		log.Error().Time("expires_at", exp).Msg("Broker access token has expired")
	case exp.Sub(now) <= within:
		log.Warn().Time("expires_at", exp).Dur("remaining", exp.Sub(now)).Msg("Broker access token expires soon")
	}
}
