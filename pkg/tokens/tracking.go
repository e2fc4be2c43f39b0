package tokens

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const trackingIssuer = "cart-recovery"

// TrackingClaims identify one recovery attempt in open/click links.
type TrackingClaims struct {
	AttemptID uint `json:"aid"`
	jwt.RegisteredClaims
}

func NewTrackingToken(attemptID uint, ttl time.Duration, now time.Time, secret []byte) (string, error) {
	claims := TrackingClaims{
		AttemptID: attemptID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    trackingIssuer,
			Subject:   strconv.FormatUint(uint64(attemptID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// TrackingClaimsFromToken validates expiry against now, the same clock the
// token was minted with.
func TrackingClaimsFromToken(tokenStr string, secret []byte, now time.Time) (*TrackingClaims, error) {
	var claims TrackingClaims
	if err := parseHS256(tokenStr, &claims, secret, jwt.WithTimeFunc(func() time.Time { return now })); err != nil {
		return nil, err
	}
	if claims.Issuer != trackingIssuer || claims.AttemptID == 0 {
		return nil, fmt.Errorf("%w: not a tracking token", ErrInvalidToken)
	}
	return &claims, nil
}
