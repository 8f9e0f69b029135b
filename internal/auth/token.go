package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenTTL = 15 * time.Minute

// Claims identifies the tracked user. Tokens are issued by the account
// service; this package only mints them for tooling and tests.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func SignToken(secret, userID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
