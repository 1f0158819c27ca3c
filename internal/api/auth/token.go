// internal/api/auth/token.go
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"studiobook/internal/api/authz"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the JWT payload for API callers.
type Claims struct {
	UserID int64  `json:"uid"`
	OrgID  int64  `json:"org"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a bearer token for the given user.
func IssueToken(secret string, user authz.AuthUser, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: user.ID,
		OrgID:  user.OrgID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken validates a bearer token and returns the caller it names.
func ParseToken(secret, raw string) (*authz.AuthUser, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == 0 || claims.OrgID == 0 {
		return nil, ErrInvalidToken
	}
	return &authz.AuthUser{ID: claims.UserID, OrgID: claims.OrgID, Role: claims.Role}, nil
}
