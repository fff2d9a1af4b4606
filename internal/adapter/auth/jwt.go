// Package auth verifies the bearer tokens presented by WebSocket clients.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pscheid92/eventrelay/internal/domain"
)

// HMACVerifier accepts HS256 tokens signed with a shared secret. The user id is the subject claim.
type HMACVerifier struct {
	secret []byte
	leeway time.Duration
}

var _ domain.TokenVerifier = (*HMACVerifier)(nil)

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret), leeway: 30 * time.Second}
}

func (v *HMACVerifier) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.leeway), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", domain.ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidToken, errors.New("missing subject"))
	}
	return claims.Subject, nil
}

// Issue signs a token for userID. The server never issues tokens itself; tests and tooling do.
func (v *HMACVerifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
