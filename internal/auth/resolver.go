package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims is the claim set carried by platform session tokens
type sessionClaims struct {
	Username    string       `json:"preferred_username"`
	Email       string       `json:"email"`
	Enrollments []Enrollment `json:"enrollments"`
	jwt.RegisteredClaims
}

// jwtResolver verifies HS256-signed session tokens issued by the platform
type jwtResolver struct {
	secret []byte
}

// NewJWTResolver creates a Resolver verifying tokens against the shared
// session secret.
func NewJWTResolver(secret []byte) (Resolver, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("session secret cannot be empty")
	}
	return &jwtResolver{secret: secret}, nil
}

// Resolve verifies the token signature and expiry and maps the claims to
// an Identity.
func (r *jwtResolver) Resolve(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return r.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !parsed.Valid {
		slog.Debug("Session token failed verification", "error", err)
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	id := &Identity{
		UserID:      claims.Subject,
		Username:    claims.Username,
		Email:       claims.Email,
		Enrollments: claims.Enrollments,
		Token:       token,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}
