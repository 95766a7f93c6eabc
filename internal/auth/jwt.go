package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/crosswindhq/crosswind/pkg/models"
)

var (
	// ErrAuthDisabled indicates no signing secret is configured.
	ErrAuthDisabled = errors.New("auth disabled: no secret configured")

	// ErrInvalidToken indicates the token failed verification.
	ErrInvalidToken = errors.New("invalid token")
)

// JWTService handles token signing and verification.
type JWTService struct {
	secret []byte
	expiry time.Duration
}

// NewJWTService builds a JWT helper with the given secret and expiry.
func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{secret: []byte(secret), expiry: expiry}
}

// Claims carries the caller identity inside the token. TenantID is the
// caller's assigned tenant; the authorization gate compares it against the
// tenant a request targets.
type Claims struct {
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// Generate issues a signed token for the given identity.
func (s *JWTService) Generate(identity *models.Identity) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if identity == nil || strings.TrimSpace(identity.UserID) == "" {
		return "", errors.New("user id required")
	}

	claims := Claims{
		Email:    strings.TrimSpace(identity.Email),
		Name:     strings.TrimSpace(identity.Name),
		Role:     strings.TrimSpace(identity.Role),
		TenantID: strings.TrimSpace(identity.TenantID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
		},
	}
	if s.expiry <= 0 {
		claims.ExpiresAt = nil
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT and returns the identity embedded in it.
func (s *JWTService) Validate(token string) (*models.Identity, error) {
	if s == nil || len(s.secret) == 0 {
		return nil, ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &models.Identity{
		UserID:   claims.Subject,
		Email:    strings.TrimSpace(claims.Email),
		Name:     strings.TrimSpace(claims.Name),
		Role:     strings.TrimSpace(claims.Role),
		TenantID: strings.TrimSpace(claims.TenantID),
	}, nil
}
