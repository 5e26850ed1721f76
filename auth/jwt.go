package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vortexdb/vortex-gateway/models"
)

// Claims represents JWT token claims
type Claims struct {
	UserID       string `json:"user_id"`
	Role         string `json:"role"`
	Team         string `json:"team,omitempty"`
	TenantID     string `json:"tenant_id"`
	Tier         string `json:"tier,omitempty"`
	IsContractor bool   `json:"is_contractor,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator issues and validates HMAC-signed tokens
type JWTValidator struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTValidator creates a new JWT validator
func NewJWTValidator(secret string, expirationSeconds int) *JWTValidator {
	if expirationSeconds <= 0 {
		expirationSeconds = 3600
	}
	return &JWTValidator{
		secret:     []byte(secret),
		expiration: time.Duration(expirationSeconds) * time.Second,
	}
}

// GenerateToken issues a signed token for the given user
func (v *JWTValidator) GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:       user.Username,
		Role:         string(user.Role),
		Team:         user.Team,
		TenantID:     user.Username,
		Tier:         string(user.Tier),
		IsContractor: user.IsContractor,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.expiration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken validates a JWT token string and returns claims
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	// Remove Bearer prefix if present
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, errors.New("token missing user identity")
	}

	return claims, nil
}
