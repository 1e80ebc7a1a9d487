package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTConfig holds JWT signing and expiry configuration.
type JWTConfig struct {
	SigningKey  string
	TokenExpiry time.Duration
	Issuer      string
	Audience    string
}

// ProducerClaims represents claims in a producer token. The subject names the
// prescription service allowed to publish notifications.
type ProducerClaims struct {
	Producer string `json:"producer"`
	jwt.RegisteredClaims
}

// JWTService handles producer token generation and validation.
type JWTService struct {
	config JWTConfig
}

// NewJWTService creates a new JWTService with the given configuration.
func NewJWTService(config JWTConfig) *JWTService {
	return &JWTService{config: config}
}

// Predefined errors for JWT operations.
var (
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrSigningMethod  = errors.New("unexpected signing method")
)

// GenerateProducerToken creates a signed HS256 token for the named producer.
func (s *JWTService) GenerateProducerToken(producer string) (string, error) {
	now := time.Now()
	claims := ProducerClaims{
		Producer: producer,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   producer,
			Issuer:    s.config.Issuer,
			Audience:  jwt.ClaimStrings{s.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenExpiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.SigningKey))
	if err != nil {
		return "", fmt.Errorf("sign producer token: %w", err)
	}
	return signed, nil
}

// ValidateProducerToken parses and validates a producer token, including its
// issuer and audience.
func (s *JWTService) ValidateProducerToken(tokenString string) (*ProducerClaims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	if s.config.Audience != "" {
		opts = append(opts, jwt.WithAudience(s.config.Audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &ProducerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrSigningMethod
		}
		return []byte(s.config.SigningKey), nil
	}, opts...)
	if err != nil {
		return nil, classifyJWTError(err)
	}

	claims, ok := token.Claims.(*ProducerClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// classifyJWTError maps jwt library errors to domain-specific errors.
func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrSignatureInvalid),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrTokenInvalid
	case errors.Is(err, ErrSigningMethod):
		return ErrSigningMethod
	}
	return fmt.Errorf("validate token: %w", err)
}
