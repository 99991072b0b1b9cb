package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAccessTokenTTL defines the fallback validity period for access tokens.
const DefaultAccessTokenTTL = 15 * time.Minute

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
	Clock          func() time.Time
}

// Claims represents the identity claims carried by verified access tokens.
// The identity provider authenticates users; this service only verifies the
// resulting tokens and extracts the caller identity the API trusts.
type Claims struct {
	UserID      string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
	PhotoURL    string `json:"picture,omitempty"`
	IsAdmin     bool   `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// AccessTokenInput holds the parameters used when generating a new access token.
type AccessTokenInput struct {
	UserID      string
	Email       string
	DisplayName string
	PhotoURL    string
	IsAdmin     bool
}

// JWTService validates tokens issued by the identity provider. Generation is
// exposed for tests and local tooling that stand in for the provider.
type JWTService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService constructs a JWTService instance when provided with the required configuration.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	ttl := cfg.AccessTokenTTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    ttl,
		now:    now,
	}, nil
}

// GenerateAccessToken issues a signed JWT containing the supplied claims.
func (s *JWTService) GenerateAccessToken(input AccessTokenInput) (string, error) {
	if input.UserID == "" {
		return "", errors.New("jwt: user id is required")
	}

	now := s.now()

	claims := &Claims{
		UserID:      input.UserID,
		Email:       input.Email,
		DisplayName: input.DisplayName,
		PhotoURL:    input.PhotoURL,
		IsAdmin:     input.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   input.UserID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, nil
}

// ValidateAccessToken parses and validates a signed JWT, returning the application claims.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("jwt: token string is empty")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt: parse token: %w", err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, errors.New("jwt: invalid issuer")
	}

	if claims.UserID == "" {
		return nil, errors.New("jwt: missing user id claim")
	}

	return &claims, nil
}
