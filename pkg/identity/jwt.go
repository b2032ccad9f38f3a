package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims issued by the identity provider
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig configures HS256 token verification
type JWTConfig struct {
	// Secret is the shared HMAC secret (required)
	Secret string

	// Issuer, when set, must match the token's iss claim
	Issuer string

	// Audience, when set, must be present in the token's aud claim
	Audience string

	// Leeway tolerates clock skew when validating exp/nbf (default: 30s)
	Leeway time.Duration
}

// JWTProvider verifies HS256-signed session tokens
type JWTProvider struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTProvider creates a provider from config
func NewJWTProvider(config JWTConfig) (*JWTProvider, error) {
	if strings.TrimSpace(config.Secret) == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if config.Leeway == 0 {
		config.Leeway = 30 * time.Second
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(config.Leeway),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	return &JWTProvider{
		secret: []byte(config.Secret),
		parser: jwt.NewParser(opts...),
	}, nil
}

// Authenticate implements Provider
func (p *JWTProvider) Authenticate(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	_, err := p.parser.ParseWithClaims(token, claims, func(_ *jwt.Token) (interface{}, error) {
		return p.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
		Token:  token,
	}, nil
}

// Issuer mints HS256 session tokens. Used by the dev login endpoint and tests.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
}

// NewIssuer creates an issuer matching a JWTConfig
func NewIssuer(config JWTConfig, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{
		secret:   []byte(config.Secret),
		issuer:   config.Issuer,
		audience: config.Audience,
		ttl:      ttl,
	}
}

// Issue signs a token for the given user
func (i *Issuer) Issue(userID, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}
