package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/hiccup-service/internal/config"
	"github.com/spec-kit/hiccup-service/internal/domain"
)

// TokenManager validates bearer tokens issued by the identity provider. It can
// also sign tokens with the same key, which development tooling and tests use.
type TokenManager struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenManager builds a new manager.
func NewTokenManager(cfg config.AuthConfig) *TokenManager {
	ttlMinutes := cfg.AccessTokenTTLMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      time.Duration(ttlMinutes) * time.Minute,
		now:      time.Now,
	}
}

// Claims describes JWT payload.
type Claims struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Unit  string `json:"unit"`
	// Phone is optional; when present it refreshes the staff directory contact.
	Phone string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts verified claims into an actor. The role must be one of
// the known roles.
func (c *Claims) Actor() (domain.Actor, error) {
	if c.Subject == "" {
		return domain.Actor{}, errors.New("token has no subject")
	}
	role, ok := domain.ParseRole(c.Role)
	if !ok {
		return domain.Actor{}, fmt.Errorf("unknown role %q", c.Role)
	}
	name := c.Name
	if name == "" {
		name = c.Subject
	}
	return domain.Actor{ID: c.Subject, Name: name, Role: role, Unit: c.Unit, Phone: strings.TrimSpace(c.Phone)}, nil
}

// GenerateToken builds and signs a JWT for the actor.
func (tm *TokenManager) GenerateToken(actor domain.Actor) (string, time.Time, error) {
	now := tm.now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		Name:  actor.Name,
		Role:  string(actor.Role),
		Unit:  actor.Unit,
		Phone: actor.Phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    tm.issuer,
			Audience:  jwt.ClaimStrings{tm.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates signature, method, expiry, issuer and audience and
// returns the claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}
	if tm.audience != "" {
		opts = append(opts, jwt.WithAudience(tm.audience))
	}

	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return tm.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
