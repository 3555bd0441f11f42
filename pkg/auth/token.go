// Package auth verifies the HS256 access tokens issued by the marketplace
// identity service. Minting exists for tooling and tests only.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-escrow/pkg/config"
	"github.com/angelmondragon/marketplace-escrow/pkg/enums"
)

var (
	ErrNoSecret    = errors.New("jwt secret is required")
	ErrInvalidRole = errors.New("invalid user role")

	signingMethod = jwt.SigningMethodHS256
)

// AccessTokenPayload is what the caller controls when minting.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.UserRole
	JTI    string
}

// AccessTokenClaims is the token body: the marketplace user and role, plus
// the registered claims (sub mirrors user_id).
type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}

func (c *AccessTokenClaims) check() error {
	if c.UserID == uuid.Nil {
		return errors.New("token missing user_id")
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("%w %q", ErrInvalidRole, c.Role)
	}
	return nil
}

func signingKey(cfg config.JWTConfig) ([]byte, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}
	return []byte(cfg.Secret), nil
}

func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	key, err := signingKey(cfg)
	if err != nil {
		return "", err
	}
	switch {
	case cfg.Issuer == "":
		return "", errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return "", errors.New("jwt expiration minutes must be positive")
	}

	claims := AccessTokenClaims{UserID: payload.UserID, Role: payload.Role}
	if err := claims.check(); err != nil {
		return "", err
	}
	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        jti,
		Issuer:    cfg.Issuer,
		Subject:   payload.UserID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer and expiry, then the marketplace claims.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	key, err := signingKey(cfg)
	if err != nil {
		return nil, err
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	)
	claims := &AccessTokenClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return key, nil }); err != nil {
		return nil, err
	}
	if err := claims.check(); err != nil {
		return nil, err
	}
	return claims, nil
}
