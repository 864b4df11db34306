package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL applies when no token lifetime is configured.
const DefaultTokenTTL = time.Hour

const tokenIssuer = "mithril-engine"

// ErrInvalidToken wraps every access token rejection.
var ErrInvalidToken = errors.New("invalid access token")

// Claims is the payload of an access token; sub carries the admin id.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AdminID is the subject of the token.
func (c *Claims) AdminID() string { return c.Subject }

var tokenParser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(tokenIssuer),
	jwt.WithExpirationRequired(),
	jwt.WithIssuedAt(),
)

// CreateAccessToken signs an HS256 token for admin valid for ttl, or for
// DefaultTokenTTL when ttl is not positive.
func CreateAccessToken(admin *Admin, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	issued := time.Now()
	claims := &Claims{Email: admin.Email, Role: admin.Role}
	claims.Subject = admin.ID
	claims.Issuer = tokenIssuer
	claims.IssuedAt = jwt.NewNumericDate(issued)
	claims.ExpiresAt = jwt.NewNumericDate(issued.Add(ttl))

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken verifies signature, algorithm, issuer and expiry and
// returns the claims. All failures wrap ErrInvalidToken.
func ValidateAccessToken(raw, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := tokenParser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}
