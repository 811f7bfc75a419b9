package admin

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest HS256 secret accepted for signing.
const MinSecretLength = 32

// defaultTokenTTL applies when IssueToken is given a non-positive ttl.
const defaultTokenTTL = time.Hour

// Claims are the JWT claims carried by admin bearer tokens.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 access token for subject.
//
// Parameters:
//   - secret: shared secret from admin.jwt.secret
//   - subject: operator or service name recorded in the sub claim
//   - ttl: token lifetime; non-positive selects one hour
//
// Returns:
//   - string: signed compact JWT
//   - error: if the secret is too short or signing fails
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if len(secret) < MinSecretLength {
		return "", ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "persistd",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing admin token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies tokenString and returns its claims.
// Only HS256 is accepted and the subject must be present.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

// bearerToken extracts the token from an "Authorization: Bearer ..." header.
func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
