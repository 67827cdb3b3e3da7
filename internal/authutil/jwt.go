// Package authutil issues and checks the bearer tokens that guard the
// local HTTP API.
package authutil

import (
	"crypto/sha256"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

const DefaultTTL = 24 * time.Hour

var (
	ErrNoSecret    = errors.New("api secret not configured")
	ErrEmptyToken  = errors.New("empty token")
	ErrBadClaims   = errors.New("invalid token claims")
	errWrongMethod = errors.New("unexpected signing method")
)

// Issuer signs HS256 tokens with a key derived from the configured secret
// and a scope, so nodes sharing a secret do not accept each other's tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret, scope string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), []byte(scope), []byte("lanchat-api")), key); err != nil {
		return nil, err
	}
	return &Issuer{secret: key, ttl: ttl, now: time.Now}, nil
}

// IssueToken returns a signed JWT for the provided username.
func (i *Issuer) IssueToken(username string) (string, error) {
	claims := jwt.MapClaims{
		"username": username,
		"exp":      i.now().Add(i.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// ValidateToken parses token string and validates signature, returning username.
func (i *Issuer) ValidateToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrEmptyToken
	}
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errWrongMethod
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if username, ok := claims["username"].(string); ok {
			return username, nil
		}
	}
	return "", ErrBadClaims
}

// ParseBearer extracts the token from an Authorization header value.
func ParseBearer(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
