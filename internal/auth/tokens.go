package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	MaxAccessTTL  = 15 * time.Minute
	MaxRefreshTTL = 7 * 24 * time.Hour

	accessTokenType    = "access"
	refreshSecretBytes = 32
	clockSkew          = 5 * time.Second
)

// Claims are the verified contents of an access token.
type Claims struct {
	UserID      string
	Wallet      string
	SessionLine string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type accessClaims struct {
	Wallet      string `json:"wallet"`
	SessionLine string `json:"sid,omitempty"`
	TokenType   string `json:"typ"`
	jwt.RegisteredClaims
}

// tokenSigner mints and verifies HS256 access tokens.
type tokenSigner struct {
	secret []byte
	issuer string
}

func (ts tokenSigner) sign(identity Identity, line string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	expiresAt := now.Add(ttl)
	claims := accessClaims{
		Wallet:      identity.WalletAddress,
		SessionLine: line,
		TokenType:   accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ts.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (ts tokenSigner) parse(token string, now time.Time) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ts.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	var ac accessClaims
	parsed, err := parser.ParseWithClaims(token, &ac, func(*jwt.Token) (any, error) {
		return ts.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if ac.TokenType != accessTokenType || strings.TrimSpace(ac.Subject) == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{
		UserID:      ac.Subject,
		Wallet:      ac.Wallet,
		SessionLine: ac.SessionLine,
		IssuedAt:    ac.IssuedAt.Time,
		ExpiresAt:   ac.ExpiresAt.Time,
	}, nil
}

// newRefreshToken returns an opaque token and the hash that gets persisted.
func newRefreshToken() (raw, hash string, err error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("auth: generate refresh token: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, HashRefreshToken(raw), nil
}

// HashRefreshToken is the one-way transform applied before any store lookup.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func validateRefreshToken(raw string) error {
	raw = strings.TrimSpace(raw)
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || len(b) != refreshSecretBytes {
		return fmt.Errorf("%w: malformed refresh token", ErrSessionInvalid)
	}
	return nil
}
