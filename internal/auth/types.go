package auth

import (
	"context"
	"time"
)

// Identity is a user keyed by a normalized wallet address.
type Identity struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	CreatedAt     time.Time `json:"created_at"`
}

// Session is a persisted refresh token record. Only the token hash is stored.
// Sessions sharing a LineID form one login's rotation chain.
type Session struct {
	ID        string
	UserID    string
	LineID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the session can still be rotated at now.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// IdentityStore persists identities.
type IdentityStore interface {
	// EnsureIdentity returns the identity for wallet, inserting one with id when absent.
	EnsureIdentity(ctx context.Context, id, wallet string, now time.Time) (Identity, error)
	// GetIdentity and FindIdentityByWallet return ErrNotFound when absent.
	GetIdentity(ctx context.Context, id string) (Identity, error)
	FindIdentityByWallet(ctx context.Context, wallet string) (Identity, error)
}

// SessionStore persists refresh token records.
type SessionStore interface {
	CreateSession(ctx context.Context, s Session) error
	// FindSession returns ErrSessionInvalid when no record has tokenHash.
	FindSession(ctx context.Context, tokenHash string) (Session, error)
	// RotateSession revokes the active session matching presentedHash and inserts
	// next in the same line as one atomic step. next.UserID and next.LineID are
	// taken from the revoked session. Fails with ErrSessionInvalid when no
	// active session matches.
	RotateSession(ctx context.Context, presentedHash string, now time.Time, next Session) (Session, error)
	RevokeSessionLine(ctx context.Context, userID, lineID string, now time.Time) (int64, error)
	RevokeUserSessions(ctx context.Context, userID string, now time.Time) (int64, error)
}
