package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultChallengeTTL bounds how long an issued challenge may be signed.
	DefaultChallengeTTL = 5 * time.Minute
	challengeBytes      = 32
)

// Challenge is a single-use value a wallet signs to prove key ownership.
type Challenge struct {
	Address   string    `json:"address"`
	Value     string    `json:"value"`
	Message   string    `json:"message"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

// Usable reports why ch cannot be consumed with the presented value at now.
// A value that does not match the latest challenge for the wallet belongs to a
// superseded challenge and is treated as expired.
func (ch Challenge) Usable(value string, now time.Time) error {
	if !now.Before(ch.ExpiresAt) {
		return ErrChallengeExpired
	}
	if ch.Value != value {
		return ErrChallengeExpired
	}
	if ch.Consumed {
		return ErrChallengeAlreadyUsed
	}
	return nil
}

// ChallengeStore keeps at most one live challenge per wallet.
type ChallengeStore interface {
	// PutChallenge stores ch as the wallet's current challenge, replacing any earlier one.
	PutChallenge(ctx context.Context, ch Challenge) error
	// ConsumeChallenge loads the wallet's challenge, checks it with Usable, runs
	// verify and marks it consumed, as one atomic step. When verify fails the
	// challenge stays unconsumed and verify's error is returned.
	ConsumeChallenge(ctx context.Context, address, value string, now time.Time, verify func(Challenge) error) (Challenge, error)
}

func newChallengeValue() (string, error) {
	buf := make([]byte, challengeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate challenge: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ChallengeMessage renders the canonical text a wallet signs.
func ChallengeMessage(domain, address, value string, issuedAt, expiresAt time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your wallet.\n\n", domain)
	fmt.Fprintf(&b, "Wallet: %s\n", address)
	fmt.Fprintf(&b, "Nonce: %s\n", value)
	fmt.Fprintf(&b, "Issued At: %s\n", issuedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Expiration Time: %s", expiresAt.UTC().Format(time.RFC3339))
	return b.String()
}
