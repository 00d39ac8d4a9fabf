package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"payline.org/internal/auth"
	"payline.org/internal/store/memory"
	"payline.org/internal/wallet"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fixture struct {
	svc      *auth.Service
	sessions *memory.Sessions
	now      time.Time
}

func newFixture(t *testing.T, opts ...auth.ServiceOption) *fixture {
	t.Helper()
	f := &fixture{sessions: memory.NewSessions(), now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]auth.ServiceOption{auth.WithClock(func() time.Time { return f.now })}, opts...)
	svc, err := auth.NewService(auth.Stores{
		Challenges: memory.NewChallenges(),
		Identities: memory.NewIdentities(),
		Sessions:   f.sessions,
	}, testSecret, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func newKey(t *testing.T) (*secp256k1.PrivateKey, string) {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key, wallet.AddressOf(key.PubKey())
}

func (f *fixture) login(t *testing.T, key *secp256k1.PrivateKey, addr string) (auth.Identity, auth.TokenPair) {
	t.Helper()
	ch, err := f.svc.IssueChallenge(context.Background(), addr)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	identity, pair, err := f.svc.Login(context.Background(), addr, wallet.Sign(key, ch.Message), ch.Value)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return identity, pair
}

func TestIssueChallengeProducesDistinctValues(t *testing.T) {
	f := newFixture(t)
	_, addr := newKey(t)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		ch, err := f.svc.IssueChallenge(context.Background(), strings.ToUpper(addr))
		if err != nil {
			t.Fatalf("IssueChallenge: %v", err)
		}
		if seen[ch.Value] {
			t.Fatalf("duplicate challenge value %s", ch.Value)
		}
		seen[ch.Value] = true
		if len(ch.Value) != 64 {
			t.Fatalf("expected 32 bytes of hex entropy, got %q", ch.Value)
		}
		if ch.Address != addr || !strings.Contains(ch.Message, addr) || !strings.Contains(ch.Message, ch.Value) {
			t.Fatalf("message does not embed wallet and value: %q", ch.Message)
		}
		if got := ch.ExpiresAt.Sub(ch.IssuedAt); got != auth.DefaultChallengeTTL {
			t.Fatalf("unexpected ttl %s", got)
		}
	}
	if _, err := f.svc.IssueChallenge(context.Background(), "not-a-wallet"); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLoginCreatesIdentityOnce(t *testing.T) {
	f := newFixture(t)
	key, addr := newKey(t)

	first, pair := f.login(t, key, addr)
	if first.WalletAddress != addr || first.ID == "" {
		t.Fatalf("unexpected identity %+v", first)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.TokenType != "Bearer" {
		t.Fatalf("unexpected pair %+v", pair)
	}
	if pair.AccessExpiresAt.Sub(f.now) != auth.MaxAccessTTL || pair.RefreshExpiresAt.Sub(f.now) != auth.MaxRefreshTTL {
		t.Fatalf("unexpected expiries %+v", pair)
	}

	f.now = f.now.Add(time.Minute)
	second, _ := f.login(t, key, addr)
	if second.ID != first.ID {
		t.Fatalf("expected same identity, got %s and %s", first.ID, second.ID)
	}
}

func TestConsumeAndVerifyFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key, addr := newKey(t)
	other, _ := newKey(t)

	ch, _ := f.svc.IssueChallenge(ctx, addr)

	if _, err := f.svc.ConsumeAndVerify(ctx, addr, wallet.Sign(other, ch.Message), ch.Value); !errors.Is(err, auth.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
	// a failed signature does not burn the challenge
	if _, err := f.svc.ConsumeAndVerify(ctx, addr, wallet.Sign(key, ch.Message), ch.Value); err != nil {
		t.Fatalf("expected success after failed attempt: %v", err)
	}
	if _, err := f.svc.ConsumeAndVerify(ctx, addr, wallet.Sign(key, ch.Message), ch.Value); !errors.Is(err, auth.ErrChallengeAlreadyUsed) {
		t.Fatalf("expected ErrChallengeAlreadyUsed, got %v", err)
	}

	expiring, _ := f.svc.IssueChallenge(ctx, addr)
	f.now = f.now.Add(auth.DefaultChallengeTTL)
	if _, err := f.svc.ConsumeAndVerify(ctx, addr, wallet.Sign(key, expiring.Message), expiring.Value); !errors.Is(err, auth.ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}

	older, _ := f.svc.IssueChallenge(ctx, addr)
	newer, _ := f.svc.IssueChallenge(ctx, addr)
	if _, err := f.svc.ConsumeAndVerify(ctx, addr, wallet.Sign(key, older.Message), older.Value); !errors.Is(err, auth.ErrChallengeExpired) {
		t.Fatalf("expected superseded challenge to fail, got %v", err)
	}
	if _, err := f.svc.ConsumeAndVerify(ctx, addr, wallet.Sign(key, newer.Message), newer.Value); err != nil {
		t.Fatalf("expected newest challenge to verify: %v", err)
	}

	if _, err := f.svc.ConsumeAndVerify(ctx, addr, "0x1234", newer.Value); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for malformed signature, got %v", err)
	}
}

func TestRefreshRotatesAndRejectsReuse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key, addr := newKey(t)
	identity, pair := f.login(t, key, addr)

	f.now = f.now.Add(time.Minute)
	next, err := f.svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
	claims, err := f.svc.Authenticate(next.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if claims.UserID != identity.ID || claims.Wallet != addr {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := f.svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, auth.ErrSessionInvalid) {
		t.Fatalf("expected reuse to fail, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, "garbage"); !errors.Is(err, auth.ErrSessionInvalid) {
		t.Fatalf("expected malformed token to fail, got %v", err)
	}

	f.now = f.now.Add(auth.MaxRefreshTTL)
	if _, err := f.svc.Refresh(ctx, next.RefreshToken); !errors.Is(err, auth.ErrSessionInvalid) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestConcurrentRefreshSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	key, addr := newKey(t)
	_, pair := f.login(t, key, addr)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(context.Background(), pair.RefreshToken)
			if err == nil {
				successes.Add(1)
				return
			}
			if !errors.Is(err, auth.ErrSessionInvalid) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := successes.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh to win, got %d", got)
	}
}

func TestLogoutRevokesLine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	key, addr := newKey(t)

	identity, first := f.login(t, key, addr)
	_, second := f.login(t, key, addr)
	rotated, err := f.svc.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	claims, _ := f.svc.Authenticate(rotated.AccessToken)
	if err := f.svc.Logout(ctx, identity.ID, claims.SessionLine, ""); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, rotated.RefreshToken); !errors.Is(err, auth.ErrSessionInvalid) {
		t.Fatalf("expected logged out line to fail, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("expected other login line to survive: %v", err)
	}

	if err := f.svc.Logout(ctx, "someone-else", "", second.RefreshToken); !errors.Is(err, auth.ErrSessionInvalid) {
		t.Fatalf("expected foreign logout to fail, got %v", err)
	}
}

func TestAuthenticateRejectsExpiredAndForeignTokens(t *testing.T) {
	f := newFixture(t, auth.WithAccessTTL(time.Minute))
	key, addr := newKey(t)
	_, pair := f.login(t, key, addr)

	if _, err := f.svc.Authenticate(pair.AccessToken); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	foreign := newFixture(t, auth.WithIssuer("someone-else"))
	if _, err := foreign.svc.Authenticate(pair.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected issuer mismatch to fail, got %v", err)
	}
	if _, err := f.svc.Authenticate(pair.AccessToken + "x"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected tampered token to fail, got %v", err)
	}
	if _, err := f.svc.Authenticate(pair.RefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected refresh token to be rejected as access token, got %v", err)
	}

	f.now = f.now.Add(2 * time.Minute)
	if _, err := f.svc.Authenticate(pair.AccessToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestServiceOptionLimits(t *testing.T) {
	stores := auth.Stores{Challenges: memory.NewChallenges(), Identities: memory.NewIdentities(), Sessions: memory.NewSessions()}
	if _, err := auth.NewService(stores, testSecret, auth.WithAccessTTL(16*time.Minute)); err == nil {
		t.Fatal("expected access ttl above limit to fail")
	}
	if _, err := auth.NewService(stores, testSecret, auth.WithRefreshTTL(8*24*time.Hour)); err == nil {
		t.Fatal("expected refresh ttl above limit to fail")
	}
	if _, err := auth.NewService(stores, testSecret, auth.WithChallengeTTL(6*time.Minute)); err == nil {
		t.Fatal("expected challenge ttl above limit to fail")
	}
	if _, err := auth.NewService(stores, "short"); err == nil {
		t.Fatal("expected short secret to fail")
	}
	if _, err := auth.NewService(auth.Stores{}, testSecret); err == nil {
		t.Fatal("expected missing stores to fail")
	}
}
