package redisstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"payline.org/internal/auth"
)

const addr = "0x00000000000000000000000000000000000000aa"

func newStore(t *testing.T) (*Challenges, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewChallenges(client, "test:challenge:"), mr
}

func challenge(value string, issued time.Time) auth.Challenge {
	return auth.Challenge{
		Address:   addr,
		Value:     value,
		Message:   "msg-" + value,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(5 * time.Minute),
	}
}

func TestPutSetsTTL(t *testing.T) {
	store, mr := newStore(t)
	now := time.Now().UTC()
	if err := store.PutChallenge(context.Background(), challenge("v1", now)); err != nil {
		t.Fatalf("PutChallenge: %v", err)
	}
	if ttl := mr.TTL("test:challenge:" + addr); ttl != 5*time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := store.PutChallenge(ctx, challenge("v1", now)); err != nil {
		t.Fatalf("PutChallenge: %v", err)
	}

	ch, err := store.ConsumeChallenge(ctx, addr, "v1", now.Add(time.Second), nil)
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if !ch.Consumed || ch.Message != "msg-v1" {
		t.Fatalf("unexpected challenge %+v", ch)
	}
	if ttl := mr.TTL("test:challenge:" + addr); ttl <= 0 {
		t.Fatalf("expected ttl to be kept after consume, got %s", ttl)
	}
	if _, err := store.ConsumeChallenge(ctx, addr, "v1", now.Add(2*time.Second), nil); !errors.Is(err, auth.ErrChallengeAlreadyUsed) {
		t.Fatalf("expected ErrChallengeAlreadyUsed, got %v", err)
	}
}

func TestConsumeRejectsExpiredMissingAndSuperseded(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.ConsumeChallenge(ctx, addr, "v1", now, nil); !errors.Is(err, auth.ErrChallengeExpired) {
		t.Fatalf("expected expired for missing, got %v", err)
	}

	_ = store.PutChallenge(ctx, challenge("old", now))
	_ = store.PutChallenge(ctx, challenge("new", now.Add(time.Second)))
	if _, err := store.ConsumeChallenge(ctx, addr, "old", now.Add(2*time.Second), nil); !errors.Is(err, auth.ErrChallengeExpired) {
		t.Fatalf("expected superseded challenge to be rejected, got %v", err)
	}
	if _, err := store.ConsumeChallenge(ctx, addr, "new", now.Add(6*time.Minute), nil); !errors.Is(err, auth.ErrChallengeExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestFailedVerifyLeavesChallengeUsable(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_ = store.PutChallenge(ctx, challenge("v1", now))

	_, err := store.ConsumeChallenge(ctx, addr, "v1", now, func(auth.Challenge) error { return auth.ErrSignatureInvalid })
	if !errors.Is(err, auth.ErrSignatureInvalid) {
		t.Fatalf("expected signature error, got %v", err)
	}
	if _, err := store.ConsumeChallenge(ctx, addr, "v1", now, nil); err != nil {
		t.Fatalf("expected challenge to remain usable: %v", err)
	}
}

func TestConcurrentConsumeSucceedsOnce(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_ = store.PutChallenge(ctx, challenge("v1", now))

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ConsumeChallenge(ctx, addr, "v1", now, nil)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, auth.ErrChallengeAlreadyUsed):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := successes.Load(); got != 1 {
		t.Fatalf("expected exactly one success, got %d", got)
	}
}
