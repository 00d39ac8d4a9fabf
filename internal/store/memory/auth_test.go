package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"payline.org/internal/auth"
)

const wallet = "0x00000000000000000000000000000000000000bb"

func TestChallengesConcurrentConsumeSucceedsOnce(t *testing.T) {
	store := NewChallenges()
	ctx := context.Background()
	now := time.Now().UTC()
	_ = store.PutChallenge(ctx, auth.Challenge{Address: wallet, Value: "v", IssuedAt: now, ExpiresAt: now.Add(time.Minute)})

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		used      atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ConsumeChallenge(ctx, wallet, "v", now, nil)
			if err == nil {
				successes.Add(1)
			} else if errors.Is(err, auth.ErrChallengeAlreadyUsed) {
				used.Add(1)
			}
		}()
	}
	wg.Wait()
	if successes.Load() != 1 || used.Load() != 31 {
		t.Fatalf("successes=%d used=%d", successes.Load(), used.Load())
	}
}

func TestChallengesSweepExpiredOnPut(t *testing.T) {
	store := NewChallenges()
	ctx := context.Background()
	now := time.Now().UTC()
	_ = store.PutChallenge(ctx, auth.Challenge{Address: wallet, Value: "v", IssuedAt: now, ExpiresAt: now.Add(time.Minute)})
	_ = store.PutChallenge(ctx, auth.Challenge{Address: "0x01", Value: "w", IssuedAt: now.Add(2 * time.Minute), ExpiresAt: now.Add(3 * time.Minute)})

	if _, err := store.ConsumeChallenge(ctx, wallet, "v", now, nil); !errors.Is(err, auth.ErrChallengeExpired) {
		t.Fatalf("expected swept challenge to be gone, got %v", err)
	}
}
