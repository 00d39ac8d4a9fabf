// Package redisstore keeps short-lived login challenges in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"payline.org/internal/auth"
)

const (
	defaultPrefix = "payline:challenge:"
	maxTxRetries  = 4
)

var ErrUnavailable = errors.New("redisstore: redis unavailable")

// Challenges is an auth.ChallengeStore backed by Redis keys with TTL eviction.
// Consumption uses WATCH/MULTI so concurrent verifiers cannot both succeed.
type Challenges struct {
	redis  redis.UniversalClient
	prefix string
}

var _ auth.ChallengeStore = (*Challenges)(nil)

// NewChallenges wraps client. An empty prefix selects the default key namespace.
func NewChallenges(client redis.UniversalClient, prefix string) *Challenges {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Challenges{redis: client, prefix: prefix}
}

func (s *Challenges) key(address string) string { return s.prefix + address }

func (s *Challenges) PutChallenge(ctx context.Context, ch auth.Challenge) error {
	ttl := ch.ExpiresAt.Sub(ch.IssuedAt)
	if ttl <= 0 {
		return fmt.Errorf("redisstore: challenge already expired")
	}
	data, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(ch.Address), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Challenges) ConsumeChallenge(ctx context.Context, address, value string, now time.Time, verify func(auth.Challenge) error) (auth.Challenge, error) {
	key := s.key(address)
	var consumed auth.Challenge

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return auth.ErrChallengeExpired
			}
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			var ch auth.Challenge
			if err := json.Unmarshal(raw, &ch); err != nil {
				return fmt.Errorf("redisstore: decode challenge: %w", err)
			}
			if err := ch.Usable(value, now); err != nil {
				return err
			}
			if verify != nil {
				if err := verify(ch); err != nil {
					return err
				}
			}
			ch.Consumed = true
			data, err := json.Marshal(ch)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, redis.KeepTTL)
				return nil
			})
			if err != nil {
				return err
			}
			consumed = ch
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return auth.Challenge{}, err
		}
		return consumed, nil
	}
	// Every attempt lost to a concurrent writer; the winner consumed or replaced it.
	return auth.Challenge{}, auth.ErrChallengeAlreadyUsed
}
