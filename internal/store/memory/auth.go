package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"payline.org/internal/auth"
)

// Challenges is an in-process auth.ChallengeStore. Expired entries are swept on write.
type Challenges struct {
	mu    sync.Mutex
	items map[string]auth.Challenge
}

var _ auth.ChallengeStore = (*Challenges)(nil)

func NewChallenges() *Challenges {
	return &Challenges{items: make(map[string]auth.Challenge)}
}

func (c *Challenges) PutChallenge(_ context.Context, ch auth.Challenge) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, existing := range c.items {
		if !ch.IssuedAt.Before(existing.ExpiresAt) {
			delete(c.items, addr)
		}
	}
	c.items[ch.Address] = ch
	return nil
}

func (c *Challenges) ConsumeChallenge(_ context.Context, address, value string, now time.Time, verify func(auth.Challenge) error) (auth.Challenge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.items[address]
	if !ok {
		return auth.Challenge{}, auth.ErrChallengeExpired
	}
	if err := ch.Usable(value, now); err != nil {
		return auth.Challenge{}, err
	}
	if verify != nil {
		if err := verify(ch); err != nil {
			return auth.Challenge{}, err
		}
	}
	ch.Consumed = true
	c.items[address] = ch
	return ch, nil
}

// Identities is an in-process auth.IdentityStore.
type Identities struct {
	mu       sync.RWMutex
	byID     map[string]auth.Identity
	byWallet map[string]string
}

var _ auth.IdentityStore = (*Identities)(nil)

func NewIdentities() *Identities {
	return &Identities{byID: make(map[string]auth.Identity), byWallet: make(map[string]string)}
}

func (s *Identities) EnsureIdentity(_ context.Context, id, wallet string, now time.Time) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byWallet[wallet]; ok {
		return s.byID[existing], nil
	}
	identity := auth.Identity{ID: id, WalletAddress: wallet, CreatedAt: now}
	s.byID[id] = identity
	s.byWallet[wallet] = id
	return identity, nil
}

func (s *Identities) GetIdentity(_ context.Context, id string) (auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.byID[id]
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	return identity, nil
}

func (s *Identities) FindIdentityByWallet(_ context.Context, wallet string) (auth.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byWallet[wallet]
	if !ok {
		return auth.Identity{}, auth.ErrNotFound
	}
	return s.byID[id], nil
}

// Sessions is an in-process auth.SessionStore.
type Sessions struct {
	mu     sync.Mutex
	byHash map[string]*auth.Session
}

var _ auth.SessionStore = (*Sessions)(nil)

func NewSessions() *Sessions {
	return &Sessions{byHash: make(map[string]*auth.Session)}
}

func (s *Sessions) CreateSession(_ context.Context, sess auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byHash[sess.TokenHash]; dup {
		return errors.New("memory: duplicate session token hash")
	}
	cp := sess
	s.byHash[sess.TokenHash] = &cp
	return nil
}

func (s *Sessions) FindSession(_ context.Context, tokenHash string) (auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byHash[tokenHash]
	if !ok {
		return auth.Session{}, auth.ErrSessionInvalid
	}
	return *sess, nil
}

func (s *Sessions) RotateSession(_ context.Context, presentedHash string, now time.Time, next auth.Session) (auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byHash[presentedHash]
	if !ok || !current.Active(now) {
		return auth.Session{}, auth.ErrSessionInvalid
	}
	revokedAt := now
	current.RevokedAt = &revokedAt
	next.UserID = current.UserID
	next.LineID = current.LineID
	cp := next
	s.byHash[next.TokenHash] = &cp
	return next, nil
}

func (s *Sessions) RevokeSessionLine(_ context.Context, userID, lineID string, now time.Time) (int64, error) {
	return s.revoke(func(sess *auth.Session) bool {
		return sess.UserID == userID && sess.LineID == lineID
	}, now), nil
}

func (s *Sessions) RevokeUserSessions(_ context.Context, userID string, now time.Time) (int64, error) {
	return s.revoke(func(sess *auth.Session) bool { return sess.UserID == userID }, now), nil
}

func (s *Sessions) revoke(match func(*auth.Session) bool, now time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sess := range s.byHash {
		if sess.RevokedAt == nil && match(sess) {
			revokedAt := now
			sess.RevokedAt = &revokedAt
			n++
		}
	}
	return n
}
