package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"payline.org/internal/ids"
	"payline.org/internal/obs"
	"payline.org/internal/wallet"
)

const (
	defaultAccessTTL  = MaxAccessTTL
	defaultRefreshTTL = MaxRefreshTTL
	defaultIssuer     = "payline"
	defaultDomain     = "payline"
)

// Stores groups the persistence collaborators of Service.
type Stores struct {
	Challenges ChallengeStore
	Identities IdentityStore
	Sessions   SessionStore
}

// Service implements wallet challenge login and session issuance.
type Service struct {
	stores Stores
	signer tokenSigner
	now    func() time.Time
	logger *slog.Logger

	domain       string
	challengeTTL time.Duration
	accessTTL    time.Duration
	refreshTTL   time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.signer.issuer = issuer
		}
		return nil
	}
}

// WithDomain sets the name shown at the top of the challenge message.
func WithDomain(domain string) ServiceOption {
	return func(s *Service) error {
		if domain = strings.TrimSpace(domain); domain != "" {
			s.domain = domain
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime (at most MaxAccessTTL).
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > MaxAccessTTL {
			return fmt.Errorf("auth: access ttl %s exceeds %s", ttl, MaxAccessTTL)
		}
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime (at most MaxRefreshTTL).
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > MaxRefreshTTL {
			return fmt.Errorf("auth: refresh ttl %s exceeds %s", ttl, MaxRefreshTTL)
		}
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithChallengeTTL configures how long a challenge stays signable (at most DefaultChallengeTTL).
func WithChallengeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > DefaultChallengeTTL {
			return fmt.Errorf("auth: challenge ttl %s exceeds %s", ttl, DefaultChallengeTTL)
		}
		if ttl > 0 {
			s.challengeTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLogger overrides the structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewService constructs Service. secret signs access tokens and must be at least 32 bytes.
func NewService(stores Stores, secret string, opts ...ServiceOption) (*Service, error) {
	if stores.Challenges == nil || stores.Identities == nil || stores.Sessions == nil {
		return nil, errors.New("auth: challenge, identity and session stores are required")
	}
	if len(secret) < 32 {
		return nil, errors.New("auth: token secret must be at least 32 bytes")
	}
	svc := &Service{
		stores:       stores,
		signer:       tokenSigner{secret: []byte(secret), issuer: defaultIssuer},
		now:          time.Now,
		logger:       obs.Logger(),
		domain:       defaultDomain,
		challengeTTL: DefaultChallengeTTL,
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

func (s *Service) clock() time.Time { return s.now().UTC() }

// IssueChallenge creates a fresh challenge for address, superseding earlier ones.
func (s *Service) IssueChallenge(ctx context.Context, address string) (Challenge, error) {
	addr, err := wallet.NormalizeAddress(address)
	if err != nil {
		return Challenge{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	value, err := newChallengeValue()
	if err != nil {
		return Challenge{}, err
	}
	now := s.clock()
	ch := Challenge{
		Address:   addr,
		Value:     value,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.challengeTTL),
	}
	ch.Message = ChallengeMessage(s.domain, addr, value, ch.IssuedAt, ch.ExpiresAt)
	if err := s.stores.Challenges.PutChallenge(ctx, ch); err != nil {
		return Challenge{}, fmt.Errorf("auth: store challenge: %w", err)
	}
	obs.ChallengesIssued.Inc()
	return ch, nil
}

// ConsumeAndVerify checks signature against the wallet's current challenge,
// consumes it and returns the (possibly new) identity.
func (s *Service) ConsumeAndVerify(ctx context.Context, address, signature, value string) (Identity, error) {
	addr, err := wallet.NormalizeAddress(address)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return Identity{}, fmt.Errorf("%w: challenge value is required", ErrInvalidInput)
	}
	if _, err := wallet.DecodeSignature(signature); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := s.clock()
	_, err = s.stores.Challenges.ConsumeChallenge(ctx, addr, value, now, func(ch Challenge) error {
		if err := wallet.Verify(addr, ch.Message, signature); err != nil {
			return ErrSignatureInvalid
		}
		return nil
	})
	if err != nil {
		s.loginFailed(ctx, addr, err)
		return Identity{}, err
	}

	identity, err := s.stores.Identities.EnsureIdentity(ctx, ids.NewAt(now), addr, now)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: ensure identity: %w", err)
	}
	obs.LoginAttempts.WithLabelValues("success").Inc()
	return identity, nil
}

func (s *Service) loginFailed(ctx context.Context, addr string, err error) {
	outcome := "error"
	switch {
	case errors.Is(err, ErrChallengeExpired):
		outcome = "challenge_expired"
	case errors.Is(err, ErrChallengeAlreadyUsed):
		outcome = "challenge_used"
	case errors.Is(err, ErrSignatureInvalid):
		outcome = "signature_invalid"
	}
	obs.LoginAttempts.WithLabelValues(outcome).Inc()
	s.logger.WarnContext(ctx, "wallet login rejected", "wallet", addr, "outcome", outcome, "error", err)
}

// Login verifies the signed challenge and issues a fresh session line.
func (s *Service) Login(ctx context.Context, address, signature, value string) (Identity, TokenPair, error) {
	identity, err := s.ConsumeAndVerify(ctx, address, signature, value)
	if err != nil {
		return Identity{}, TokenPair{}, err
	}
	pair, err := s.Issue(ctx, identity)
	if err != nil {
		return Identity{}, TokenPair{}, err
	}
	return identity, pair, nil
}

// Issue starts a new session line for identity.
func (s *Service) Issue(ctx context.Context, identity Identity) (TokenPair, error) {
	if identity.ID == "" || identity.WalletAddress == "" {
		return TokenPair{}, fmt.Errorf("%w: identity is incomplete", ErrInvalidInput)
	}
	now := s.clock()
	raw, hash, err := newRefreshToken()
	if err != nil {
		return TokenPair{}, err
	}
	sess := Session{
		ID:        ids.NewAt(now),
		UserID:    identity.ID,
		LineID:    ids.NewAt(now),
		TokenHash: hash,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.stores.Sessions.CreateSession(ctx, sess); err != nil {
		return TokenPair{}, fmt.Errorf("auth: create session: %w", err)
	}
	return s.pair(identity, sess, raw, now)
}

// Refresh rotates the presented refresh token. The presented token is revoked
// even when the caller loses the response; re-presenting it fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	pair, err := s.refresh(ctx, refreshToken)
	switch {
	case err == nil:
		obs.RefreshAttempts.WithLabelValues("success").Inc()
	case errors.Is(err, ErrSessionInvalid):
		obs.RefreshAttempts.WithLabelValues("invalid").Inc()
	default:
		obs.RefreshAttempts.WithLabelValues("error").Inc()
	}
	return pair, err
}

func (s *Service) refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if err := validateRefreshToken(refreshToken); err != nil {
		return TokenPair{}, err
	}
	now := s.clock()
	presented := HashRefreshToken(strings.TrimSpace(refreshToken))

	current, err := s.stores.Sessions.FindSession(ctx, presented)
	if err != nil {
		return TokenPair{}, err
	}
	if !current.Active(now) {
		return TokenPair{}, ErrSessionInvalid
	}
	identity, err := s.stores.Identities.GetIdentity(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrSessionInvalid
		}
		return TokenPair{}, err
	}

	raw, hash, err := newRefreshToken()
	if err != nil {
		return TokenPair{}, err
	}
	next, err := s.stores.Sessions.RotateSession(ctx, presented, now, Session{
		ID:        ids.NewAt(now),
		TokenHash: hash,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	})
	if err != nil {
		return TokenPair{}, err
	}
	return s.pair(identity, next, raw, now)
}

func (s *Service) pair(identity Identity, sess Session, rawRefresh string, now time.Time) (TokenPair, error) {
	access, accessExp, err := s.signer.sign(identity, sess.LineID, now, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     rawRefresh,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: sess.ExpiresAt,
	}, nil
}

// Logout revokes the session line of refreshToken when given, otherwise the
// line the caller's access token belongs to (or every line when unknown).
func (s *Service) Logout(ctx context.Context, userID, sessionLine, refreshToken string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := s.clock()
	if strings.TrimSpace(refreshToken) != "" {
		if err := validateRefreshToken(refreshToken); err != nil {
			return err
		}
		sess, err := s.stores.Sessions.FindSession(ctx, HashRefreshToken(strings.TrimSpace(refreshToken)))
		if err != nil {
			return err
		}
		if sess.UserID != userID {
			return ErrSessionInvalid
		}
		sessionLine = sess.LineID
	}
	var err error
	if sessionLine != "" {
		_, err = s.stores.Sessions.RevokeSessionLine(ctx, userID, sessionLine, now)
	} else {
		_, err = s.stores.Sessions.RevokeUserSessions(ctx, userID, now)
	}
	if err != nil {
		return fmt.Errorf("auth: revoke sessions: %w", err)
	}
	return nil
}

// Authenticate verifies an access token without touching any store.
func (s *Service) Authenticate(token string) (Claims, error) {
	return s.signer.parse(token, s.clock())
}

// Identity returns the identity with id.
func (s *Service) Identity(ctx context.Context, id string) (Identity, error) {
	return s.stores.Identities.GetIdentity(ctx, id)
}

// IdentityByWallet resolves a wallet address to an existing identity.
func (s *Service) IdentityByWallet(ctx context.Context, address string) (Identity, error) {
	addr, err := wallet.NormalizeAddress(address)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.stores.Identities.FindIdentityByWallet(ctx, addr)
}
