package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"payline.org/internal/auth"
)

var (
	_ auth.IdentityStore = (*Store)(nil)
	_ auth.SessionStore  = (*Store)(nil)
)

func (s *Store) EnsureIdentity(ctx context.Context, id, wallet string, now time.Time) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errUnavailable
	}
	// The no-op update makes returning yield the existing row on conflict.
	var identity auth.Identity
	err := s.db.QueryRowContext(ctx, `
		insert into identities (id, wallet_address, created_at)
		values ($1, $2, $3)
		on conflict (wallet_address) do update set wallet_address = excluded.wallet_address
		returning id, wallet_address, created_at
	`, id, wallet, now).Scan(&identity.ID, &identity.WalletAddress, &identity.CreatedAt)
	if err != nil {
		return auth.Identity{}, err
	}
	return identity, nil
}

func (s *Store) GetIdentity(ctx context.Context, id string) (auth.Identity, error) {
	return s.identityWhere(ctx, `id = $1`, id)
}

func (s *Store) FindIdentityByWallet(ctx context.Context, wallet string) (auth.Identity, error) {
	return s.identityWhere(ctx, `wallet_address = $1`, wallet)
}

func (s *Store) identityWhere(ctx context.Context, cond string, arg string) (auth.Identity, error) {
	if s.db == nil {
		return auth.Identity{}, errUnavailable
	}
	var identity auth.Identity
	err := s.db.QueryRowContext(ctx, `
		select id, wallet_address, created_at from identities where `+cond, arg).
		Scan(&identity.ID, &identity.WalletAddress, &identity.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Identity{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Identity{}, err
	}
	return identity, nil
}

func (s *Store) CreateSession(ctx context.Context, sess auth.Session) error {
	if s.db == nil {
		return errUnavailable
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, line_id, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, sess.ID, sess.UserID, sess.LineID, sess.TokenHash, sess.ExpiresAt, sess.CreatedAt)
	return err
}

func (s *Store) FindSession(ctx context.Context, tokenHash string) (auth.Session, error) {
	if s.db == nil {
		return auth.Session{}, errUnavailable
	}
	var (
		sess    auth.Session
		revoked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, line_id, token_hash, expires_at, created_at, revoked_at
		from sessions where token_hash = $1
	`, tokenHash).Scan(&sess.ID, &sess.UserID, &sess.LineID, &sess.TokenHash, &sess.ExpiresAt, &sess.CreatedAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Session{}, auth.ErrSessionInvalid
	}
	if err != nil {
		return auth.Session{}, err
	}
	if revoked.Valid {
		t := revoked.Time
		sess.RevokedAt = &t
	}
	return sess, nil
}

// RotateSession revokes and replaces in one transaction. The conditional update
// is the single point where concurrent refreshes of the same token race; only
// one of them sees a row.
func (s *Store) RotateSession(ctx context.Context, presentedHash string, now time.Time, next auth.Session) (auth.Session, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return auth.Session{}, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		update sessions set revoked_at = $2
		where token_hash = $1 and revoked_at is null and expires_at > $2
		returning user_id, line_id
	`, presentedHash, now).Scan(&next.UserID, &next.LineID)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Session{}, auth.ErrSessionInvalid
	}
	if err != nil {
		return auth.Session{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into sessions (id, user_id, line_id, token_hash, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, next.ID, next.UserID, next.LineID, next.TokenHash, next.ExpiresAt, next.CreatedAt); err != nil {
		return auth.Session{}, err
	}
	if err := tx.Commit(); err != nil {
		return auth.Session{}, err
	}
	return next, nil
}

func (s *Store) RevokeSessionLine(ctx context.Context, userID, lineID string, now time.Time) (int64, error) {
	return s.revokeSessions(ctx, `user_id = $2 and line_id = $3`, now, userID, lineID)
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID string, now time.Time) (int64, error) {
	return s.revokeSessions(ctx, `user_id = $2`, now, userID)
}

func (s *Store) revokeSessions(ctx context.Context, cond string, now time.Time, args ...any) (int64, error) {
	if s.db == nil {
		return 0, errUnavailable
	}
	res, err := s.db.ExecContext(ctx, `update sessions set revoked_at = $1 where revoked_at is null and `+cond,
		append([]any{now}, args...)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
