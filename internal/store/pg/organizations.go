package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"payline.org/internal/org"
)

var _ org.Store = (*Store)(nil)

const membershipColumns = `
	m.organization_id, m.user_id, coalesce(i.wallet_address, ''), m.role, m.created_at, m.updated_at
	from memberships m
	left join identities i on i.id = m.user_id`

func (s *Store) CreateOrganization(ctx context.Context, o org.Organization, owner org.Membership) (org.Organization, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return org.Organization{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into organizations (id, name, owner_id, treasury_address, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, o.ID, o.Name, o.OwnerID, nullIfEmpty(o.TreasuryAddress), o.CreatedAt, o.UpdatedAt); err != nil {
		if isPgCode(err, pgErrForeignKeyViolation) {
			return org.Organization{}, fmt.Errorf("%w: unknown owner identity", org.ErrInvalidInput)
		}
		return org.Organization{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into memberships (organization_id, user_id, role, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
	`, owner.OrganizationID, owner.UserID, string(owner.Role), owner.CreatedAt, owner.UpdatedAt); err != nil {
		return org.Organization{}, err
	}
	if err := tx.Commit(); err != nil {
		return org.Organization{}, err
	}
	return o, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (org.Organization, error) {
	if s.db == nil {
		return org.Organization{}, errUnavailable
	}
	return scanOrganization(s.db.QueryRowContext(ctx, `
		select id, name, owner_id, coalesce(treasury_address, ''), created_at, updated_at
		from organizations where id = $1
	`, id))
}

func (s *Store) UpdateOrganization(ctx context.Context, id string, upd org.OrganizationUpdate, now time.Time) (org.Organization, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return org.Organization{}, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := scanOrganization(tx.QueryRowContext(ctx, `
		select id, name, owner_id, coalesce(treasury_address, ''), created_at, updated_at
		from organizations where id = $1 for update
	`, id))
	if err != nil {
		return org.Organization{}, err
	}
	if upd.Name != nil {
		o.Name = *upd.Name
	}
	if upd.TreasuryAddress != nil {
		o.TreasuryAddress = *upd.TreasuryAddress
	}
	o.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		update organizations set name = $2, treasury_address = $3, updated_at = $4 where id = $1
	`, o.ID, o.Name, nullIfEmpty(o.TreasuryAddress), o.UpdatedAt); err != nil {
		return org.Organization{}, err
	}
	if err := tx.Commit(); err != nil {
		return org.Organization{}, err
	}
	return o, nil
}

func (s *Store) ListAffiliations(ctx context.Context, userID string) ([]org.Affiliation, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		select o.id, o.name, o.owner_id, coalesce(o.treasury_address, ''), o.created_at, o.updated_at, m.role
		from memberships m
		join organizations o on o.id = m.organization_id
		where m.user_id = $1
		order by o.name asc, o.id asc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []org.Affiliation
	for rows.Next() {
		var (
			a    org.Affiliation
			role string
		)
		if err := rows.Scan(&a.Organization.ID, &a.Organization.Name, &a.Organization.OwnerID,
			&a.Organization.TreasuryAddress, &a.Organization.CreatedAt, &a.Organization.UpdatedAt, &role); err != nil {
			return nil, err
		}
		a.Role = org.Role(role)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetMembership(ctx context.Context, orgID, userID string) (org.Membership, error) {
	if s.db == nil {
		return org.Membership{}, errUnavailable
	}
	return scanMembership(s.db.QueryRowContext(ctx,
		`select`+membershipColumns+` where m.organization_id = $1 and m.user_id = $2`, orgID, userID))
}

func (s *Store) ListMembers(ctx context.Context, orgID string) ([]org.Membership, error) {
	if _, err := s.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`select`+membershipColumns+` where m.organization_id = $1 order by m.created_at asc, m.user_id asc`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]org.Membership, 0)
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AddMember(ctx context.Context, m org.Membership) (org.Membership, error) {
	if s.db == nil {
		return org.Membership{}, errUnavailable
	}
	_, err := s.db.ExecContext(ctx, `
		insert into memberships (organization_id, user_id, role, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
	`, m.OrganizationID, m.UserID, string(m.Role), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return org.Membership{}, org.ErrAlreadyMember
			case pgErrForeignKeyViolation:
				if strings.Contains(pgErr.ConstraintName, "user_id") {
					return org.Membership{}, org.ErrUserNotFound
				}
				return org.Membership{}, org.ErrOrganizationNotFound
			}
		}
		return org.Membership{}, err
	}
	return s.GetMembership(ctx, m.OrganizationID, m.UserID)
}

// ChangeMemberRole and RemoveMember lock the organization row so concurrent
// demotions cannot both observe a second owner.
func (s *Store) ChangeMemberRole(ctx context.Context, orgID, userID string, role org.Role, now time.Time) (org.Membership, error) {
	err := s.withOwnerLock(ctx, orgID, userID, role != org.RoleOwnerAdmin, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			update memberships set role = $3, updated_at = $4
			where organization_id = $1 and user_id = $2
		`, orgID, userID, string(role), now)
		return err
	})
	if err != nil {
		return org.Membership{}, err
	}
	return s.GetMembership(ctx, orgID, userID)
}

func (s *Store) RemoveMember(ctx context.Context, orgID, userID string) error {
	return s.withOwnerLock(ctx, orgID, userID, true, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `delete from memberships where organization_id = $1 and user_id = $2`, orgID, userID)
		return err
	})
}

// withOwnerLock runs mutate after verifying that, when losesOwner is set and the
// member is currently an owner, another owner remains. If that member was the
// organization's recorded owner, owner_id moves to the longest-standing owner left.
func (s *Store) withOwnerLock(ctx context.Context, orgID, userID string, losesOwner bool, mutate func(*sql.Tx) error) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	if err := tx.QueryRowContext(ctx, `select 1 from organizations where id = $1 for update`, orgID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return org.ErrMemberNotFound
		}
		return err
	}
	var current string
	if err := tx.QueryRowContext(ctx, `
		select role from memberships where organization_id = $1 and user_id = $2
	`, orgID, userID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return org.ErrMemberNotFound
		}
		return err
	}
	losing := losesOwner && org.Role(current) == org.RoleOwnerAdmin
	if losing {
		var owners int
		if err := tx.QueryRowContext(ctx, `
			select count(*) from memberships where organization_id = $1 and role = $2
		`, orgID, string(org.RoleOwnerAdmin)).Scan(&owners); err != nil {
			return err
		}
		if owners <= 1 {
			return org.ErrLastOwner
		}
	}
	if err := mutate(tx); err != nil {
		return err
	}
	if losing {
		if _, err := tx.ExecContext(ctx, `
			update organizations set owner_id = (
				select user_id from memberships
				where organization_id = $1 and role = $2
				order by created_at, user_id
				limit 1
			)
			where id = $1 and owner_id = $3
		`, orgID, string(org.RoleOwnerAdmin), userID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(row rowScanner) (org.Organization, error) {
	var o org.Organization
	err := row.Scan(&o.ID, &o.Name, &o.OwnerID, &o.TreasuryAddress, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return org.Organization{}, org.ErrOrganizationNotFound
	}
	if err != nil {
		return org.Organization{}, err
	}
	return o, nil
}

func scanMembership(row rowScanner) (org.Membership, error) {
	var (
		m    org.Membership
		role string
	)
	err := row.Scan(&m.OrganizationID, &m.UserID, &m.WalletAddress, &role, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return org.Membership{}, org.ErrMemberNotFound
	}
	if err != nil {
		return org.Membership{}, err
	}
	m.Role = org.Role(role)
	return m, nil
}
