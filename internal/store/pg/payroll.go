package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"payline.org/internal/payroll"
)

var (
	_ payroll.RecipientStore = (*Store)(nil)
	_ payroll.RunStore       = (*Store)(nil)
)

const (
	recipientColumns = `id, organization_id, name, wallet_address, rate, pay_cycle, active, created_at, updated_at`
	runColumns       = `id, organization_id, external_reference, total, status, coalesce(recorded_by, ''), created_at, updated_at`
	maxRunPage       = 200
)

func (s *Store) CreateRecipient(ctx context.Context, r payroll.Recipient) (payroll.Recipient, error) {
	if s.db == nil {
		return payroll.Recipient{}, errUnavailable
	}
	_, err := s.db.ExecContext(ctx, `
		insert into recipients (id, organization_id, name, wallet_address, rate, pay_cycle, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.OrganizationID, r.Name, r.WalletAddress, r.Rate, string(r.PayCycle), r.Active, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return payroll.Recipient{}, payroll.ErrDuplicateWallet
			case pgErrForeignKeyViolation:
				return payroll.Recipient{}, fmt.Errorf("%w: unknown organization", payroll.ErrInvalidInput)
			}
		}
		return payroll.Recipient{}, err
	}
	return r, nil
}

func (s *Store) GetRecipient(ctx context.Context, orgID, id string) (payroll.Recipient, error) {
	if s.db == nil {
		return payroll.Recipient{}, errUnavailable
	}
	return scanRecipient(s.db.QueryRowContext(ctx,
		`select `+recipientColumns+` from recipients where organization_id = $1 and id = $2`, orgID, id))
}

func (s *Store) ListRecipients(ctx context.Context, orgID string, includeArchived bool) ([]payroll.Recipient, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+recipientColumns+` from recipients
		where organization_id = $1 and (active or $2)
		order by name asc, id asc
	`, orgID, includeArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]payroll.Recipient, 0)
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateRecipient(ctx context.Context, orgID, id string, upd payroll.RecipientUpdate, now time.Time) (payroll.Recipient, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return payroll.Recipient{}, err
	}
	defer func() { _ = tx.Rollback() }()

	r, err := scanRecipient(tx.QueryRowContext(ctx,
		`select `+recipientColumns+` from recipients where organization_id = $1 and id = $2 for update`, orgID, id))
	if err != nil {
		return payroll.Recipient{}, err
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Rate != nil {
		r.Rate = *upd.Rate
	}
	if upd.PayCycle != nil {
		r.PayCycle = *upd.PayCycle
	}
	r.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		update recipients set name = $3, rate = $4, pay_cycle = $5, updated_at = $6
		where organization_id = $1 and id = $2
	`, orgID, id, r.Name, r.Rate, string(r.PayCycle), r.UpdatedAt); err != nil {
		return payroll.Recipient{}, err
	}
	if err := tx.Commit(); err != nil {
		return payroll.Recipient{}, err
	}
	return r, nil
}

func (s *Store) ArchiveRecipient(ctx context.Context, orgID, id string, now time.Time) (payroll.Recipient, error) {
	if s.db == nil {
		return payroll.Recipient{}, errUnavailable
	}
	// Archiving twice keeps the first archive timestamp.
	if _, err := s.db.ExecContext(ctx, `
		update recipients set active = false, updated_at = $3
		where organization_id = $1 and id = $2 and active
	`, orgID, id, now); err != nil {
		return payroll.Recipient{}, err
	}
	return s.GetRecipient(ctx, orgID, id)
}

// CreateRun writes the run header and every item in one transaction. Items
// carry the run's organization so the composite foreign key on recipients
// rejects cross-organization references even without the explicit check.
func (s *Store) CreateRun(ctx context.Context, run payroll.Run) (payroll.Run, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return payroll.Run{}, err
	}
	defer func() { _ = tx.Rollback() }()

	recipientIDs := make([]string, 0, len(run.Items))
	seen := make(map[string]struct{}, len(run.Items))
	for _, it := range run.Items {
		if _, dup := seen[it.RecipientID]; dup {
			continue
		}
		seen[it.RecipientID] = struct{}{}
		recipientIDs = append(recipientIDs, it.RecipientID)
	}
	var owned int
	if err := tx.QueryRowContext(ctx, `
		select count(*) from recipients where organization_id = $1 and id = any($2)
	`, run.OrganizationID, recipientIDs).Scan(&owned); err != nil {
		return payroll.Run{}, err
	}
	if owned != len(recipientIDs) {
		return payroll.Run{}, payroll.ErrInvalidReference
	}

	if _, err := tx.ExecContext(ctx, `
		insert into payroll_runs (id, organization_id, external_reference, total, status, recorded_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.OrganizationID, run.ExternalReference, run.Total, string(run.Status),
		nullIfEmpty(run.RecordedBy), run.CreatedAt, run.UpdatedAt); err != nil {
		if isPgCode(err, pgErrUniqueViolation) {
			return payroll.Run{}, payroll.ErrDuplicateReference
		}
		return payroll.Run{}, err
	}
	for i, it := range run.Items {
		if _, err := tx.ExecContext(ctx, `
			insert into payroll_items (run_id, organization_id, recipient_id, position, amount)
			values ($1, $2, $3, $4, $5)
		`, run.ID, run.OrganizationID, it.RecipientID, i, it.Amount); err != nil {
			if pgErr, ok := maybePgError(err); ok {
				switch pgErr.Code {
				case pgErrForeignKeyViolation:
					return payroll.Run{}, payroll.ErrInvalidReference
				case pgErrUniqueViolation:
					return payroll.Run{}, fmt.Errorf("%w: recipient %s appears twice", payroll.ErrInvalidInput, it.RecipientID)
				}
			}
			return payroll.Run{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return payroll.Run{}, err
	}
	return run, nil
}

func (s *Store) GetRun(ctx context.Context, orgID, id string) (payroll.Run, error) {
	if s.db == nil {
		return payroll.Run{}, errUnavailable
	}
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`select `+runColumns+` from payroll_runs where organization_id = $1 and id = $2`, orgID, id))
	if err != nil {
		return payroll.Run{}, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select recipient_id, amount from payroll_items where run_id = $1 order by position asc
	`, id)
	if err != nil {
		return payroll.Run{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it payroll.Item
		if err := rows.Scan(&it.RecipientID, &it.Amount); err != nil {
			return payroll.Run{}, err
		}
		run.Items = append(run.Items, it)
	}
	if err := rows.Err(); err != nil {
		return payroll.Run{}, err
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, orgID string, f payroll.RunFilter) ([]payroll.Run, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	limit := f.Limit
	if limit <= 0 || limit > maxRunPage {
		limit = maxRunPage
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+runColumns+` from payroll_runs
		where organization_id = $1 and ($2 = '' or id < $2)
		order by id desc
		limit $3
	`, orgID, f.Before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]payroll.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, orgID, id string, from, to payroll.RunStatus, now time.Time) (payroll.Run, error) {
	if s.db == nil {
		return payroll.Run{}, errUnavailable
	}
	res, err := s.db.ExecContext(ctx, `
		update payroll_runs set status = $4, updated_at = $5
		where organization_id = $1 and id = $2 and status = $3
	`, orgID, id, string(from), string(to), now)
	if err != nil {
		return payroll.Run{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return payroll.Run{}, err
	}
	run, err := s.GetRun(ctx, orgID, id)
	if err != nil {
		return payroll.Run{}, err
	}
	if n == 0 {
		return payroll.Run{}, payroll.ErrInvalidTransition
	}
	return run, nil
}

func scanRecipient(row rowScanner) (payroll.Recipient, error) {
	var (
		r     payroll.Recipient
		cycle string
	)
	err := row.Scan(&r.ID, &r.OrganizationID, &r.Name, &r.WalletAddress, &r.Rate, &cycle, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Recipient{}, payroll.ErrRecipientNotFound
	}
	if err != nil {
		return payroll.Recipient{}, err
	}
	r.PayCycle = payroll.PayCycle(cycle)
	return r, nil
}

func scanRun(row rowScanner) (payroll.Run, error) {
	var (
		run    payroll.Run
		status string
		total  decimal.Decimal
	)
	err := row.Scan(&run.ID, &run.OrganizationID, &run.ExternalReference, &total, &status, &run.RecordedBy, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return payroll.Run{}, payroll.ErrRunNotFound
	}
	if err != nil {
		return payroll.Run{}, err
	}
	run.Total = total
	run.Status = payroll.RunStatus(status)
	return run, nil
}
