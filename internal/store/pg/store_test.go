package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"payline.org/internal/auth"
	"payline.org/internal/org"
	"payline.org/internal/payroll"
)

// arrayConverter lets []string arguments through the way the pgx driver accepts them.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if ss, ok := v.([]string); ok {
		return ss, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEnsureIdentityReturnsExistingRow(t *testing.T) {
	s, mock := newMock(t)
	wallet := "0x00000000000000000000000000000000000000aa"
	created := fixedNow.Add(-time.Hour)
	mock.ExpectQuery("insert into identities").
		WithArgs("new-id", wallet, fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"id", "wallet_address", "created_at"}).AddRow("old-id", wallet, created))

	identity, err := s.EnsureIdentity(context.Background(), "new-id", wallet, fixedNow)
	if err != nil {
		t.Fatalf("EnsureIdentity: %v", err)
	}
	if identity.ID != "old-id" || !identity.CreatedAt.Equal(created) {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestGetIdentityNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select id, wallet_address, created_at from identities").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "wallet_address", "created_at"}))

	if _, err := s.GetIdentity(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateSessionCommitsReplacement(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("update sessions set revoked_at").
		WithArgs("old-hash", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "line_id"}).AddRow("user-1", "line-1"))
	mock.ExpectExec("insert into sessions").
		WithArgs("sess-2", "user-1", "line-1", "new-hash", sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	next, err := s.RotateSession(context.Background(), "old-hash", fixedNow, auth.Session{
		ID:        "sess-2",
		TokenHash: "new-hash",
		ExpiresAt: fixedNow.Add(time.Hour),
		CreatedAt: fixedNow,
	})
	if err != nil {
		t.Fatalf("RotateSession: %v", err)
	}
	if next.UserID != "user-1" || next.LineID != "line-1" {
		t.Fatalf("replacement did not inherit line: %+v", next)
	}
}

func TestRotateSessionRejectsUsedToken(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("update sessions set revoked_at").
		WithArgs("old-hash", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "line_id"}))
	mock.ExpectRollback()

	_, err := s.RotateSession(context.Background(), "old-hash", fixedNow, auth.Session{ID: "sess-2", TokenHash: "new-hash"})
	if !errors.Is(err, auth.ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
}

func TestRevokeSessionLineCountsRows(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update sessions set revoked_at").
		WithArgs(fixedNow, "user-1", "line-1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.RevokeSessionLine(context.Background(), "user-1", "line-1", fixedNow)
	if err != nil {
		t.Fatalf("RevokeSessionLine: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}
}

func TestRemoveLastOwnerRollsBack(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from organizations").WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectQuery("select role from memberships").WithArgs("org-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("OWNER_ADMIN"))
	mock.ExpectQuery("select count").WithArgs("org-1", "OWNER_ADMIN").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	if err := s.RemoveMember(context.Background(), "org-1", "user-1"); !errors.Is(err, org.ErrLastOwner) {
		t.Fatalf("expected ErrLastOwner, got %v", err)
	}
}

func TestDemoteOwnerWithAnotherOwner(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from organizations").WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	mock.ExpectQuery("select role from memberships").WithArgs("org-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("OWNER_ADMIN"))
	mock.ExpectQuery("select count").WithArgs("org-1", "OWNER_ADMIN").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("update memberships set role").
		WithArgs("org-1", "user-1", "FINANCE_OPERATOR", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update organizations set owner_id").
		WithArgs("org-1", "OWNER_ADMIN", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("from memberships m").WithArgs("org-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id", "user_id", "wallet_address", "role", "created_at", "updated_at"}).
			AddRow("org-1", "user-1", "0xabc", "FINANCE_OPERATOR", fixedNow, fixedNow))

	m, err := s.ChangeMemberRole(context.Background(), "org-1", "user-1", org.RoleFinanceOperator, fixedNow)
	if err != nil {
		t.Fatalf("ChangeMemberRole: %v", err)
	}
	if m.Role != org.RoleFinanceOperator || m.WalletAddress != "0xabc" {
		t.Fatalf("unexpected membership %+v", m)
	}
}

func TestAddMemberDuplicate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into memberships").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := s.AddMember(context.Background(), org.Membership{OrganizationID: "org-1", UserID: "user-2", Role: org.RoleFinanceOperator})
	if !errors.Is(err, org.ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
}

func TestAddMemberUnknownUser(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into memberships").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation, ConstraintName: "memberships_user_id_fkey"})

	_, err := s.AddMember(context.Background(), org.Membership{OrganizationID: "org-1", UserID: "ghost", Role: org.RoleOwnerAdmin})
	if !errors.Is(err, org.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateRecipientDuplicateWallet(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into recipients").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "recipients_active_wallet_uniq"})

	_, err := s.CreateRecipient(context.Background(), payroll.Recipient{
		ID: "rec-1", OrganizationID: "org-1", Name: "Ada", WalletAddress: "0xabc",
		Rate: decimal.RequireFromString("10"), PayCycle: payroll.PayCycleMonthly, Active: true,
	})
	if !errors.Is(err, payroll.ErrDuplicateWallet) {
		t.Fatalf("expected ErrDuplicateWallet, got %v", err)
	}
}

func TestGetRecipientScansDecimal(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from recipients where organization_id").WithArgs("org-1", "rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "name", "wallet_address", "rate", "pay_cycle", "active", "created_at", "updated_at"}).
			AddRow("rec-1", "org-1", "Ada", "0xabc", "150.25000000", "MONTHLY", true, fixedNow, fixedNow))

	r, err := s.GetRecipient(context.Background(), "org-1", "rec-1")
	if err != nil {
		t.Fatalf("GetRecipient: %v", err)
	}
	if payroll.FormatAmount(r.Rate) != "150.25000000" || r.PayCycle != payroll.PayCycleMonthly {
		t.Fatalf("unexpected recipient %+v", r)
	}
}

func sampleRun() payroll.Run {
	return payroll.Run{
		ID:                "run-1",
		OrganizationID:    "org-1",
		ExternalReference: "0xtx",
		Total:             decimal.RequireFromString("30"),
		Status:            payroll.RunCompleted,
		RecordedBy:        "user-1",
		CreatedAt:         fixedNow,
		UpdatedAt:         fixedNow,
		Items: []payroll.Item{
			{RecipientID: "rec-1", Amount: decimal.RequireFromString("10")},
			{RecipientID: "rec-2", Amount: decimal.RequireFromString("20")},
		},
	}
}

func TestCreateRunWritesItemsInOneTransaction(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select count").WithArgs("org-1", []string{"rec-1", "rec-2"}).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("insert into payroll_runs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into payroll_items").WithArgs("run-1", "org-1", "rec-1", 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into payroll_items").WithArgs("run-1", "org-1", "rec-2", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	run, err := s.CreateRun(context.Background(), sampleRun())
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if len(run.Items) != 2 {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestCreateRunForeignRecipientWritesNothing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select count").WithArgs("org-1", []string{"rec-1", "rec-2"}).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	if _, err := s.CreateRun(context.Background(), sampleRun()); !errors.Is(err, payroll.ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
}

func TestCreateRunItemFailureRollsBack(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select count").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("insert into payroll_runs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into payroll_items").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into payroll_items").WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	if _, err := s.CreateRun(context.Background(), sampleRun()); !errors.Is(err, payroll.ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
}

func TestCreateRunDuplicateReference(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("select count").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec("insert into payroll_runs").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	if _, err := s.CreateRun(context.Background(), sampleRun()); !errors.Is(err, payroll.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestUpdateRunStatusFromTerminal(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update payroll_runs set status").
		WithArgs("org-1", "run-1", "PENDING", "COMPLETED", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("from payroll_runs where organization_id").WithArgs("org-1", "run-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "external_reference", "total", "status", "recorded_by", "created_at", "updated_at"}).
			AddRow("run-1", "org-1", "0xtx", "30.00000000", "FAILED", "user-1", fixedNow, fixedNow))
	mock.ExpectQuery("from payroll_items").WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"recipient_id", "amount"}).AddRow("rec-1", "30.00000000"))

	_, err := s.UpdateRunStatus(context.Background(), "org-1", "run-1", payroll.RunPending, payroll.RunCompleted, fixedNow)
	if !errors.Is(err, payroll.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("from payroll_runs where organization_id").WithArgs("org-2", "run-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.GetRun(context.Background(), "org-2", "run-1"); !errors.Is(err, payroll.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}
