package payroll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits amounts are stored and rendered with.
const AmountScale = 8

var maxAmount = decimal.New(1, 30)

var (
	ErrRecipientNotFound  = errors.New("payroll: recipient not found")
	ErrDuplicateWallet    = errors.New("payroll: an active recipient already uses this wallet")
	ErrInvalidReference   = errors.New("payroll: item references a recipient outside the organization")
	ErrRunNotFound        = errors.New("payroll: run not found")
	ErrDuplicateReference = errors.New("payroll: external reference already recorded")
	ErrInvalidTransition  = errors.New("payroll: invalid run status transition")
	ErrInvalidInput       = errors.New("payroll: invalid input")
)

// FormatAmount renders d with exactly AmountScale fractional digits.
func FormatAmount(d decimal.Decimal) string { return d.StringFixed(AmountScale) }

// ParseAmount parses a decimal string, rejecting values that need more than AmountScale digits.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q is not a decimal amount", ErrInvalidInput, s)
	}
	if !d.Equal(d.Round(AmountScale)) {
		return decimal.Decimal{}, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidInput, s, AmountScale)
	}
	if d.Abs().Cmp(maxAmount) >= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: %q is out of range", ErrInvalidInput, s)
	}
	return d, nil
}

func validatePositive(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", ErrInvalidInput, field)
	}
	if !d.Equal(d.Round(AmountScale)) || d.Cmp(maxAmount) >= 0 {
		return fmt.Errorf("%w: %s is out of range", ErrInvalidInput, field)
	}
	return nil
}

// PayCycle is informational; the full rate is paid per run regardless of cycle.
type PayCycle string

const (
	PayCycleWeekly   PayCycle = "WEEKLY"
	PayCycleBiweekly PayCycle = "BIWEEKLY"
	PayCycleMonthly  PayCycle = "MONTHLY"
)

func ParsePayCycle(s string) (PayCycle, error) {
	switch c := PayCycle(strings.ToUpper(strings.TrimSpace(s))); c {
	case PayCycleWeekly, PayCycleBiweekly, PayCycleMonthly:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown pay cycle %q", ErrInvalidInput, s)
	}
}

// Recipient is a payee of an organization. Active=false is the soft delete.
type Recipient struct {
	ID             string
	OrganizationID string
	Name           string
	WalletAddress  string
	Rate           decimal.Decimal
	PayCycle       PayCycle
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type RecipientUpdate struct {
	Name     *string
	Rate     *decimal.Decimal
	PayCycle *PayCycle
}

type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

func ParseRunStatus(s string) (RunStatus, error) {
	switch st := RunStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case RunPending, RunCompleted, RunFailed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown run status %q", ErrInvalidInput, s)
	}
}

// Terminal statuses never change again.
func (s RunStatus) Terminal() bool { return s == RunCompleted || s == RunFailed }

// Run is an immutable record of an externally confirmed settlement.
type Run struct {
	ID                string
	OrganizationID    string
	ExternalReference string
	Total             decimal.Decimal
	Status            RunStatus
	RecordedBy        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Items             []Item
}

// Item is one recipient's share of a run.
type Item struct {
	RecipientID string
	Amount      decimal.Decimal
}

// RunFilter pages through runs newest first. Before is an exclusive run id cursor.
type RunFilter struct {
	Limit  int
	Before string
}

type RecipientStore interface {
	// CreateRecipient must fail ErrDuplicateWallet when another active recipient of
	// the organization has the same wallet, decided by a single constrained write.
	CreateRecipient(ctx context.Context, r Recipient) (Recipient, error)
	GetRecipient(ctx context.Context, orgID, id string) (Recipient, error)
	// ListRecipients returns recipients ordered by name then id.
	ListRecipients(ctx context.Context, orgID string, includeArchived bool) ([]Recipient, error)
	UpdateRecipient(ctx context.Context, orgID, id string, upd RecipientUpdate, now time.Time) (Recipient, error)
	ArchiveRecipient(ctx context.Context, orgID, id string, now time.Time) (Recipient, error)
}

type RunStore interface {
	// CreateRun writes the run and its items atomically, failing ErrInvalidReference
	// when any item's recipient does not belong to run.OrganizationID.
	CreateRun(ctx context.Context, run Run) (Run, error)
	GetRun(ctx context.Context, orgID, id string) (Run, error)
	// ListRuns returns runs without items.
	ListRuns(ctx context.Context, orgID string, f RunFilter) ([]Run, error)
	// UpdateRunStatus moves a run from one status to another only if it is still in from.
	UpdateRunStatus(ctx context.Context, orgID, id string, from, to RunStatus, now time.Time) (Run, error)
}
