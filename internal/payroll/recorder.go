package payroll

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payline.org/internal/ids"
	"payline.org/internal/obs"
)

const (
	maxReferenceLength = 256
	defaultRunLimit    = 50
	maxRunLimit        = 200
)

// Recorder persists externally confirmed payroll runs.
type Recorder struct {
	runs RunStore
	now  func() time.Time
}

func NewRecorder(runs RunStore) *Recorder {
	return &Recorder{runs: runs, now: time.Now}
}

// RecordInput is what the external executor reports.
type RecordInput struct {
	ExternalReference string
	Items             []Item
	// Status defaults to COMPLETED. PENDING records a broadcast awaiting confirmation.
	Status     RunStatus
	RecordedBy string
}

// Record validates the items, computes the total from them and writes the run
// with its items atomically.
func (rc *Recorder) Record(ctx context.Context, orgID string, in RecordInput) (Run, error) {
	ref := strings.TrimSpace(in.ExternalReference)
	if ref == "" {
		return Run{}, fmt.Errorf("%w: external_reference is required", ErrInvalidInput)
	}
	if len(ref) > maxReferenceLength {
		return Run{}, fmt.Errorf("%w: external_reference exceeds %d characters", ErrInvalidInput, maxReferenceLength)
	}
	if len(in.Items) == 0 {
		return Run{}, fmt.Errorf("%w: items must not be empty", ErrInvalidInput)
	}
	status := in.Status
	if status == "" {
		status = RunCompleted
	}
	if status != RunCompleted && status != RunPending {
		return Run{}, fmt.Errorf("%w: a run can only be recorded as %s or %s", ErrInvalidInput, RunCompleted, RunPending)
	}

	total := decimal.Zero
	seen := make(map[string]struct{}, len(in.Items))
	items := make([]Item, 0, len(in.Items))
	for i, it := range in.Items {
		id := strings.TrimSpace(it.RecipientID)
		if id == "" {
			return Run{}, fmt.Errorf("%w: items[%d].recipient_id is required", ErrInvalidInput, i)
		}
		if _, dup := seen[id]; dup {
			return Run{}, fmt.Errorf("%w: recipient %s appears more than once", ErrInvalidInput, id)
		}
		seen[id] = struct{}{}
		if err := validatePositive(fmt.Sprintf("items[%d].amount", i), it.Amount); err != nil {
			return Run{}, err
		}
		items = append(items, Item{RecipientID: id, Amount: it.Amount})
		total = total.Add(it.Amount)
	}
	if err := validatePositive("total", total); err != nil {
		return Run{}, err
	}

	now := rc.now().UTC()
	run, err := rc.runs.CreateRun(ctx, Run{
		ID:                ids.NewAt(now),
		OrganizationID:    orgID,
		ExternalReference: ref,
		Total:             total,
		Status:            status,
		RecordedBy:        in.RecordedBy,
		CreatedAt:         now,
		UpdatedAt:         now,
		Items:             items,
	})
	if err != nil {
		return Run{}, err
	}
	obs.PayrollRunsRecorded.WithLabelValues(string(status)).Inc()
	return run, nil
}

func (rc *Recorder) Get(ctx context.Context, orgID, id string) (Run, error) {
	return rc.runs.GetRun(ctx, orgID, id)
}

func (rc *Recorder) List(ctx context.Context, orgID string, f RunFilter) ([]Run, error) {
	if f.Limit <= 0 {
		f.Limit = defaultRunLimit
	}
	if f.Limit > maxRunLimit {
		f.Limit = maxRunLimit
	}
	return rc.runs.ListRuns(ctx, orgID, f)
}

// Transition settles a PENDING run as COMPLETED or FAILED.
func (rc *Recorder) Transition(ctx context.Context, orgID, id string, to RunStatus) (Run, error) {
	if !to.Terminal() {
		return Run{}, fmt.Errorf("%w: target status must be %s or %s", ErrInvalidTransition, RunCompleted, RunFailed)
	}
	return rc.runs.UpdateRunStatus(ctx, orgID, id, RunPending, to, rc.now().UTC())
}
