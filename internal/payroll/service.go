package payroll

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"payline.org/internal/audit"
	"payline.org/internal/org"
)

// Authorizer is the organization guard consulted before every operation.
type Authorizer interface {
	Authorize(ctx context.Context, orgID, userID string, required org.Role) (org.Membership, error)
}

// Service exposes payroll operations to an authenticated actor.
type Service struct {
	guard      Authorizer
	recipients *Recipients
	engine     *Engine
	recorder   *Recorder
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source of every component.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn == nil {
			return
		}
		s.recipients.now = fn
		s.engine.now = fn
		s.recorder.now = fn
	}
}

func NewService(guard Authorizer, recipients RecipientStore, runs RunStore, opts ...Option) *Service {
	s := &Service{
		guard:      guard,
		recipients: NewRecipients(recipients),
		engine:     NewEngine(recipients),
		recorder:   NewRecorder(runs),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateRecipient(ctx context.Context, actorID, orgID string, in RecipientInput) (Recipient, error) {
	if _, err := s.guard.Authorize(ctx, orgID, actorID, org.RoleFinanceOperator); err != nil {
		return Recipient{}, err
	}
	r, err := s.recipients.Create(ctx, orgID, in)
	if err != nil {
		return Recipient{}, err
	}
	_ = audit.LogEvent(ctx, "payroll.recipient.create", map[string]any{
		"organization_id": orgID,
		"recipient_id":    r.ID,
		"wallet_address":  r.WalletAddress,
	})
	return r, nil
}

func (s *Service) GetRecipient(ctx context.Context, actorID, orgID, id string) (Recipient, error) {
	if _, err := s.guard.Authorize(ctx, orgID, actorID, org.RoleFinanceOperator); err != nil {
		return Recipient{}, err
	}
	return s.recipients.Get(ctx, orgID, id)
}

func (s *Service) ListRecipients(ctx context.Context, actorID, orgID string, includeArchived bool) ([]Recipient, error) {
	if _, err := s.guard.Authorize(ctx, orgID, actorID, org.RoleFinanceOperator); err != nil {
		return nil, err
	}
	return s.recipients.List(ctx, orgID, includeArchived)
}

func (s *Service) UpdateRecipient(ctx context.Context, actorID, orgID, id string, upd RecipientUpdate) (Recipient, error) {
	if _, err := s.guard.Authorize(ctx, orgID, actorID, org.RoleFinanceOperator); err != nil {
		return Recipient{}, err
	}
	r, err := s.recipients.Update(ctx, orgID, id, upd)
	if err != nil {
		return Recipient{}, err
	}
	_ = audit.LogEvent(ctx, "payroll.recipient.update", map[string]any{"organization_id": orgID, "recipient_id": id})
	return r, nil
}

func (s *Service) ArchiveRecipient(ctx context.Context, actorID, orgID, id string) (Recipient, error) {
	if _, err := s.guard.Authorize(ctx, orgID, actorID, org.RoleFinanceOperator); err != nil {
		return Recipient{}, err
	}
	r, err := s.recipients.Archive(ctx, orgID, id)
	if err != nil {
		return Recipient{}, err
	}
	_ = audit.LogEvent(ctx, "payroll.recipient.archive", map[string]any{"organization_id": orgID, "recipient_id": id})
	return r, nil
}

func (s *Service) Preview(ctx context.Context, actorID, orgID string, externalBalance decimal.Decimal) (Preview, error) {
	if _, err := s.guard.Authorize(ctx, orgID, actorID, org.RoleFinanceOperator); err != nil {
		return Preview{}, err
	}
	return s.engine.Preview(ctx, orgID, externalBalance)
}

func (s *Service) RecordRun(ctx context.Context, actorID, orgID string, in RecordInput) (Run, error) {
	if _, err := s.guard.Authorize(ctx, orgID, actorID, org.RoleFinanceOperator); err != nil {
		return Run{}, err
	}
	in.RecordedBy = actorID
	run, err := s.recorder.Record(ctx, orgID, in)
	if err != nil {
		return Run{}, err
	}
	_ = audit.LogEvent(ctx, "payroll.run.record", map[string]any{
		"organization_id":    orgID,
		"run_id":             run.ID,
		"external_reference": run.ExternalReference,
		"total":              FormatAmount(run.Total),
		"items":              len(run.Items),
		"status":             string(run.Status),
	})
	return run, nil
}

func (s *Service) GetRun(ctx context.Context, actorID, orgID, id string) (Run, error) {
	if _, err := s.guard.Authorize(ctx, orgID, actorID, org.RoleFinanceOperator); err != nil {
		return Run{}, err
	}
	return s.recorder.Get(ctx, orgID, id)
}

func (s *Service) ListRuns(ctx context.Context, actorID, orgID string, f RunFilter) ([]Run, error) {
	if _, err := s.guard.Authorize(ctx, orgID, actorID, org.RoleFinanceOperator); err != nil {
		return nil, err
	}
	return s.recorder.List(ctx, orgID, f)
}

func (s *Service) SettleRun(ctx context.Context, actorID, orgID, id string, to RunStatus) (Run, error) {
	if _, err := s.guard.Authorize(ctx, orgID, actorID, org.RoleFinanceOperator); err != nil {
		return Run{}, err
	}
	run, err := s.recorder.Transition(ctx, orgID, id, to)
	if err != nil {
		return Run{}, err
	}
	_ = audit.LogEvent(ctx, "payroll.run.settle", map[string]any{"organization_id": orgID, "run_id": id, "status": string(to)})
	return run, nil
}
