package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"payline.org/internal/payroll"
)

// Payroll is an in-process payroll.RecipientStore and payroll.RunStore.
type Payroll struct {
	mu         sync.RWMutex
	recipients map[string]payroll.Recipient
	runs       map[string]payroll.Run
}

var (
	_ payroll.RecipientStore = (*Payroll)(nil)
	_ payroll.RunStore       = (*Payroll)(nil)
)

func NewPayroll() *Payroll {
	return &Payroll{
		recipients: make(map[string]payroll.Recipient),
		runs:       make(map[string]payroll.Run),
	}
}

func (s *Payroll) CreateRecipient(_ context.Context, r payroll.Recipient) (payroll.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.recipients {
		if existing.Active && existing.OrganizationID == r.OrganizationID && existing.WalletAddress == r.WalletAddress {
			return payroll.Recipient{}, payroll.ErrDuplicateWallet
		}
	}
	s.recipients[r.ID] = r
	return r, nil
}

func (s *Payroll) GetRecipient(_ context.Context, orgID, id string) (payroll.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recipients[id]
	if !ok || r.OrganizationID != orgID {
		return payroll.Recipient{}, payroll.ErrRecipientNotFound
	}
	return r, nil
}

func (s *Payroll) ListRecipients(_ context.Context, orgID string, includeArchived bool) ([]payroll.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]payroll.Recipient, 0)
	for _, r := range s.recipients {
		if r.OrganizationID == orgID && (includeArchived || r.Active) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Payroll) UpdateRecipient(_ context.Context, orgID, id string, upd payroll.RecipientUpdate, now time.Time) (payroll.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok || r.OrganizationID != orgID {
		return payroll.Recipient{}, payroll.ErrRecipientNotFound
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
	s.recipients[id] = r
	return r, nil
}

func (s *Payroll) ArchiveRecipient(_ context.Context, orgID, id string, now time.Time) (payroll.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipients[id]
	if !ok || r.OrganizationID != orgID {
		return payroll.Recipient{}, payroll.ErrRecipientNotFound
	}
	if r.Active {
		r.Active = false
		r.UpdatedAt = now
		s.recipients[id] = r
	}
	return r, nil
}

func (s *Payroll) CreateRun(_ context.Context, run payroll.Run) (payroll.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.runs {
		if existing.OrganizationID == run.OrganizationID && existing.ExternalReference == run.ExternalReference {
			return payroll.Run{}, payroll.ErrDuplicateReference
		}
	}
	for _, it := range run.Items {
		r, ok := s.recipients[it.RecipientID]
		if !ok || r.OrganizationID != run.OrganizationID {
			return payroll.Run{}, payroll.ErrInvalidReference
		}
	}
	run.Items = append([]payroll.Item(nil), run.Items...)
	s.runs[run.ID] = run
	return copyRun(run), nil
}

func (s *Payroll) GetRun(_ context.Context, orgID, id string) (payroll.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok || run.OrganizationID != orgID {
		return payroll.Run{}, payroll.ErrRunNotFound
	}
	return copyRun(run), nil
}

func (s *Payroll) ListRuns(_ context.Context, orgID string, f payroll.RunFilter) ([]payroll.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]payroll.Run, 0)
	for _, run := range s.runs {
		if run.OrganizationID != orgID || (f.Before != "" && run.ID >= f.Before) {
			continue
		}
		run.Items = nil
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Payroll) UpdateRunStatus(_ context.Context, orgID, id string, from, to payroll.RunStatus, now time.Time) (payroll.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.OrganizationID != orgID {
		return payroll.Run{}, payroll.ErrRunNotFound
	}
	if run.Status != from {
		return payroll.Run{}, payroll.ErrInvalidTransition
	}
	run.Status = to
	run.UpdatedAt = now
	s.runs[id] = run
	return copyRun(run), nil
}

func copyRun(run payroll.Run) payroll.Run {
	run.Items = append([]payroll.Item(nil), run.Items...)
	return run
}
