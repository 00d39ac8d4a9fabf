package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"payline.org/internal/org"
)

// Organizations is an in-process org.Store. Membership mutations hold one lock,
// so the owner count check and the write cannot interleave.
type Organizations struct {
	mu         sync.RWMutex
	orgs       map[string]org.Organization
	members    map[string]map[string]org.Membership
	identities *Identities
}

var _ org.Store = (*Organizations)(nil)

// NewOrganizations returns an empty store. identities, when set, fills member
// wallet addresses and must hold every user added as a member.
func NewOrganizations(identities *Identities) *Organizations {
	return &Organizations{
		orgs:       make(map[string]org.Organization),
		members:    make(map[string]map[string]org.Membership),
		identities: identities,
	}
}

func (s *Organizations) CreateOrganization(_ context.Context, o org.Organization, owner org.Membership) (org.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[o.ID] = o
	s.members[o.ID] = map[string]org.Membership{owner.UserID: owner}
	return o, nil
}

func (s *Organizations) GetOrganization(_ context.Context, id string) (org.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[id]
	if !ok {
		return org.Organization{}, org.ErrOrganizationNotFound
	}
	return o, nil
}

func (s *Organizations) UpdateOrganization(_ context.Context, id string, upd org.OrganizationUpdate, now time.Time) (org.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[id]
	if !ok {
		return org.Organization{}, org.ErrOrganizationNotFound
	}
	if upd.Name != nil {
		o.Name = *upd.Name
	}
	if upd.TreasuryAddress != nil {
		o.TreasuryAddress = *upd.TreasuryAddress
	}
	o.UpdatedAt = now
	s.orgs[id] = o
	return o, nil
}

func (s *Organizations) ListAffiliations(_ context.Context, userID string) ([]org.Affiliation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []org.Affiliation
	for orgID, members := range s.members {
		if m, ok := members[userID]; ok {
			out = append(out, org.Affiliation{Organization: s.orgs[orgID], Role: m.Role})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Organization.Name != out[j].Organization.Name {
			return out[i].Organization.Name < out[j].Organization.Name
		}
		return out[i].Organization.ID < out[j].Organization.ID
	})
	return out, nil
}

func (s *Organizations) GetMembership(_ context.Context, orgID, userID string) (org.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[orgID][userID]
	if !ok {
		return org.Membership{}, org.ErrMemberNotFound
	}
	return s.withWallet(m), nil
}

func (s *Organizations) ListMembers(_ context.Context, orgID string) ([]org.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.orgs[orgID]; !ok {
		return nil, org.ErrOrganizationNotFound
	}
	out := make([]org.Membership, 0, len(s.members[orgID]))
	for _, m := range s.members[orgID] {
		out = append(out, s.withWallet(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Organizations) AddMember(ctx context.Context, m org.Membership) (org.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.members[m.OrganizationID]
	if !ok {
		return org.Membership{}, org.ErrOrganizationNotFound
	}
	if _, dup := members[m.UserID]; dup {
		return org.Membership{}, org.ErrAlreadyMember
	}
	if s.identities != nil {
		if _, err := s.identities.GetIdentity(ctx, m.UserID); err != nil {
			return org.Membership{}, org.ErrUserNotFound
		}
	}
	members[m.UserID] = m
	return s.withWallet(m), nil
}

func (s *Organizations) ChangeMemberRole(_ context.Context, orgID, userID string, role org.Role, now time.Time) (org.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[orgID][userID]
	if !ok {
		return org.Membership{}, org.ErrMemberNotFound
	}
	if m.Role == org.RoleOwnerAdmin && role != org.RoleOwnerAdmin && s.ownerCount(orgID) == 1 {
		return org.Membership{}, org.ErrLastOwner
	}
	wasOwner := m.Role == org.RoleOwnerAdmin
	m.Role = role
	m.UpdatedAt = now
	s.members[orgID][userID] = m
	if wasOwner && role != org.RoleOwnerAdmin {
		s.reassignOwner(orgID, userID)
	}
	return s.withWallet(m), nil
}

func (s *Organizations) RemoveMember(_ context.Context, orgID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[orgID][userID]
	if !ok {
		return org.ErrMemberNotFound
	}
	if m.Role == org.RoleOwnerAdmin && s.ownerCount(orgID) == 1 {
		return org.ErrLastOwner
	}
	delete(s.members[orgID], userID)
	if m.Role == org.RoleOwnerAdmin {
		s.reassignOwner(orgID, userID)
	}
	return nil
}

// reassignOwner points owner_id at the longest-standing remaining owner when it
// still names former.
func (s *Organizations) reassignOwner(orgID, former string) {
	o, ok := s.orgs[orgID]
	if !ok || o.OwnerID != former {
		return
	}
	var next *org.Membership
	for _, m := range s.members[orgID] {
		if m.Role != org.RoleOwnerAdmin {
			continue
		}
		if next == nil || m.CreatedAt.Before(next.CreatedAt) ||
			(m.CreatedAt.Equal(next.CreatedAt) && m.UserID < next.UserID) {
			next = &m
		}
	}
	if next != nil {
		o.OwnerID = next.UserID
		s.orgs[orgID] = o
	}
}

func (s *Organizations) ownerCount(orgID string) int {
	n := 0
	for _, m := range s.members[orgID] {
		if m.Role == org.RoleOwnerAdmin {
			n++
		}
	}
	return n
}

func (s *Organizations) withWallet(m org.Membership) org.Membership {
	if s.identities == nil {
		return m
	}
	if identity, err := s.identities.GetIdentity(context.Background(), m.UserID); err == nil {
		m.WalletAddress = identity.WalletAddress
	}
	return m
}
