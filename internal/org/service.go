package org

import (
	"context"
	"fmt"
	"strings"
	"time"

	"payline.org/internal/audit"
	"payline.org/internal/ids"
	"payline.org/internal/wallet"
)

const maxNameLength = 200

// Service manages organizations and memberships on behalf of an authenticated actor.
type Service struct {
	store Store
	guard *Guard
	now   func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, guard: NewGuard(store), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Guard exposes the authorization guard for other organization-scoped services.
func (s *Service) Guard() *Guard { return s.guard }

func (s *Service) clock() time.Time { return s.now().UTC() }

// CreateOrganization creates an organization whose creator becomes its OWNER_ADMIN.
func (s *Service) CreateOrganization(ctx context.Context, actorID, name, treasury string) (Organization, error) {
	name, err := validateName(name)
	if err != nil {
		return Organization{}, err
	}
	treasury, err = validateTreasury(treasury)
	if err != nil {
		return Organization{}, err
	}
	now := s.clock()
	o := Organization{
		ID:              ids.NewAt(now),
		Name:            name,
		OwnerID:         actorID,
		TreasuryAddress: treasury,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	owner := Membership{
		OrganizationID: o.ID,
		UserID:         actorID,
		Role:           RoleOwnerAdmin,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	created, err := s.store.CreateOrganization(ctx, o, owner)
	if err != nil {
		return Organization{}, err
	}
	_ = audit.LogEvent(ctx, "org.create", map[string]any{"organization_id": created.ID, "name": created.Name})
	return created, nil
}

// GetOrganization returns the organization and the caller's membership.
func (s *Service) GetOrganization(ctx context.Context, actorID, orgID string) (Organization, Membership, error) {
	m, err := s.guard.Authorize(ctx, orgID, actorID, RoleFinanceOperator)
	if err != nil {
		return Organization{}, Membership{}, err
	}
	o, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return Organization{}, Membership{}, err
	}
	return o, m, nil
}

// UpdateOrganization changes name and/or treasury address. OWNER_ADMIN only.
func (s *Service) UpdateOrganization(ctx context.Context, actorID, orgID string, upd OrganizationUpdate) (Organization, error) {
	if _, err := s.guard.Authorize(ctx, orgID, actorID, RoleOwnerAdmin); err != nil {
		return Organization{}, err
	}
	if upd.Name == nil && upd.TreasuryAddress == nil {
		return Organization{}, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if upd.Name != nil {
		name, err := validateName(*upd.Name)
		if err != nil {
			return Organization{}, err
		}
		upd.Name = &name
	}
	if upd.TreasuryAddress != nil {
		treasury, err := validateTreasury(*upd.TreasuryAddress)
		if err != nil {
			return Organization{}, err
		}
		upd.TreasuryAddress = &treasury
	}
	o, err := s.store.UpdateOrganization(ctx, orgID, upd, s.clock())
	if err != nil {
		return Organization{}, err
	}
	_ = audit.LogEvent(ctx, "org.update", map[string]any{"organization_id": orgID})
	return o, nil
}

// ListOrganizations returns every organization the actor belongs to.
func (s *Service) ListOrganizations(ctx context.Context, actorID string) ([]Affiliation, error) {
	return s.store.ListAffiliations(ctx, actorID)
}

// ListMembers lists memberships of orgID.
func (s *Service) ListMembers(ctx context.Context, actorID, orgID string) ([]Membership, error) {
	if _, err := s.guard.Authorize(ctx, orgID, actorID, RoleFinanceOperator); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, orgID)
}

// AddMember grants role to targetID. The actor must be OWNER_ADMIN and may not
// grant a role above their own.
func (s *Service) AddMember(ctx context.Context, actorID, orgID, targetID string, role Role) (Membership, error) {
	actor, err := s.guard.Authorize(ctx, orgID, actorID, RoleOwnerAdmin)
	if err != nil {
		return Membership{}, err
	}
	if err := s.guard.PreventEscalation(ctx, actor, role); err != nil {
		return Membership{}, err
	}
	if strings.TrimSpace(targetID) == "" {
		return Membership{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	now := s.clock()
	m, err := s.store.AddMember(ctx, Membership{
		OrganizationID: orgID,
		UserID:         targetID,
		Role:           role,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return Membership{}, err
	}
	_ = audit.LogEvent(ctx, "org.member.add", map[string]any{
		"organization_id": orgID,
		"member_id":       targetID,
		"role":            string(role),
	})
	return m, nil
}

// ChangeRole moves targetID to role. Demoting the sole OWNER_ADMIN fails ErrLastOwner.
func (s *Service) ChangeRole(ctx context.Context, actorID, orgID, targetID string, role Role) (Membership, error) {
	actor, err := s.guard.Authorize(ctx, orgID, actorID, RoleOwnerAdmin)
	if err != nil {
		return Membership{}, err
	}
	if err := s.guard.PreventEscalation(ctx, actor, role); err != nil {
		return Membership{}, err
	}
	target, err := s.store.GetMembership(ctx, orgID, targetID)
	if err != nil {
		return Membership{}, err
	}
	// the target's current role must also be within the actor's reach
	if err := s.guard.PreventEscalation(ctx, actor, target.Role); err != nil {
		return Membership{}, err
	}
	m, err := s.store.ChangeMemberRole(ctx, orgID, targetID, role, s.clock())
	if err != nil {
		return Membership{}, err
	}
	_ = audit.LogEvent(ctx, "org.member.role_change", map[string]any{
		"organization_id": orgID,
		"member_id":       targetID,
		"from_role":       string(target.Role),
		"to_role":         string(role),
	})
	return m, nil
}

// RemoveMember deletes targetID's membership. Removing the sole OWNER_ADMIN fails ErrLastOwner.
func (s *Service) RemoveMember(ctx context.Context, actorID, orgID, targetID string) error {
	if _, err := s.guard.Authorize(ctx, orgID, actorID, RoleOwnerAdmin); err != nil {
		return err
	}
	if err := s.store.RemoveMember(ctx, orgID, targetID); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "org.member.remove", map[string]any{
		"organization_id": orgID,
		"member_id":       targetID,
	})
	return nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(name) > maxNameLength {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalidInput, maxNameLength)
	}
	return name, nil
}

func validateTreasury(addr string) (string, error) {
	if strings.TrimSpace(addr) == "" {
		return "", nil
	}
	norm, err := wallet.NormalizeAddress(addr)
	if err != nil {
		return "", fmt.Errorf("%w: treasury_address: %v", ErrInvalidInput, err)
	}
	return norm, nil
}
