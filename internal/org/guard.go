package org

import (
	"context"
	"errors"
	"fmt"

	"payline.org/internal/audit"
	"payline.org/internal/obs"
)

// Resolver maps (organization, user) to a membership.
type Resolver interface {
	GetOrganization(ctx context.Context, id string) (Organization, error)
	GetMembership(ctx context.Context, orgID, userID string) (Membership, error)
}

// Guard authorizes organization-scoped actions.
type Guard struct {
	resolver Resolver
}

func NewGuard(r Resolver) *Guard {
	return &Guard{resolver: r}
}

// Resolve returns the caller's membership or ErrMemberNotFound.
func (g *Guard) Resolve(ctx context.Context, orgID, userID string) (Membership, error) {
	return g.resolver.GetMembership(ctx, orgID, userID)
}

// Authorize checks, in order, that the organization exists, that userID is a
// member and that the member's role satisfies required.
func (g *Guard) Authorize(ctx context.Context, orgID, userID string, required Role) (Membership, error) {
	if _, err := g.resolver.GetOrganization(ctx, orgID); err != nil {
		if errors.Is(err, ErrOrganizationNotFound) {
			g.deny(ctx, "organization_not_found", orgID, userID, required, "")
		}
		return Membership{}, err
	}
	m, err := g.resolver.GetMembership(ctx, orgID, userID)
	if errors.Is(err, ErrMemberNotFound) {
		g.deny(ctx, "not_a_member", orgID, userID, required, "")
		return Membership{}, ErrNotAMember
	}
	if err != nil {
		return Membership{}, err
	}
	if !m.Role.Satisfies(required) {
		g.deny(ctx, "insufficient_role", orgID, userID, required, m.Role)
		return Membership{}, fmt.Errorf("%w: %s required, caller is %s", ErrInsufficientRole, required, m.Role)
	}
	return m, nil
}

// PreventEscalation rejects assigning requested when it ranks above actor's role.
func (g *Guard) PreventEscalation(ctx context.Context, actor Membership, requested Role) error {
	if err := CanAssign(actor, requested); err != nil {
		g.deny(ctx, "role_escalation", actor.OrganizationID, actor.UserID, requested, actor.Role)
		return err
	}
	return nil
}

// CanAssign succeeds iff requested <= actor.Role.
func CanAssign(actor Membership, requested Role) error {
	if !requested.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, requested)
	}
	if !actor.Role.Satisfies(requested) {
		return fmt.Errorf("%w: %s cannot assign %s", ErrRoleEscalation, actor.Role, requested)
	}
	return nil
}

func (g *Guard) deny(ctx context.Context, reason, orgID, userID string, required, actual Role) {
	obs.AuthorizationDenials.WithLabelValues(reason).Inc()
	_ = audit.LogEvent(ctx, "authz.denied", map[string]any{
		"reason":          reason,
		"actor_id":        userID,
		"organization_id": orgID,
		"required_role":   string(required),
		"actual_role":     string(actual),
	})
}
