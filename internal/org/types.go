package org

import (
	"context"
	"errors"
	"time"
)

var (
	ErrOrganizationNotFound = errors.New("org: organization not found")
	ErrNotAMember           = errors.New("org: not a member of organization")
	ErrInsufficientRole     = errors.New("org: insufficient role")
	ErrRoleEscalation       = errors.New("org: cannot assign a role above your own")
	ErrMemberNotFound       = errors.New("org: member not found")
	ErrAlreadyMember        = errors.New("org: user is already a member")
	ErrUserNotFound         = errors.New("org: user not found")
	ErrLastOwner            = errors.New("org: organization must keep at least one owner admin")
	ErrInvalidInput         = errors.New("org: invalid input")
)

// IsForbidden reports errors that deny an authenticated caller.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrNotAMember) || errors.Is(err, ErrInsufficientRole) || errors.Is(err, ErrRoleEscalation)
}

// Organization is a payroll tenant. OwnerID always names a current OWNER_ADMIN;
// it starts as the creator and moves when that member stops being an owner.
type Organization struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	OwnerID         string    `json:"owner_id"`
	TreasuryAddress string    `json:"treasury_address,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// OrganizationUpdate carries optional field changes.
type OrganizationUpdate struct {
	Name            *string
	TreasuryAddress *string
}

// Membership is the sole source of authorization truth for (organization, user).
type Membership struct {
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	WalletAddress  string    `json:"wallet_address,omitempty"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Affiliation is an organization seen from one member.
type Affiliation struct {
	Organization Organization `json:"organization"`
	Role         Role         `json:"role"`
}

// Store persists organizations and memberships. Mutations that could remove
// the last OWNER_ADMIN must check and write atomically, failing ErrLastOwner.
type Store interface {
	CreateOrganization(ctx context.Context, o Organization, owner Membership) (Organization, error)
	GetOrganization(ctx context.Context, id string) (Organization, error)
	UpdateOrganization(ctx context.Context, id string, upd OrganizationUpdate, now time.Time) (Organization, error)
	ListAffiliations(ctx context.Context, userID string) ([]Affiliation, error)

	GetMembership(ctx context.Context, orgID, userID string) (Membership, error)
	ListMembers(ctx context.Context, orgID string) ([]Membership, error)
	AddMember(ctx context.Context, m Membership) (Membership, error)
	ChangeMemberRole(ctx context.Context, orgID, userID string, role Role, now time.Time) (Membership, error)
	RemoveMember(ctx context.Context, orgID, userID string) error
}
