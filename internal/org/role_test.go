package org

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" owner_admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleOwnerAdmin, r)

	_, err = ParseRole("ADMIN")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRoleOrder(t *testing.T) {
	assert.True(t, RoleOwnerAdmin.Satisfies(RoleFinanceOperator))
	assert.True(t, RoleOwnerAdmin.Satisfies(RoleOwnerAdmin))
	assert.True(t, RoleFinanceOperator.Satisfies(RoleFinanceOperator))
	assert.False(t, RoleFinanceOperator.Satisfies(RoleOwnerAdmin))
	assert.False(t, Role("AUDITOR").Satisfies(RoleFinanceOperator))
	assert.False(t, RoleOwnerAdmin.Satisfies(Role("")))
}

func TestCanAssignIffRequestedNotAboveActor(t *testing.T) {
	for _, actor := range Roles() {
		for _, target := range Roles() {
			err := CanAssign(Membership{Role: actor}, target)
			if target.Rank() <= actor.Rank() {
				assert.NoError(t, err, "%s assigning %s", actor, target)
			} else {
				assert.True(t, errors.Is(err, ErrRoleEscalation), "%s assigning %s: %v", actor, target, err)
			}
		}
	}
	assert.ErrorIs(t, CanAssign(Membership{Role: RoleOwnerAdmin}, Role("ROOT")), ErrInvalidInput)
}
