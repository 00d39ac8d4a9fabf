package org

import (
	"fmt"
	"strings"
)

// Role is a closed set of organization roles with a total order.
type Role string

const (
	RoleFinanceOperator Role = "FINANCE_OPERATOR"
	RoleOwnerAdmin      Role = "OWNER_ADMIN"
)

var roleRank = map[Role]int{
	RoleFinanceOperator: 1,
	RoleOwnerAdmin:      2,
}

// Roles lists every role from lowest to highest.
func Roles() []Role { return []Role{RoleFinanceOperator, RoleOwnerAdmin} }

// ParseRole accepts role names case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Rank is 0 for unknown roles, which therefore satisfy nothing.
func (r Role) Rank() int { return roleRank[r] }

// Satisfies reports whether r is permitted to perform actions requiring required.
func (r Role) Satisfies(required Role) bool {
	return r.Valid() && required.Valid() && r.Rank() >= required.Rank()
}

func (r Role) String() string { return string(r) }
