// Package policy maps user roles to permissions.
//
// Table is built once at startup and is read only afterwards, so it is safe
// for concurrent use without locking.
package policy

import (
	"errors"
	"fmt"

	"github.com/nkiryanov/authcore/internal/models"
)

const (
	PermSessionsRevoke = "sessions:revoke"
	PermUsersDisable   = "users:disable"
	PermProfileRead    = "profile:read"
)

type Table struct {
	roles map[string]map[string]struct{}
}

// NewTable builds table from role to permission names
func NewTable(roles map[string][]string) (*Table, error) {
	t := &Table{roles: make(map[string]map[string]struct{}, len(roles))}

	for role, perms := range roles {
		if role == "" {
			return nil, errors.New("role name empty")
		}

		set := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			if p == "" {
				return nil, fmt.Errorf("role %q: empty permission", role)
			}
			set[p] = struct{}{}
		}
		t.roles[role] = set
	}

	return t, nil
}

// DefaultTable: users read own profile, admins manage sessions and accounts
func DefaultTable() *Table {
	t, err := NewTable(map[string][]string{
		models.RoleUser:  {PermProfileRead},
		models.RoleAdmin: {PermProfileRead, PermSessionsRevoke, PermUsersDisable},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// Allows reports whether role has permission. Unknown role has no permissions
func (t *Table) Allows(role string, perm string) bool {
	perms, ok := t.roles[role]
	if !ok {
		return false
	}
	_, ok = perms[perm]
	return ok
}
