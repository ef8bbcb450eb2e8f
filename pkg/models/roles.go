package models

import (
	"fmt"
	"slices"
	"strings"
)

// Role represents the privilege level the backend reports for an account
type Role string

// These are the roles the backend hands out through the usertype field
const (
	RoleGuest      Role = "guest"      // not signed in
	RoleUser       Role = "user"       // students and venue customers
	RoleInstructor Role = "instructor" // teaching staff, can see rosters
	RoleAdmin      Role = "admin"      // full access to the admin dashboard
)

// RoleHierarchy defines the privilege level of each role.
// Higher numbers represent higher privileges.
var RoleHierarchy = map[Role]int{
	RoleGuest:      0,
	RoleUser:       20,
	RoleInstructor: 40,
	RoleAdmin:      70,
}

// roleAliases maps usertype spellings seen from older backend builds onto a Role.
var roleAliases = map[string]Role{
	"student":       RoleUser,
	"customer":      RoleUser,
	"normal":        RoleUser,
	"teacher":       RoleInstructor,
	"administrator": RoleAdmin,
	"superadmin":    RoleAdmin,
}

// ListRoles returns a slice of all existing roles from the RoleHierarchy with the lowest permission role first and the highest last.
func ListRoles() []string {
	type pair struct {
		role Role
		val  int
	}
	pairs := make([]pair, 0, len(RoleHierarchy))
	for r, v := range RoleHierarchy {
		pairs = append(pairs, pair{role: r, val: v})
	}

	slices.SortFunc(pairs, func(a, b pair) int {
		return a.val - b.val
	})

	result := make([]string, 0, len(pairs))
	for _, p := range pairs {
		result = append(result, p.role.String())
	}

	return result
}

// ParseRole converts a backend usertype into a Role. Unknown or empty values
// become RoleUser, since any account the backend returns is at least signed in.
func ParseRole(usertype string) Role {
	s := strings.ToLower(strings.TrimSpace(usertype))
	if r := Role(s); r.IsValid() {
		return r
	}
	if r, ok := roleAliases[s]; ok {
		return r
	}
	return RoleUser
}

// IsValid checks if the Role is one of the predefined valid roles.
func (r Role) IsValid() bool {
	_, exists := RoleHierarchy[r]
	return exists
}

// String implements the fmt.Stringer interface, providing a string representation of the Role.
func (r Role) String() string {
	return string(r)
}

// UnmarshalText and MarshalText methods
func (r *Role) UnmarshalText(text []byte) error {
	s := Role(text)
	if !s.IsValid() {
		return fmt.Errorf("invalid role: %s", text)
	}
	*r = s
	return nil
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r Role) AtLeast(min Role) bool {
	if r.IsValid() && min.IsValid() {
		return RoleHierarchy[r] >= RoleHierarchy[min]
	}
	return false
}

// IsElevated reports whether the role may enter the admin dashboard.
func (r Role) IsElevated() bool {
	return r.AtLeast(RoleAdmin)
}
