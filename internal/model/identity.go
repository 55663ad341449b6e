package model

import "strings"

// Role is the storefront role carried in the token's "role" claim.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleCustomer Role = "CUSTOMER"
)

// ParseRole normalises a role claim. The second result is false for values
// outside the known set.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleCustomer:
		return RoleCustomer, true
	}
	return "", false
}

// Identity is the authenticated visitor as known to the session.
//
// The four fields are either all set (authenticated) or all empty
// (anonymous); identity.Store never produces a partial value.
type Identity struct {
	Token       string `json:"-"`
	Role        Role   `json:"role,omitempty"`
	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"name,omitempty"`
}

// Authenticated reports whether the identity carries a token.
func (i Identity) Authenticated() bool { return i.Token != "" }

// IsAdmin reports whether the identity holds the ADMIN role.
func (i Identity) IsAdmin() bool { return i.Authenticated() && i.Role == RoleAdmin }

// Complete reports whether every field is populated.
func (i Identity) Complete() bool {
	return i.Token != "" && i.Role != "" && i.UserID != "" && i.DisplayName != ""
}

// Empty reports whether every field is unset.
func (i Identity) Empty() bool { return i == Identity{} }
