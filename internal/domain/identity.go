package domain

import "strings"

const (
	RoleAdmin  = "admin"
	RoleSystem = "system"
)

// Identity is the authenticated caller of an engine operation.
type Identity struct {
	Subject string
	Roles   []string
}

// SystemIdentity is used by background tasks.
var SystemIdentity = Identity{Subject: "system", Roles: []string{RoleSystem}}

func (i Identity) IsZero() bool { return strings.TrimSpace(i.Subject) == "" }

func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// IsPrivileged reports whether the identity may act on any recipient.
func (i Identity) IsPrivileged() bool {
	return i.HasRole(RoleAdmin) || i.HasRole(RoleSystem)
}

// CanAccess reports whether the identity may read or act on notifications
// addressed to recipient.
func (i Identity) CanAccess(recipient string) bool {
	if i.IsZero() {
		return false
	}
	return i.IsPrivileged() || i.Subject == recipient
}
