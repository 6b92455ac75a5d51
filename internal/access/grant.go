// Package access resolves request credentials into board grants.
package access

import (
	"fmt"
	"time"

	"corkboard/internal/rbac"
)

// Permission is ordered: read < comment < edit.
type Permission int

const (
	PermNone Permission = iota
	PermRead
	PermComment
	PermEdit
)

func (p Permission) String() string {
	switch p {
	case PermRead:
		return "read"
	case PermComment:
		return "comment"
	case PermEdit:
		return "edit"
	default:
		return "none"
	}
}

func ParsePermission(value string) (Permission, error) {
	switch value {
	case "read":
		return PermRead, nil
	case "comment":
		return PermComment, nil
	case "edit":
		return PermEdit, nil
	default:
		return PermNone, fmt.Errorf("unknown permission %q", value)
	}
}

// RolePermission maps a team role to the board permission it carries.
func RolePermission(role rbac.Role) Permission {
	switch {
	case rbac.Can(role, rbac.ActionEdit):
		return PermEdit
	case rbac.Can(role, rbac.ActionComment):
		return PermComment
	case rbac.Can(role, rbac.ActionRead):
		return PermRead
	default:
		return PermNone
	}
}

// Grant is the outcome of a successful authorization. It is either an
// AccountGrant or a ShareGrant.
type Grant interface {
	Permission() Permission
	Board() string
	Team() string
	// Subject is the acting user id, or "share:<id>" for anonymous link access.
	Subject() string
	Expired(now time.Time) bool
	sealed()
}

// AccountGrant is access through team membership.
type AccountGrant struct {
	UserID   string
	UserName string
	BoardID  string
	TeamID   string
	Role     rbac.Role
}

func (g AccountGrant) Permission() Permission { return RolePermission(g.Role) }
func (g AccountGrant) Board() string          { return g.BoardID }
func (g AccountGrant) Team() string           { return g.TeamID }
func (g AccountGrant) Subject() string        { return g.UserID }
func (g AccountGrant) Expired(time.Time) bool { return false }
func (AccountGrant) sealed()                  {}

// ShareGrant is access through a link share or a user-bound share. UserID is
// empty for anonymous link access.
type ShareGrant struct {
	ShareID   string
	BoardID   string
	TeamID    string
	UserID    string
	UserName  string
	Perm      Permission
	ExpiresAt *time.Time
}

func (g ShareGrant) Permission() Permission { return g.Perm }
func (g ShareGrant) Board() string          { return g.BoardID }
func (g ShareGrant) Team() string           { return g.TeamID }
func (ShareGrant) sealed()                  {}

func (g ShareGrant) Subject() string {
	if g.UserID != "" {
		return g.UserID
	}
	return "share:" + g.ShareID
}

func (g ShareGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// UserOf returns the account behind a grant, if any.
func UserOf(grant Grant) (id, name string, ok bool) {
	switch g := grant.(type) {
	case AccountGrant:
		return g.UserID, g.UserName, true
	case ShareGrant:
		return g.UserID, g.UserName, g.UserID != ""
	}
	return "", "", false
}

// ShareOf returns the share id a grant was issued through, if any.
func ShareOf(grant Grant) (string, bool) {
	if g, ok := grant.(ShareGrant); ok {
		return g.ShareID, true
	}
	return "", false
}
