// Package rbac maps team membership roles to the actions they allow. Roles
// are strictly ordered; each action names the least role that may perform it.
package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionEdit    Action = "edit"
	// ActionManage covers shares, team membership and board deletion.
	ActionManage Action = "manage"
)

var rank = map[Role]int{
	RoleViewer:    1,
	RoleCommenter: 2,
	RoleEditor:    3,
	RoleAdmin:     4,
}

var minimum = map[Action]Role{
	ActionRead:    RoleViewer,
	ActionComment: RoleCommenter,
	ActionEdit:    RoleEditor,
	ActionManage:  RoleAdmin,
}

// Can reports whether role may perform action. Unknown roles and unknown
// actions are always refused.
func Can(role Role, action Action) bool {
	have, ok := rank[role]
	if !ok {
		return false
	}
	need, ok := minimum[action]
	if !ok {
		return false
	}
	return have >= rank[need]
}

// Normalize maps unknown role names to the viewer role.
func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleViewer
}

// Valid reports whether role names a known role.
func Valid(role string) bool {
	_, ok := rank[Role(role)]
	return ok
}
