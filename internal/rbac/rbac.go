package rbac

// Role constants
const (
	RoleViewer   = "viewer"
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

// Module constants
const (
	ModuleApplications = "applications"
	ModuleStories      = "stories"
)

// Permission constants
const (
	PermView         = "view"
	PermEdit         = "edit"
	PermManageAdmins = "manage_admins"
	PermViewAudit    = "view_audit"
)

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleViewer: {
		PermView,
		// Viewer CANNOT: PermEdit, even with a module override
	},
	RoleReviewer: {
		PermView, PermEdit,
	},
	RoleAdmin: {
		PermView, PermEdit, PermManageAdmins, PermViewAudit,
	},
}

var roleRank = map[string]int{
	RoleViewer:   1,
	RoleReviewer: 2,
	RoleAdmin:    3,
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

func IsValidRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}

// IsElevation reports whether moving from one role to another grants more
// capability.
func IsElevation(from, to string) bool {
	return roleRank[to] > roleRank[from]
}

// CanEdit resolves edit capability on a module. A module override, when
// present, replaces the role default for reviewers and admins.
func CanEdit(role string, override *bool) bool {
	if !HasPermission(role, PermEdit) {
		return false
	}
	if override != nil {
		return *override
	}
	return true
}
