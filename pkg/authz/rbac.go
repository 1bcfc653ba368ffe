// Package authz resolves caller identity and organization context from
// bearer tokens and enforces role-based permissions on inbound routes.
package authz

// Roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
	RoleViewer = "viewer"
)

// Permissions. The set is closed; routes reference these constants.
const (
	PermWorkflowCreate      = "workflow:create"
	PermWorkflowView        = "workflow:view"
	PermWorkflowEdit        = "workflow:edit"
	PermWorkflowDelete      = "workflow:delete"
	PermWorkflowDeploy      = "workflow:deploy"
	PermWorkflowCollaborate = "workflow:collaborate"
	PermConnectionsRead     = "connections:read"
	PermConnectionsWrite    = "connections:write"
	PermMetadataRead        = "integration:metadata:read"
	PermOrgManage           = "organization:manage"
	PermOrgViewUsage        = "organization:view_usage"
	PermBillingManage       = "billing:manage"
)

var memberPermissions = []string{
	PermWorkflowCreate,
	PermWorkflowView,
	PermWorkflowEdit,
	PermWorkflowDeploy,
	PermWorkflowCollaborate,
	PermConnectionsRead,
	PermConnectionsWrite,
	PermMetadataRead,
	PermOrgViewUsage,
}

var adminPermissions = append([]string{
	PermWorkflowDelete,
	PermOrgManage,
}, memberPermissions...)

var ownerPermissions = append([]string{
	PermBillingManage,
}, adminPermissions...)

var viewerPermissions = []string{
	PermWorkflowView,
	PermOrgViewUsage,
	PermMetadataRead,
}

var rolePermissions = map[string][]string{
	RoleOwner:  ownerPermissions,
	RoleAdmin:  adminPermissions,
	RoleMember: memberPermissions,
	RoleViewer: viewerPermissions,
}

// PermissionsFor returns the permission set for a role. Unknown roles
// fall back to view-only access.
func PermissionsFor(role string) []string {
	perms, ok := rolePermissions[role]
	if !ok {
		return []string{PermWorkflowView}
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// HasPermission reports whether the role grants the permission.
func HasPermission(role, permission string) bool {
	for _, p := range PermissionsFor(role) {
		if p == permission {
			return true
		}
	}
	return false
}
