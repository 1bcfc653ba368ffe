package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func asSet(perms []string) map[string]bool {
	set := make(map[string]bool, len(perms))
	for _, p := range perms {
		set[p] = true
	}
	return set
}

func TestRoleHierarchy(t *testing.T) {
	owner := asSet(PermissionsFor(RoleOwner))
	admin := asSet(PermissionsFor(RoleAdmin))
	member := asSet(PermissionsFor(RoleMember))
	viewer := asSet(PermissionsFor(RoleViewer))

	for p := range admin {
		assert.True(t, owner[p], "owner missing admin permission %s", p)
	}
	for p := range member {
		assert.True(t, admin[p], "admin missing member permission %s", p)
	}
	for p := range viewer {
		assert.True(t, member[p], "member missing viewer permission %s", p)
	}
}

func TestBillingManageIsOwnerOnly(t *testing.T) {
	assert.True(t, HasPermission(RoleOwner, PermBillingManage))
	assert.False(t, HasPermission(RoleAdmin, PermBillingManage))
	assert.False(t, HasPermission(RoleMember, PermBillingManage))
	assert.False(t, HasPermission(RoleViewer, PermBillingManage))
}

func TestUnknownRoleFallsBackToViewOnly(t *testing.T) {
	perms := PermissionsFor("intern")
	assert.Equal(t, []string{PermWorkflowView}, perms)
}

func TestMemberPermissions(t *testing.T) {
	member := asSet(PermissionsFor(RoleMember))
	assert.True(t, member[PermWorkflowCreate])
	assert.True(t, member[PermConnectionsWrite])
	assert.True(t, member[PermMetadataRead])
	assert.False(t, member[PermWorkflowDelete])
	assert.False(t, member[PermOrgManage])
}

func TestPermissionsForReturnsCopy(t *testing.T) {
	perms := PermissionsFor(RoleViewer)
	perms[0] = "mutated"
	assert.Equal(t, PermWorkflowView, PermissionsFor(RoleViewer)[0])
}
