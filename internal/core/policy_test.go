package core

import "testing"

func admin() Identity {
	return Identity{UserID: "admin-1", Roles: map[Role]bool{RoleAdministrator: true}}
}

func secAdmin() Identity {
	return Identity{UserID: "sec-1", Roles: map[Role]bool{RoleSecurityAdmin: true}}
}

func user(id string) Identity {
	return Identity{UserID: id}
}

func TestPolicy_CreateAndAssign(t *testing.T) {
	if !CanCreateDictionary(admin()) {
		t.Error("administrator should create dictionaries")
	}
	if CanCreateDictionary(user("u1")) {
		t.Error("regular user should not create dictionaries")
	}
	if CanCreateDictionary(secAdmin()) {
		t.Error("security administrator alone should not create dictionaries")
	}

	if !CanAssignOwner(admin()) {
		t.Error("administrator should assign owners")
	}
	if CanAssignOwner(user("u1")) {
		t.Error("regular user should not assign owners")
	}
}

func TestPolicy_EditRequiresAdminOrOwner(t *testing.T) {
	owners := []Owner{{UserID: "u1"}, {UserID: "u2"}}

	tests := []struct {
		name string
		id   Identity
		want bool
	}{
		{"administrator", admin(), true},
		{"owner", user("u1"), true},
		{"other owner", user("u2"), true},
		{"non-owner", user("u3"), false},
		{"anonymous", Identity{}, false},
		{"security admin non-owner", secAdmin(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanEditDictionary(tt.id, owners); got != tt.want {
				t.Errorf("CanEditDictionary = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_AuditRestrictedToSecurityAdmin(t *testing.T) {
	if !CanViewAudit(secAdmin()) {
		t.Error("security administrator should view audit")
	}
	if CanViewAudit(admin()) {
		t.Error("plain administrator should not view audit")
	}
	if CanViewAudit(user("u1")) {
		t.Error("regular user should not view audit")
	}
}

func TestPolicy_Capabilities(t *testing.T) {
	owners := []Owner{{UserID: "u1"}}

	caps := Capabilities(user("u1"), owners)
	if caps[CapCreate] || caps[CapAssignOwner] || caps[CapViewAudit] {
		t.Error("owner without roles should only get edit")
	}
	if !caps[CapEdit] {
		t.Error("owner should get edit capability")
	}
}
