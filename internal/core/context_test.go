package core

import (
	"context"
	"testing"
)

func TestIdentityContextRoundTrip(t *testing.T) {
	id := Identity{UserID: "u1", Roles: map[Role]bool{RoleAdministrator: true}, Department: "ops"}

	ctx := ContextWithIdentity(context.Background(), id)
	got := IdentityFromContext(ctx)

	if got.UserID != "u1" || !got.HasRole(RoleAdministrator) || got.Department != "ops" {
		t.Errorf("IdentityFromContext = %+v, want the stored identity", got)
	}
}

func TestIdentityFromContext_AbsentIsAnonymous(t *testing.T) {
	got := IdentityFromContext(context.Background())
	if got.UserID != "" || got.HasRole(RoleAdministrator) {
		t.Errorf("absent identity should be the read-only zero value, got %+v", got)
	}
}
