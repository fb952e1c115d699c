package core

// policy.go is the single decision surface for write access. All checks are
// pure functions over the supplied identity and ownership snapshot; no I/O.
//
// Rules: only a System Administrator creates dictionaries or assigns owners;
// a dictionary is edited by an administrator or any of its owners; the audit
// log is visible to the Security Administrator role only. Regular users may
// read any dictionary but never create, edit, or own one.

// Capability names one thing an identity may do with a dictionary.
type Capability string

const (
	CapCreate      Capability = "create"
	CapEdit        Capability = "edit"
	CapAssignOwner Capability = "assign_owner"
	CapViewAudit   Capability = "view_audit"
)

// CanCreateDictionary reports whether the identity may create dictionaries.
func CanCreateDictionary(id Identity) bool {
	return id.HasRole(RoleAdministrator)
}

// CanEditDictionary reports whether the identity may edit a dictionary with
// the given owner set. Owners are the snapshot for that one dictionary.
func CanEditDictionary(id Identity, owners []Owner) bool {
	if id.HasRole(RoleAdministrator) {
		return true
	}
	for _, o := range owners {
		if o.UserID == id.UserID {
			return true
		}
	}
	return false
}

// CanAssignOwner reports whether the identity may change a dictionary's
// owner set.
func CanAssignOwner(id Identity) bool {
	return id.HasRole(RoleAdministrator)
}

// CanViewAudit reports whether the identity may read the audit log.
func CanViewAudit(id Identity) bool {
	return id.HasRole(RoleSecurityAdmin)
}

// Capabilities returns the full capability set for an identity against one
// dictionary's owner snapshot. Handy for UIs that grey out actions.
func Capabilities(id Identity, owners []Owner) map[Capability]bool {
	return map[Capability]bool{
		CapCreate:      CanCreateDictionary(id),
		CapEdit:        CanEditDictionary(id, owners),
		CapAssignOwner: CanAssignOwner(id),
		CapViewAudit:   CanViewAudit(id),
	}
}
