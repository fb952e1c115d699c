package core

// audit.go defines the audit trail written alongside every mutation. The
// trail is the system of record for "who changed what when"; point-in-time
// value history itself lives in the value lineage, so entries here carry the
// actor and the shape of the change, not full row snapshots.

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionDictionaryCreate AuditAction = "dictionary_create"
	ActionDictionaryEdit   AuditAction = "dictionary_edit"
	ActionOwnerAssign      AuditAction = "owner_assign"
	ActionAttributeCreate  AuditAction = "attribute_create"
	ActionPositionCreate   AuditAction = "position_create"
	ActionPositionDelete   AuditAction = "position_delete"
	ActionValueSet         AuditAction = "value_set"
	ActionImport           AuditAction = "import"
)

// AuditSeverity represents the weight of an audit entry.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// AuditEntry is a single audit log record.
type AuditEntry struct {
	ID           uuid.UUID     `json:"id"`
	Action       AuditAction   `json:"action"`
	Severity     AuditSeverity `json:"severity"`
	DictionaryID uuid.UUID     `json:"dictionaryId"`
	PositionID   uuid.UUID     `json:"positionId,omitempty"`
	Attribute    string        `json:"attribute,omitempty"`
	OldValue     string        `json:"oldValue,omitempty"`
	NewValue     string        `json:"newValue,omitempty"`
	UserID       string        `json:"userId,omitempty"`
	Department   string        `json:"department,omitempty"`
	RowsAffected int           `json:"rowsAffected,omitempty"`
	Detail       string        `json:"detail,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// AuditQuery filters ListAudit. Zero fields match everything.
type AuditQuery struct {
	DictionaryID uuid.UUID
	Action       AuditAction
	UserID       string
	Since        time.Time
	Limit        int
}

// determineSeverity returns the severity for an action.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionImport, ActionPositionDelete:
		return SeverityHigh
	case ActionDictionaryCreate, ActionDictionaryEdit, ActionOwnerAssign, ActionAttributeCreate:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// logAudit appends an audit entry for a completed write. Audit failures are
// logged but never fail the write they describe.
func (s *Service) logAudit(ctx context.Context, actor Identity, e AuditEntry) {
	e.ID = uuid.New()
	e.Severity = determineSeverity(e.Action)
	e.UserID = actor.UserID
	e.Department = actor.Department
	e.CreatedAt = time.Now().UTC()

	if err := s.store.AppendAudit(ctx, &e); err != nil {
		slog.Error("audit append failed",
			"action", e.Action,
			"dictionary_id", e.DictionaryID,
			"error", err,
		)
	}
}

// AuditLog returns audit entries matching the query. Restricted to the
// Security Administrator role.
func (s *Service) AuditLog(ctx context.Context, id Identity, q AuditQuery) ([]AuditEntry, error) {
	if !CanViewAudit(id) {
		return nil, ErrForbidden
	}
	return s.store.ListAudit(ctx, q)
}
