package core

// store.go defines the persistence contract of the temporal entry store.
// Two implementations live in internal/store: a Postgres one backed by
// pgx/v5 and an in-memory one used by tests and embedded deployments.
//
// The store works on encoded values and raw windows; schema validation,
// authorization and caching happen above it in Service. Implementations
// must serialize writes to the same (position, attribute) pair: of two
// concurrent writes with intersecting windows one must fail
// ErrOverlappingValidity.

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence boundary of the core.
type Store interface {
	// Dictionaries.
	CreateDictionary(ctx context.Context, d *Dictionary) error
	GetDictionary(ctx context.Context, id uuid.UUID) (*Dictionary, error)
	GetDictionaryByCode(ctx context.Context, code string) (*Dictionary, error)
	ListDictionaries(ctx context.Context) ([]Dictionary, error)
	UpdateDictionary(ctx context.Context, d *Dictionary) error

	// Attribute definitions, returned in definition order.
	CreateAttribute(ctx context.Context, a *AttributeDefinition) error
	ListAttributes(ctx context.Context, dictionaryID uuid.UUID) ([]AttributeDefinition, error)

	// Positions.
	CreatePosition(ctx context.Context, p *Position) error
	GetPosition(ctx context.Context, id uuid.UUID) (*Position, error)
	ListPositionIDs(ctx context.Context, dictionaryID uuid.UUID) ([]uuid.UUID, error)
	DeletePosition(ctx context.Context, id uuid.UUID) error

	// Values. InsertValue is strict: any window intersection for the pair
	// fails ErrOverlappingValidity. ReplaceValue is the update algorithm:
	// it closes the value effective at v.StartDate (finish = start minus one
	// day) and inserts v, still failing ErrOverlappingValidity if v
	// intersects any other value of the pair.
	InsertValue(ctx context.Context, v *AttributeValue) error
	ReplaceValue(ctx context.Context, v *AttributeValue) error
	ListValues(ctx context.Context, positionID, attributeID uuid.UUID) ([]AttributeValue, error)
	EffectiveValues(ctx context.Context, positionID uuid.UUID, asOf time.Time) ([]AttributeValue, error)
	FindPositionByValue(ctx context.Context, dictionaryID, attributeID uuid.UUID, encoded string, asOf time.Time) (uuid.UUID, bool, error)

	// Ownership. AddOwner is idempotent per (dictionary, user) pair.
	AddOwner(ctx context.Context, o Owner) error
	ListOwners(ctx context.Context, dictionaryID uuid.UUID) ([]Owner, error)

	// Audit log.
	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, q AuditQuery) ([]AuditEntry, error)
}

// FilterOp is a comparison operator for position filters.
type FilterOp string

const (
	FilterEquals FilterOp = "eq"
	FilterPrefix FilterOp = "prefix"
)

// Filter restricts ListPositions to positions whose effective value for an
// attribute matches. Filters combine with AND logic.
type Filter struct {
	Attr  string // attribute alt name
	Op    FilterOp
	Value string
}

// PositionRow is one entry of a resolved value list: a position and its
// decoded effective values keyed by attribute alt name. Attributes with no
// effective value at the as-of date are omitted.
type PositionRow struct {
	PositionID uuid.UUID
	Values     map[string]any
}

// PositionSeq is a lazy, finite sequence of position rows ordered by
// position id. The sequence is restartable by requesting a new one.
//
//	seq, err := svc.ListPositions(ctx, dictID, asOf, filters)
//	for seq.Next() {
//	    row := seq.Row()
//	    ...
//	}
//	if err := seq.Err(); err != nil { ... }
type PositionSeq struct {
	next    func() (*PositionRow, error)
	current *PositionRow
	err     error
	done    bool
}

// Next advances the sequence. It returns false when exhausted or on error;
// check Err after the loop.
func (s *PositionSeq) Next() bool {
	if s.done || s.err != nil {
		return false
	}
	row, err := s.next()
	if err != nil {
		s.err = err
		s.done = true
		return false
	}
	if row == nil {
		s.done = true
		return false
	}
	s.current = row
	return true
}

// Row returns the current position row. Valid only after Next returned true.
func (s *PositionSeq) Row() PositionRow {
	return *s.current
}

// Err returns the first error the sequence hit, if any.
func (s *PositionSeq) Err() error {
	return s.err
}

// Collect drains the sequence into a slice.
func (s *PositionSeq) Collect() ([]PositionRow, error) {
	var rows []PositionRow
	for s.Next() {
		rows = append(rows, s.Row())
	}
	return rows, s.Err()
}

// seqFromSlice wraps already-materialized rows (the cache hit path).
func seqFromSlice(rows []PositionRow) *PositionSeq {
	i := 0
	return &PositionSeq{next: func() (*PositionRow, error) {
		if i >= len(rows) {
			return nil, nil
		}
		row := rows[i]
		i++
		return &row, nil
	}}
}
