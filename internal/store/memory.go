// Package store provides the persistence backends for the temporal
// dictionary core: a Postgres implementation backed by pgx/v5 and an
// in-memory implementation used by tests and embedded deployments. Both
// satisfy core.Store and enforce the same no-overlap invariant on value
// windows.
package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/refdata/dictstore/internal/core"
)

type pairKey struct {
	positionID  uuid.UUID
	attributeID uuid.UUID
}

// Memory is an in-memory core.Store. Value lineages are kept as an arena of
// rows per (position, attribute), ordered by window start. Writes to the
// same position are serialized by a per-position mutex; the structural maps
// are guarded separately so unrelated positions proceed in parallel.
type Memory struct {
	mu        sync.RWMutex
	dicts     map[uuid.UUID]core.Dictionary
	byCode    map[string]uuid.UUID
	attrs     map[uuid.UUID][]core.AttributeDefinition
	positions map[uuid.UUID]core.Position
	values    map[pairKey][]core.AttributeValue
	posAttrs  map[uuid.UUID]map[uuid.UUID]struct{} // position -> attribute ids with values
	owners    map[uuid.UUID]map[string]struct{}
	audit     []core.AuditEntry

	lockMu   sync.Mutex
	posLocks map[uuid.UUID]*sync.Mutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		dicts:     make(map[uuid.UUID]core.Dictionary),
		byCode:    make(map[string]uuid.UUID),
		attrs:     make(map[uuid.UUID][]core.AttributeDefinition),
		positions: make(map[uuid.UUID]core.Position),
		values:    make(map[pairKey][]core.AttributeValue),
		posAttrs:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
		owners:    make(map[uuid.UUID]map[string]struct{}),
		posLocks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

// positionLock returns the mutex serializing writes to one position.
func (m *Memory) positionLock(positionID uuid.UUID) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	l, ok := m.posLocks[positionID]
	if !ok {
		l = &sync.Mutex{}
		m.posLocks[positionID] = l
	}
	return l
}

// Dictionaries

func (m *Memory) CreateDictionary(ctx context.Context, d *core.Dictionary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	code := strings.ToUpper(d.Code)
	if _, exists := m.byCode[code]; exists {
		return fmt.Errorf("%w: %s", core.ErrDuplicateCode, d.Code)
	}
	m.dicts[d.ID] = *d
	m.byCode[code] = d.ID
	return nil
}

func (m *Memory) GetDictionary(ctx context.Context, id uuid.UUID) (*core.Dictionary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.dicts[id]
	if !ok {
		return nil, fmt.Errorf("dictionary %s: %w", id, core.ErrNotFound)
	}
	return &d, nil
}

func (m *Memory) GetDictionaryByCode(ctx context.Context, code string) (*core.Dictionary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byCode[strings.ToUpper(code)]
	if !ok {
		return nil, fmt.Errorf("dictionary code %s: %w", code, core.ErrNotFound)
	}
	d := m.dicts[id]
	return &d, nil
}

func (m *Memory) ListDictionaries(ctx context.Context) ([]core.Dictionary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]core.Dictionary, 0, len(m.dicts))
	for _, d := range m.dicts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpdateDictionary(ctx context.Context, d *core.Dictionary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.dicts[d.ID]
	if !ok {
		return fmt.Errorf("dictionary %s: %w", d.ID, core.ErrNotFound)
	}
	if !strings.EqualFold(old.Code, d.Code) {
		delete(m.byCode, strings.ToUpper(old.Code))
		m.byCode[strings.ToUpper(d.Code)] = d.ID
	}
	m.dicts[d.ID] = *d
	return nil
}

// Attribute definitions

func (m *Memory) CreateAttribute(ctx context.Context, a *core.AttributeDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dicts[a.DictionaryID]; !ok {
		return fmt.Errorf("dictionary %s: %w", a.DictionaryID, core.ErrNotFound)
	}
	for _, existing := range m.attrs[a.DictionaryID] {
		if strings.EqualFold(existing.AltName, a.AltName) {
			return fmt.Errorf("attribute %s already defined", a.AltName)
		}
	}
	m.attrs[a.DictionaryID] = append(m.attrs[a.DictionaryID], *a)
	return nil
}

func (m *Memory) ListAttributes(ctx context.Context, dictionaryID uuid.UUID) ([]core.AttributeDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	defs := make([]core.AttributeDefinition, len(m.attrs[dictionaryID]))
	copy(defs, m.attrs[dictionaryID])
	sort.Slice(defs, func(i, j int) bool { return defs[i].Ordinal < defs[j].Ordinal })
	return defs, nil
}

// Positions

func (m *Memory) CreatePosition(ctx context.Context, p *core.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dicts[p.DictionaryID]; !ok {
		return fmt.Errorf("dictionary %s: %w", p.DictionaryID, core.ErrNotFound)
	}
	m.positions[p.ID] = *p
	return nil
}

func (m *Memory) GetPosition(ctx context.Context, id uuid.UUID) (*core.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", id, core.ErrNotFound)
	}
	return &p, nil
}

func (m *Memory) ListPositionIDs(ctx context.Context, dictionaryID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []uuid.UUID
	for id, p := range m.positions {
		if p.DictionaryID == dictionaryID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids, nil
}

func (m *Memory) DeletePosition(ctx context.Context, id uuid.UUID) error {
	lock := m.positionLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.positions[id]; !ok {
		return fmt.Errorf("position %s: %w", id, core.ErrNotFound)
	}
	delete(m.positions, id)
	for attrID := range m.posAttrs[id] {
		delete(m.values, pairKey{id, attrID})
	}
	delete(m.posAttrs, id)

	// Position ids are never reused, so the lock entry is dead weight once
	// the delete commits. A writer already blocked on it fails the
	// existence check above.
	m.lockMu.Lock()
	delete(m.posLocks, id)
	m.lockMu.Unlock()
	return nil
}

// Values

func (m *Memory) InsertValue(ctx context.Context, v *core.AttributeValue) error {
	lock := m.positionLock(v.PositionID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.positions[v.PositionID]; !ok {
		return fmt.Errorf("position %s: %w", v.PositionID, core.ErrNotFound)
	}

	key := pairKey{v.PositionID, v.AttributeID}
	for _, existing := range m.values[key] {
		if overlaps(existing.StartDate, existing.FinishDate, v.StartDate, v.FinishDate) {
			return core.ErrOverlappingValidity
		}
	}

	m.insertSortedLocked(key, *v)
	return nil
}

func (m *Memory) ReplaceValue(ctx context.Context, v *core.AttributeValue) error {
	lock := m.positionLock(v.PositionID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.positions[v.PositionID]; !ok {
		return fmt.Errorf("position %s: %w", v.PositionID, core.ErrNotFound)
	}

	key := pairKey{v.PositionID, v.AttributeID}
	closeAt := v.StartDate.AddDate(0, 0, -1)

	// Build the candidate lineage: the value effective at v.StartDate is
	// closed at the day before (or dropped when that empties its window),
	// then v must fit without intersecting anything left.
	lineage := m.values[key]
	next := make([]core.AttributeValue, 0, len(lineage)+1)
	for _, existing := range lineage {
		if contains(existing.StartDate, existing.FinishDate, v.StartDate) {
			if existing.StartDate.After(closeAt) {
				continue // closing empties the window
			}
			existing.FinishDate = closeAt
		}
		if overlaps(existing.StartDate, existing.FinishDate, v.StartDate, v.FinishDate) {
			return core.ErrOverlappingValidity
		}
		next = append(next, existing)
	}
	next = append(next, *v)
	sort.Slice(next, func(i, j int) bool { return next[i].StartDate.Before(next[j].StartDate) })

	m.values[key] = next
	m.trackPairLocked(v.PositionID, v.AttributeID)
	return nil
}

func (m *Memory) ListValues(ctx context.Context, positionID, attributeID uuid.UUID) ([]core.AttributeValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lineage := m.values[pairKey{positionID, attributeID}]
	out := make([]core.AttributeValue, len(lineage))
	copy(out, lineage)
	return out, nil
}

func (m *Memory) EffectiveValues(ctx context.Context, positionID uuid.UUID, asOf time.Time) ([]core.AttributeValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []core.AttributeValue
	for attrID := range m.posAttrs[positionID] {
		for _, v := range m.values[pairKey{positionID, attrID}] {
			if contains(v.StartDate, v.FinishDate, asOf) {
				out = append(out, v)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) FindPositionByValue(ctx context.Context, dictionaryID, attributeID uuid.UUID, encoded string, asOf time.Time) (uuid.UUID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []uuid.UUID
	for id, p := range m.positions {
		if p.DictionaryID == dictionaryID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	for _, id := range ids {
		for _, v := range m.values[pairKey{id, attributeID}] {
			if v.Value == encoded && contains(v.StartDate, v.FinishDate, asOf) {
				return id, true, nil
			}
		}
	}
	return uuid.Nil, false, nil
}

// Ownership

func (m *Memory) AddOwner(ctx context.Context, o core.Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.dicts[o.DictionaryID]; !ok {
		return fmt.Errorf("dictionary %s: %w", o.DictionaryID, core.ErrNotFound)
	}
	users, ok := m.owners[o.DictionaryID]
	if !ok {
		users = make(map[string]struct{})
		m.owners[o.DictionaryID] = users
	}
	users[o.UserID] = struct{}{}
	return nil
}

func (m *Memory) ListOwners(ctx context.Context, dictionaryID uuid.UUID) ([]core.Owner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []core.Owner
	for userID := range m.owners[dictionaryID] {
		out = append(out, core.Owner{DictionaryID: dictionaryID, UserID: userID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Audit

func (m *Memory) AppendAudit(ctx context.Context, e *core.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audit = append(m.audit, *e)
	return nil
}

func (m *Memory) ListAudit(ctx context.Context, q core.AuditQuery) ([]core.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []core.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- { // newest first
		e := m.audit[i]
		if q.DictionaryID != uuid.Nil && e.DictionaryID != q.DictionaryID {
			continue
		}
		if q.Action != "" && e.Action != q.Action {
			continue
		}
		if q.UserID != "" && e.UserID != q.UserID {
			continue
		}
		if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// insertSortedLocked inserts a value into its lineage ordered by StartDate.
func (m *Memory) insertSortedLocked(key pairKey, v core.AttributeValue) {
	lineage := append(m.values[key], v)
	sort.Slice(lineage, func(i, j int) bool { return lineage[i].StartDate.Before(lineage[j].StartDate) })
	m.values[key] = lineage
	m.trackPairLocked(key.positionID, key.attributeID)
}

func (m *Memory) trackPairLocked(positionID, attributeID uuid.UUID) {
	attrs, ok := m.posAttrs[positionID]
	if !ok {
		attrs = make(map[uuid.UUID]struct{})
		m.posAttrs[positionID] = attrs
	}
	attrs[attributeID] = struct{}{}
}

// contains reports whether asOf falls inside [start, finish], inclusive.
func contains(start, finish, asOf time.Time) bool {
	return !asOf.Before(start) && !asOf.After(finish)
}

// overlaps reports whether two inclusive windows intersect.
func overlaps(aStart, aFinish, bStart, bFinish time.Time) bool {
	return !aStart.After(bFinish) && !bStart.After(aFinish)
}
