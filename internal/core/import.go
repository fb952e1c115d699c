package core

// import.go implements CSV bulk import against a dictionary's dynamic
// schema: header row = attribute alt names, one data row per entry, empty
// cell = attribute absent. Rows are processed independently and in order; a
// failed row never aborts the rest, and there is no transaction spanning the
// whole file, so rows committed before a timeout stay committed.
//
// Row matching: the dictionary's match-key attribute (default CODE) resolves
// whether a row targets an existing position. Matched rows update only the
// attributes whose effective value actually changes; unmatched rows create a
// position and set all supplied values.

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultMaxImportSize is the maximum accepted CSV payload (20MB).
const DefaultMaxImportSize int64 = 20 * 1024 * 1024

// RowStatus is the per-row outcome of an import.
type RowStatus string

const (
	RowCreated   RowStatus = "created"
	RowUpdated   RowStatus = "updated"
	RowUnchanged RowStatus = "unchanged"
	RowFailed    RowStatus = "failed"
)

// RowResult is the outcome of one data row, in input order. Row numbers are
// 1-based over the whole file, so the first data row is row 2.
type RowResult struct {
	Row    int       `json:"row"`
	Status RowStatus `json:"status"`
	Key    string    `json:"key,omitempty"` // match-key value, when parseable
	Error  string    `json:"error,omitempty"`
}

// ImportReport aggregates an import run.
type ImportReport struct {
	DictionaryID uuid.UUID     `json:"dictionaryId"`
	TotalRows    int           `json:"totalRows"`
	Created      int           `json:"created"`
	Updated      int           `json:"updated"`
	Unchanged    int           `json:"unchanged"`
	Failed       int           `json:"failed"`
	Rows         []RowResult   `json:"rows"`
	Duration     time.Duration `json:"duration"`
}

// Import parses CSV data against the dictionary's schema and upserts
// positions and values effective from asOf. Allowed for administrators and
// owners. The returned report enumerates every data row's outcome; Import
// returns a non-nil error only when the import could not start at all
// (authorization, unreadable file, unknown header).
func (s *Service) Import(ctx context.Context, id Identity, dictionaryID uuid.UUID, data []byte, asOf time.Time) (*ImportReport, error) {
	start := time.Now()

	if int64(len(data)) > s.maxImportSize {
		return nil, fmt.Errorf("file exceeds %dMB limit", s.maxImportSize/(1024*1024))
	}

	d, err := s.store.GetDictionary(ctx, dictionaryID)
	if err != nil {
		return nil, err
	}
	owners, err := s.store.ListOwners(ctx, dictionaryID)
	if err != nil {
		return nil, err
	}
	if !CanEditDictionary(id, owners) {
		return nil, ErrForbidden
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	asOf = DateOnly(asOf)

	records, err := parseCSV(sanitizeUTF8(data))
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	defs, err := s.schemas.Schema(ctx, dictionaryID)
	if err != nil {
		return nil, err
	}

	header, err := resolveHeader(records[0], defs)
	if err != nil {
		return nil, err
	}
	matchKey, err := s.schemas.Attribute(ctx, dictionaryID, d.MatchKey)
	if err != nil {
		return nil, fmt.Errorf("dictionary match key %s: %w", d.MatchKey, err)
	}
	if _, ok := header[strings.ToUpper(matchKey.AltName)]; !ok {
		return nil, fmt.Errorf("match key column %s is missing from the header", matchKey.AltName)
	}

	report := &ImportReport{DictionaryID: dictionaryID}

	for i, row := range records[1:] {
		lineNum := i + 2

		if err := ctx.Err(); err != nil {
			// Committed rows stay committed; the report covers what ran.
			break
		}
		if isEmptyRow(row) {
			continue
		}
		report.TotalRows++

		result := s.importRow(ctx, dictionaryID, d, defs, matchKey, header, row, asOf)
		result.Row = lineNum
		report.Rows = append(report.Rows, result)

		switch result.Status {
		case RowCreated:
			report.Created++
		case RowUpdated:
			report.Updated++
		case RowUnchanged:
			report.Unchanged++
		default:
			report.Failed++
		}
	}

	report.Duration = time.Since(start)

	s.logAudit(ctx, id, AuditEntry{
		Action:       ActionImport,
		DictionaryID: dictionaryID,
		RowsAffected: report.Created + report.Updated,
		Detail: fmt.Sprintf("rows=%d created=%d updated=%d unchanged=%d failed=%d",
			report.TotalRows, report.Created, report.Updated, report.Unchanged, report.Failed),
	})
	slog.Info("import completed",
		"dictionary_id", dictionaryID,
		"rows", report.TotalRows,
		"created", report.Created,
		"updated", report.Updated,
		"failed", report.Failed,
		"duration_ms", report.Duration.Milliseconds(),
	)

	return report, nil
}

// importRow processes one data row: decode cells, validate the row as a
// unit, then create or update the matching position.
func (s *Service) importRow(ctx context.Context, dictionaryID uuid.UUID, d *Dictionary, defs []AttributeDefinition, matchKey AttributeDefinition, header map[string]int, row []string, asOf time.Time) RowResult {
	values := make(map[string]string)
	for alt, idx := range header {
		if idx >= len(row) {
			continue
		}
		cell := CleanCell(row[idx])
		if cell == "" {
			continue // empty cell = attribute absent for this row
		}
		values[alt] = cell
	}

	normalized, err := ValidateValues(defs, values, asOf)
	if err != nil {
		return RowResult{Status: RowFailed, Error: err.Error()}
	}

	key, ok := normalized[matchKey.AltName]
	if !ok {
		return RowResult{Status: RowFailed, Error: fmt.Sprintf("%s: match key value is missing", matchKey.AltName)}
	}

	positionID, found, err := s.store.FindPositionByValue(ctx, dictionaryID, matchKey.ID, key, asOf)
	if err != nil {
		return RowResult{Status: RowFailed, Key: key, Error: err.Error()}
	}

	if found {
		return s.updateMatchedRow(ctx, positionID, defs, normalized, asOf, d.FinishDate, key)
	}
	return s.createRow(ctx, dictionaryID, defs, normalized, asOf, d.FinishDate, key)
}

// updateMatchedRow updates only the attributes whose effective value
// changes. Old values before asOf remain retrievable for earlier dates.
func (s *Service) updateMatchedRow(ctx context.Context, positionID uuid.UUID, defs []AttributeDefinition, normalized map[string]string, asOf, dictFinish time.Time, key string) RowResult {
	changed := 0

	for _, def := range defs {
		encoded, ok := normalized[def.AltName]
		if !ok {
			continue
		}

		lineage, err := s.store.ListValues(ctx, positionID, def.ID)
		if err != nil {
			return RowResult{Status: RowFailed, Key: key, Error: err.Error()}
		}

		var current *AttributeValue
		for i := range lineage {
			if windowContains(lineage[i].StartDate, lineage[i].FinishDate, asOf) {
				current = &lineage[i]
				break
			}
		}
		if current != nil && current.Value == encoded {
			continue
		}

		v := AttributeValue{
			ID:          uuid.New(),
			PositionID:  positionID,
			AttributeID: def.ID,
			Value:       encoded,
			StartDate:   asOf,
			FinishDate:  insertFinish(lineage, current, asOf, dictFinish),
		}
		if current != nil {
			err = s.store.ReplaceValue(ctx, &v)
		} else {
			err = s.store.InsertValue(ctx, &v)
		}
		if err != nil {
			return RowResult{Status: RowFailed, Key: key, Error: fmt.Sprintf("%s: %v", def.AltName, err)}
		}
		changed++
	}

	if changed == 0 {
		return RowResult{Status: RowUnchanged, Key: key}
	}

	pos, err := s.store.GetPosition(ctx, positionID)
	if err == nil {
		s.cache.Invalidate(pos.DictionaryID)
	}
	return RowResult{Status: RowUpdated, Key: key}
}

// createRow creates a fresh position carrying all supplied values. The
// position only exists after full row validation, so a failed row never
// leaves a position behind; if a late store error hits anyway, the partial
// position is removed.
func (s *Service) createRow(ctx context.Context, dictionaryID uuid.UUID, defs []AttributeDefinition, normalized map[string]string, asOf, dictFinish time.Time, key string) RowResult {
	p := Position{ID: uuid.New(), DictionaryID: dictionaryID}
	if err := s.store.CreatePosition(ctx, &p); err != nil {
		return RowResult{Status: RowFailed, Key: key, Error: err.Error()}
	}

	for _, def := range defs {
		encoded, ok := normalized[def.AltName]
		if !ok {
			continue
		}
		v := AttributeValue{
			ID:          uuid.New(),
			PositionID:  p.ID,
			AttributeID: def.ID,
			Value:       encoded,
			StartDate:   asOf,
			FinishDate:  dictFinish,
		}
		if err := s.store.InsertValue(ctx, &v); err != nil {
			_ = s.store.DeletePosition(ctx, p.ID)
			return RowResult{Status: RowFailed, Key: key, Error: fmt.Sprintf("%s: %v", def.AltName, err)}
		}
	}

	s.cache.Invalidate(dictionaryID)
	return RowResult{Status: RowCreated, Key: key}
}

// insertFinish picks the finish date for a value inserted at asOf: the
// superseded value's old finish when replacing, otherwise clamped to the day
// before the next future value so the insert cannot collide with history
// written ahead of asOf.
func insertFinish(lineage []AttributeValue, current *AttributeValue, asOf, dictFinish time.Time) time.Time {
	if current != nil {
		return current.FinishDate
	}
	finish := dictFinish
	for _, v := range lineage {
		if v.StartDate.After(asOf) && dayBefore(v.StartDate).Before(finish) {
			finish = dayBefore(v.StartDate)
		}
	}
	return finish
}

// resolveHeader maps header cells to attribute alt names. Every column must
// name a defined attribute; a stale header fails the import up front rather
// than failing every row the same way.
func resolveHeader(headerRow []string, defs []AttributeDefinition) (map[string]int, error) {
	byAlt := make(map[string]bool, len(defs))
	for _, def := range defs {
		byAlt[strings.ToUpper(def.AltName)] = true
	}

	header := make(map[string]int, len(headerRow))
	for i, cell := range headerRow {
		name := strings.ToUpper(CleanCell(stripBOM(cell)))
		if name == "" {
			continue
		}
		if !byAlt[name] {
			return nil, fmt.Errorf("unknown column %q in header", name)
		}
		if _, dup := header[name]; dup {
			return nil, fmt.Errorf("duplicate column %q in header", name)
		}
		header[name] = i
	}
	if len(header) == 0 {
		return nil, fmt.Errorf("header row names no attributes")
	}
	return header, nil
}

// Helper functions

func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}

func parseCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

func stripBOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
