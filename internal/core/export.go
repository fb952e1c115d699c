package core

// export.go is the inverse of import.go: one row per position, one column
// per attribute definition valid at the as-of date, emitted in definition
// order. Exported text is the canonical cell encoding, so re-importing an
// export at the same as-of date is a no-op.

import (
	"bytes"
	"context"
	"encoding/csv"
	"time"

	"github.com/google/uuid"
)

// Export renders the dictionary's effective values as of a date as CSV.
// Reading is open to any identity.
func (s *Service) Export(ctx context.Context, dictionaryID uuid.UUID, asOf time.Time) ([]byte, error) {
	if _, err := s.store.GetDictionary(ctx, dictionaryID); err != nil {
		return nil, err
	}
	asOf = DateOnly(asOf)

	defs, err := s.schemas.Schema(ctx, dictionaryID)
	if err != nil {
		return nil, err
	}

	// Only attributes valid at asOf become columns.
	columns := make([]AttributeDefinition, 0, len(defs))
	header := make([]string, 0, len(defs))
	for _, def := range defs {
		if windowContains(def.StartDate, def.FinishDate, asOf) {
			columns = append(columns, def)
			header = append(header, def.AltName)
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}

	ids, err := s.store.ListPositionIDs(ctx, dictionaryID)
	if err != nil {
		return nil, err
	}

	record := make([]string, len(columns))
	for _, posID := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		effective, err := s.store.EffectiveValues(ctx, posID, asOf)
		if err != nil {
			return nil, err
		}
		byAttr := make(map[uuid.UUID]string, len(effective))
		for _, v := range effective {
			byAttr[v.AttributeID] = v.Value
		}

		for i, def := range columns {
			record[i] = FormatCell(def, byAttr[def.ID])
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
