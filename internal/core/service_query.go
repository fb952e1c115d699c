package core

// service_query.go holds the read path: point-in-time value resolution,
// value lineage, and filtered position listing. Listing results flow
// through the read cache; everything else reads the store directly.

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GetEffectiveValues resolves the position's values as of a date: for each
// attribute, the unique value whose window contains asOf, decoded to its
// typed form. Attributes with no effective value are omitted.
func (s *Service) GetEffectiveValues(ctx context.Context, positionID uuid.UUID, asOf time.Time) (map[string]any, error) {
	pos, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	defs, err := s.schemas.Schema(ctx, pos.DictionaryID)
	if err != nil {
		return nil, err
	}
	return s.resolveValues(ctx, positionID, defs, DateOnly(asOf))
}

// ValueHistory returns the full value lineage for (position, attribute),
// ordered by window start.
func (s *Service) ValueHistory(ctx context.Context, positionID uuid.UUID, attr string) ([]AttributeValue, error) {
	pos, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	def, err := s.schemas.Attribute(ctx, pos.DictionaryID, attr)
	if err != nil {
		return nil, err
	}
	return s.store.ListValues(ctx, positionID, def.ID)
}

// ListPositions returns a lazy sequence of the dictionary's positions with
// their effective values as of a date, ordered by position id. Filters are
// exact or prefix matches on attribute values, combined with AND. Results
// are memoized in the read cache keyed by (dictionary, asOf, filters).
func (s *Service) ListPositions(ctx context.Context, dictionaryID uuid.UUID, asOf time.Time, filters []Filter) (*PositionSeq, error) {
	if _, err := s.store.GetDictionary(ctx, dictionaryID); err != nil {
		return nil, err
	}
	asOf = DateOnly(asOf)

	key := CacheKey(dictionaryID, asOf, filters)
	if rows, ok := s.cache.Get(key); ok {
		return seqFromSlice(rows), nil
	}
	// Captured before any store read so a write landing while the sequence
	// drains bumps the generation and the final Put becomes a no-op.
	gen := s.cache.Generation(dictionaryID)

	defs, err := s.schemas.Schema(ctx, dictionaryID)
	if err != nil {
		return nil, err
	}
	matchers, err := buildMatchers(defs, filters)
	if err != nil {
		return nil, err
	}

	ids, err := s.store.ListPositionIDs(ctx, dictionaryID)
	if err != nil {
		return nil, err
	}

	// Pull one position at a time; on clean exhaustion the collected rows
	// are installed in the cache for subsequent identical queries.
	i := 0
	var collected []PositionRow
	return &PositionSeq{next: func() (*PositionRow, error) {
		for i < len(ids) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			posID := ids[i]
			i++

			effective, err := s.store.EffectiveValues(ctx, posID, asOf)
			if err != nil {
				return nil, err
			}
			if !matchers.match(effective) {
				continue
			}

			values, err := decodeValues(defs, effective)
			if err != nil {
				return nil, err
			}
			row := PositionRow{PositionID: posID, Values: values}
			collected = append(collected, row)
			return &row, nil
		}
		s.cache.Put(dictionaryID, key, collected, gen)
		return nil, nil
	}}, nil
}

// resolveValues decodes the effective values of one position.
func (s *Service) resolveValues(ctx context.Context, positionID uuid.UUID, defs []AttributeDefinition, asOf time.Time) (map[string]any, error) {
	effective, err := s.store.EffectiveValues(ctx, positionID, asOf)
	if err != nil {
		return nil, err
	}
	return decodeValues(defs, effective)
}

// decodeValues maps stored values to decoded typed values keyed by alt name.
// Values under attribute ids missing from the schema are skipped; they can
// only appear if a definition was removed out-of-band.
func decodeValues(defs []AttributeDefinition, stored []AttributeValue) (map[string]any, error) {
	byID := make(map[uuid.UUID]AttributeDefinition, len(defs))
	for _, def := range defs {
		byID[def.ID] = def
	}

	values := make(map[string]any, len(stored))
	for _, v := range stored {
		def, ok := byID[v.AttributeID]
		if !ok {
			continue
		}
		decoded, err := DecodeValue(def, v.Value)
		if err != nil {
			return nil, err
		}
		values[def.AltName] = decoded
	}
	return values, nil
}

// valueMatchers is a compiled filter set matched against encoded values.
type valueMatchers []valueMatcher

type valueMatcher struct {
	attributeID uuid.UUID
	op          FilterOp
	encoded     string
}

// buildMatchers resolves filter attribute names against the schema and
// canonicalizes equality operands through the codec, so "10.0" matches a
// stored "10" for numeric attributes.
func buildMatchers(defs []AttributeDefinition, filters []Filter) (valueMatchers, error) {
	matchers := make(valueMatchers, 0, len(filters))
	for _, f := range filters {
		var def *AttributeDefinition
		for i := range defs {
			if strings.EqualFold(defs[i].AltName, f.Attr) {
				def = &defs[i]
				break
			}
		}
		if def == nil {
			return nil, &SchemaError{
				Violation: UnknownAttribute,
				Attr:      f.Attr,
				Message:   "attribute is not defined for this dictionary",
			}
		}

		operand := f.Value
		if f.Op == FilterEquals {
			if encoded, err := EncodeValue(*def, f.Value); err == nil {
				operand = encoded
			}
		}
		matchers = append(matchers, valueMatcher{
			attributeID: def.ID,
			op:          f.Op,
			encoded:     operand,
		})
	}
	return matchers, nil
}

// match applies all matchers (AND) against a position's effective values.
// A position missing a filtered attribute does not match.
func (m valueMatchers) match(effective []AttributeValue) bool {
	for _, matcher := range m {
		matched := false
		for _, v := range effective {
			if v.AttributeID != matcher.attributeID {
				continue
			}
			switch matcher.op {
			case FilterPrefix:
				matched = strings.HasPrefix(v.Value, matcher.encoded)
			default:
				matched = v.Value == matcher.encoded
			}
			break
		}
		if !matched {
			return false
		}
	}
	return true
}
