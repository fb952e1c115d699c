package core

// validation.go checks a candidate value set against a dictionary schema.
//
// Validation is order-independent over the supplied map, but attributes are
// evaluated in definition order so the first reported error is deterministic.
// An attribute is usable only when the as-of date falls inside its own
// validity window; a retired or not-yet-valid attribute is an error rather
// than a silent drop, so stale imports cannot write under a retired
// attribute.

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValidateValues validates raw values (keyed by attribute alt name) against
// the schema at the given as-of date and returns the values in canonical
// storage encoding, keyed by the definitions' exact alt names.
//
// Failures: *SchemaError for structural problems (missing required, unknown
// attribute, attribute outside its validity window), or a TypeMismatch
// *SchemaError wrapping the codec's *ValueError when a value cannot be
// encoded.
func ValidateValues(defs []AttributeDefinition, values map[string]string, asOf time.Time) (map[string]string, error) {
	asOf = DateOnly(asOf)

	// Case-insensitive view of the supplied map.
	supplied := make(map[string]string, len(values))
	for name, raw := range values {
		supplied[strings.ToUpper(strings.TrimSpace(name))] = raw
	}

	known := make(map[string]bool, len(defs))
	normalized := make(map[string]string, len(supplied))

	for _, def := range defs {
		key := strings.ToUpper(def.AltName)
		known[key] = true

		raw, present := supplied[key]
		if !present || strings.TrimSpace(raw) == "" {
			// Empty string means "attribute absent for this row".
			if def.Required && windowContains(def.StartDate, def.FinishDate, asOf) {
				return nil, &SchemaError{
					Violation: MissingRequired,
					Attr:      def.AltName,
					Message:   "required attribute is missing",
				}
			}
			continue
		}

		if asOf.Before(def.StartDate) {
			return nil, &SchemaError{
				Violation: AttributeNotYetValid,
				Attr:      def.AltName,
				Message:   fmt.Sprintf("attribute is not valid before %s", def.StartDate.Format(DateEncoding)),
			}
		}
		if asOf.After(def.FinishDate) {
			return nil, &SchemaError{
				Violation: AttributeExpired,
				Attr:      def.AltName,
				Message:   fmt.Sprintf("attribute expired on %s", def.FinishDate.Format(DateEncoding)),
			}
		}

		encoded, err := EncodeValue(def, raw)
		if err != nil {
			return nil, &SchemaError{
				Violation: TypeMismatch,
				Attr:      def.AltName,
				Message:   err.Error(),
				cause:     err,
			}
		}
		normalized[def.AltName] = encoded
	}

	// Anything supplied but not defined is an error. Keys are sorted so the
	// first reported unknown is deterministic.
	var unknown []string
	for key := range supplied {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &SchemaError{
			Violation: UnknownAttribute,
			Attr:      unknown[0],
			Message:   "attribute is not defined for this dictionary",
		}
	}

	return normalized, nil
}
