package core

// convert.go implements the value codec: every attribute value is persisted
// as canonical text, and this file owns the mapping between raw user input
// (form fields, CSV cells), the canonical storage encoding, and typed Go
// values.
//
// Canonical encodings per attribute type:
//   - string, reference: trimmed text as given
//   - number:  plain decimal ("1234.56"), currency symbols and thousands
//     separators are tolerated on input and stripped
//   - date:    ISO "2006-01-02"
//   - boolean: "true" / "false"
//
// All failures are pure and carry the offending attribute name.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgtype"
)

// numericRegex validates a decimal after cleanup: integers, decimals and
// scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// dateLayouts are the accepted input formats, tried in order. All carry a
// four-digit year so the calendar date is unambiguous.
var dateLayouts = []string{
	"2006-01-02", "2006/01/02", "2006.01.02",
	"02.01.2006", "02-01-2006",
	"Jan 2, 2006", "2 Jan 2006",
	"20060102",
}

// DateEncoding is the canonical storage layout for date values.
const DateEncoding = "2006-01-02"

// EncodeValue converts raw user input into the canonical storage text for
// the attribute's type. It returns a *ValueError naming the attribute when
// the input cannot be accepted.
func EncodeValue(def AttributeDefinition, raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	switch def.Type {
	case AttrNumber:
		n, ok := parseNumber(raw)
		if !ok {
			return "", &ValueError{
				Attr:    def.AltName,
				Value:   raw,
				Kind:    InvalidValue,
				Message: "invalid number format",
			}
		}
		return n, nil

	case AttrDate:
		d, ok := parseDate(raw)
		if !ok {
			return "", &ValueError{
				Attr:    def.AltName,
				Value:   raw,
				Kind:    InvalidValue,
				Message: "invalid date (use YYYY-MM-DD or similar)",
			}
		}
		return d.Format(DateEncoding), nil

	case AttrBool:
		b, ok := parseBool(raw)
		if !ok {
			return "", &ValueError{
				Attr:    def.AltName,
				Value:   raw,
				Kind:    InvalidValue,
				Message: "must be yes/no, true/false, or 1/0",
			}
		}
		return strconv.FormatBool(b), nil

	case AttrReference:
		return raw, nil

	default: // AttrString
		if def.Capacity > 0 && utf8.RuneCountInString(raw) > def.Capacity {
			return "", &ValueError{
				Attr:    def.AltName,
				Value:   raw,
				Kind:    ValueTooLong,
				Message: fmt.Sprintf("value exceeds capacity of %d characters", def.Capacity),
			}
		}
		return raw, nil
	}
}

// DecodeValue converts canonical storage text into a typed Go value:
// float64 for numbers, time.Time for dates, bool for booleans, and string
// for string and reference attributes.
func DecodeValue(def AttributeDefinition, stored string) (any, error) {
	switch def.Type {
	case AttrNumber:
		f, err := strconv.ParseFloat(stored, 64)
		if err != nil {
			return nil, fmt.Errorf("decode %s: corrupt number %q", def.AltName, stored)
		}
		return f, nil
	case AttrDate:
		t, err := time.Parse(DateEncoding, stored)
		if err != nil {
			return nil, fmt.Errorf("decode %s: corrupt date %q", def.AltName, stored)
		}
		return t, nil
	case AttrBool:
		b, err := strconv.ParseBool(stored)
		if err != nil {
			return nil, fmt.Errorf("decode %s: corrupt boolean %q", def.AltName, stored)
		}
		return b, nil
	default:
		return stored, nil
	}
}

// ParseCell converts one CSV cell into canonical storage text. Cells carry
// CSV artifacts (Excel formula prefixes, stray quotes) that plain form input
// does not, so they are cleaned before encoding.
func ParseCell(def AttributeDefinition, cell string) (string, error) {
	return EncodeValue(def, CleanCell(cell))
}

// FormatCell renders canonical storage text as a CSV cell. The canonical
// encodings are already CSV-safe text, so this is the identity; it exists so
// export goes through the codec on the way out as import does on the way in.
func FormatCell(def AttributeDefinition, stored string) string {
	return stored
}

// parseNumber validates and canonicalizes a decimal. It tolerates currency
// symbols, thousands separators and accounting negatives ("(123.45)").
// The cleaned string is run through pgtype.Numeric so accepted input is
// exactly what the database will accept.
func parseNumber(s string) (string, bool) {
	if s == "" {
		return "", false
	}

	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return "", false
	}

	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return "", false
	}

	return s, true
}

// parseDate parses a calendar date. Impossible dates (day 31 in April) are
// rejected by time.Parse itself.
func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOnly(t), true
		}
	}
	return time.Time{}, false
}

// parseBool accepts the fixed token set, case-insensitive.
func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	default:
		return false, false
	}
}

// CleanCell removes common CSV artifacts from a cell value:
// trims whitespace, strips Excel formula prefix (="...") and surrounding quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	s = strings.Trim(s, `"'`)

	return s
}
