// Package core implements the temporal dictionary store: shared reference
// dictionaries with a per-dictionary attribute schema, date-bounded attribute
// values, ownership-based write control, and CSV import/export.
// This package has no transport dependencies and can be driven by any frontend.
package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// OpenEnd marks a validity window with no scheduled end.
var OpenEnd = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// AttrType represents the data type of a dictionary attribute.
type AttrType int

const (
	AttrString AttrType = iota
	AttrNumber
	AttrDate
	AttrBool
	AttrReference
)

// String returns the canonical name of the attribute type.
func (t AttrType) String() string {
	switch t {
	case AttrString:
		return "string"
	case AttrNumber:
		return "number"
	case AttrDate:
		return "date"
	case AttrBool:
		return "boolean"
	case AttrReference:
		return "reference"
	default:
		return "unknown"
	}
}

// ParseAttrType parses a type name as used in CLI flags and storage.
func ParseAttrType(s string) (AttrType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "string", "text":
		return AttrString, true
	case "number", "numeric":
		return AttrNumber, true
	case "date":
		return AttrDate, true
	case "boolean", "bool":
		return AttrBool, true
	case "reference", "ref":
		return AttrReference, true
	default:
		return AttrString, false
	}
}

// DictionaryStatus indicates whether a dictionary is in effect.
type DictionaryStatus int

const (
	StatusRetired DictionaryStatus = 0
	StatusActive  DictionaryStatus = 1
)

// DictionaryType distinguishes classifier-derived dictionaries from local ones.
type DictionaryType int

const (
	TypeClassifier DictionaryType = 0
	TypeLocal      DictionaryType = 1
)

// Dictionary is a reference table with its own dynamic attribute schema.
type Dictionary struct {
	ID             uuid.UUID
	Code           string // unique within type
	Name           string
	Description    string
	NameEng        string
	DescriptionEng string
	Organization   string // responsible organization
	Classifier     string
	Status         DictionaryStatus
	Type           DictionaryType
	StartDate      time.Time
	FinishDate     time.Time

	// MatchKey is the alt name of the attribute used to match CSV rows to
	// existing positions during import. Defaults to "CODE".
	MatchKey string
}

// DictionaryPatch carries partial updates for EditDictionary.
// Nil fields are left unchanged.
type DictionaryPatch struct {
	Name           *string
	Description    *string
	NameEng        *string
	DescriptionEng *string
	Organization   *string
	Classifier     *string
	Status         *DictionaryStatus
	StartDate      *time.Time
	FinishDate     *time.Time
	MatchKey       *string
}

// AttributeDefinition is one named, typed column of a dictionary's schema.
// An attribute is usable only for as-of dates inside its own validity window.
type AttributeDefinition struct {
	ID           uuid.UUID
	DictionaryID uuid.UUID
	Name         string
	AltName      string // machine name, unique within the dictionary, uppercase
	Type         AttrType
	Required     bool
	Capacity     int // max characters for string values; 0 means unlimited
	StartDate    time.Time
	FinishDate   time.Time
	Ordinal      int // definition order, drives column order and error precedence
}

// Position is one entry of a dictionary. All data lives in AttributeValue.
type Position struct {
	ID           uuid.UUID
	DictionaryID uuid.UUID
}

// AttributeValue is one date-bounded value of an attribute for a position.
// Windows for the same (position, attribute) pair never overlap.
type AttributeValue struct {
	ID          uuid.UUID
	PositionID  uuid.UUID
	AttributeID uuid.UUID
	Value       string // encoded storage text, see convert.go
	StartDate   time.Time
	FinishDate  time.Time
}

// Owner records that a user may write a dictionary. Unique per pair.
type Owner struct {
	DictionaryID uuid.UUID
	UserID       string
}

// Role is a coarse permission flag resolved by the external auth layer.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleSecurityAdmin Role = "security_administrator"
)

// Identity is the authenticated caller as supplied by the external auth
// layer. The core never fetches or caches credentials itself.
type Identity struct {
	UserID     string
	Roles      map[Role]bool
	Department string
}

// HasRole reports whether the identity carries the given role flag.
func (id Identity) HasRole(r Role) bool {
	return id.Roles[r]
}

// DateOnly truncates a timestamp to a UTC calendar date. All validity
// arithmetic in this package operates on day granularity.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// windowContains reports whether asOf falls inside [start, finish], inclusive.
func windowContains(start, finish, asOf time.Time) bool {
	return !asOf.Before(start) && !asOf.After(finish)
}

// windowsOverlap reports whether [aStart, aFinish] intersects [bStart, bFinish].
// Windows are inclusive on both ends.
func windowsOverlap(aStart, aFinish, bStart, bFinish time.Time) bool {
	return !aStart.After(bFinish) && !bStart.After(aFinish)
}

// dayBefore returns the calendar day preceding t.
func dayBefore(t time.Time) time.Time {
	return t.AddDate(0, 0, -1)
}
