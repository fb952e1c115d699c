package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/refdata/dictstore/internal/core"
	"github.com/refdata/dictstore/internal/store"
)

var (
	adminID = core.Identity{UserID: "admin-1", Roles: map[core.Role]bool{core.RoleAdministrator: true}}
	secID   = core.Identity{UserID: "sec-1", Roles: map[core.Role]bool{core.RoleSecurityAdmin: true}}
	ownerID = core.Identity{UserID: "owner-1"}
	otherID = core.Identity{UserID: "stranger"}
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T) *core.Service {
	t.Helper()
	return core.NewService(store.NewMemory(), core.Options{})
}

// newPriceDictionary creates a dictionary with CODE (required string),
// NAME (required string) and PRICE (number) attributes, owned by owner-1.
func newPriceDictionary(t *testing.T, svc *core.Service) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	dictID, err := svc.CreateDictionary(ctx, adminID, core.Dictionary{
		Code:      "PRODUCTS",
		Name:      "Products",
		StartDate: date(2023, 1, 1),
	})
	if err != nil {
		t.Fatalf("CreateDictionary error = %v", err)
	}
	if err := svc.AssignOwner(ctx, adminID, dictID, ownerID.UserID); err != nil {
		t.Fatalf("AssignOwner error = %v", err)
	}

	attrs := []core.AttributeDefinition{
		{DictionaryID: dictID, AltName: "CODE", Type: core.AttrString, Required: true},
		{DictionaryID: dictID, AltName: "NAME", Type: core.AttrString, Required: true},
		{DictionaryID: dictID, AltName: "PRICE", Type: core.AttrNumber},
	}
	for _, a := range attrs {
		if _, err := svc.CreateAttribute(ctx, ownerID, a); err != nil {
			t.Fatalf("CreateAttribute(%s) error = %v", a.AltName, err)
		}
	}
	return dictID
}

func TestCreateDictionary(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	id, err := svc.CreateDictionary(ctx, adminID, core.Dictionary{
		Code: "regions", Name: "Regions", StartDate: date(2023, 1, 1),
	})
	if err != nil {
		t.Fatalf("CreateDictionary error = %v", err)
	}

	d, err := svc.GetDictionary(ctx, id)
	if err != nil {
		t.Fatalf("GetDictionary error = %v", err)
	}
	if d.MatchKey != "CODE" {
		t.Errorf("MatchKey = %q, want default CODE", d.MatchKey)
	}
	if !d.FinishDate.Equal(core.OpenEnd) {
		t.Errorf("FinishDate = %v, want open end", d.FinishDate)
	}
	if d.Status != core.StatusActive {
		t.Errorf("Status = %v, want active", d.Status)
	}

	// Codes are unique, case-insensitively.
	if _, err := svc.CreateDictionary(ctx, adminID, core.Dictionary{
		Code: "REGIONS", Name: "Regions again", StartDate: date(2023, 1, 1),
	}); !errors.Is(err, core.ErrDuplicateCode) {
		t.Errorf("duplicate code error = %v, want ErrDuplicateCode", err)
	}

	// Only administrators create dictionaries.
	if _, err := svc.CreateDictionary(ctx, otherID, core.Dictionary{
		Code: "NOPE", Name: "Nope",
	}); !errors.Is(err, core.ErrForbidden) {
		t.Errorf("non-admin create error = %v, want ErrForbidden", err)
	}
}

func TestValidityWindow_OneDayAllowedInvertedRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	day := date(2023, 5, 1)

	// Windows are inclusive: start == finish is a one-day window.
	dictID, err := svc.CreateDictionary(ctx, adminID, core.Dictionary{
		Code: "ONEDAY", Name: "One day", StartDate: day, FinishDate: day,
	})
	if err != nil {
		t.Fatalf("one-day dictionary rejected: %v", err)
	}

	if _, err := svc.CreateDictionary(ctx, adminID, core.Dictionary{
		Code: "INV", Name: "Inverted", StartDate: day, FinishDate: day.AddDate(0, 0, -1),
	}); err == nil {
		t.Error("inverted dictionary window accepted")
	}

	if err := svc.EditDictionary(ctx, adminID, dictID, core.DictionaryPatch{
		FinishDate: &day,
	}); err != nil {
		t.Errorf("edit to a one-day window rejected: %v", err)
	}
	before := day.AddDate(0, 0, -1)
	if err := svc.EditDictionary(ctx, adminID, dictID, core.DictionaryPatch{
		FinishDate: &before,
	}); err == nil {
		t.Error("edit to an inverted window accepted")
	}

	if _, err := svc.CreateAttribute(ctx, adminID, core.AttributeDefinition{
		DictionaryID: dictID, AltName: "FLAG", Type: core.AttrBool,
		StartDate: day, FinishDate: day,
	}); err != nil {
		t.Errorf("one-day attribute window rejected: %v", err)
	}
	if _, err := svc.CreateAttribute(ctx, adminID, core.AttributeDefinition{
		DictionaryID: dictID, AltName: "BAD", Type: core.AttrBool,
		StartDate: day, FinishDate: before,
	}); err == nil {
		t.Error("inverted attribute window accepted")
	}
}

func TestEditDictionary_OwnershipControl(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)

	name := "Renamed"
	patch := core.DictionaryPatch{Name: &name}

	if err := svc.EditDictionary(ctx, otherID, dictID, patch); !errors.Is(err, core.ErrForbidden) {
		t.Errorf("non-owner edit error = %v, want ErrForbidden", err)
	}
	if err := svc.EditDictionary(ctx, ownerID, dictID, patch); err != nil {
		t.Errorf("owner edit error = %v", err)
	}

	d, err := svc.GetDictionary(ctx, dictID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "Renamed" {
		t.Errorf("Name = %q after edit, want Renamed", d.Name)
	}
}

func TestTemporalValues(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)

	posID, err := svc.CreatePosition(ctx, ownerID, dictID)
	if err != nil {
		t.Fatalf("CreatePosition error = %v", err)
	}

	// price 10 for the first half of 2023, then 12 from July on.
	if err := svc.SetValue(ctx, ownerID, posID, "PRICE", "10", date(2023, 1, 1), date(2023, 6, 30)); err != nil {
		t.Fatalf("SetValue(10) error = %v", err)
	}
	if err := svc.SetValue(ctx, ownerID, posID, "PRICE", "12", date(2023, 7, 1), time.Time{}); err != nil {
		t.Fatalf("SetValue(12) error = %v", err)
	}

	tests := []struct {
		asOf time.Time
		want float64
	}{
		{date(2023, 3, 15), 10},
		{date(2023, 6, 30), 10}, // finish date is inclusive
		{date(2023, 7, 1), 12},
		{date(2024, 1, 1), 12}, // open-ended window
	}
	for _, tt := range tests {
		values, err := svc.GetEffectiveValues(ctx, posID, tt.asOf)
		if err != nil {
			t.Fatalf("GetEffectiveValues(%s) error = %v", tt.asOf.Format("2006-01-02"), err)
		}
		if got := values["PRICE"]; got != tt.want {
			t.Errorf("PRICE as of %s = %v, want %v", tt.asOf.Format("2006-01-02"), got, tt.want)
		}
	}

	// Before the first window there is no value at all.
	values, err := svc.GetEffectiveValues(ctx, posID, date(2022, 12, 31))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := values["PRICE"]; ok {
		t.Error("PRICE should have no value before its first window")
	}
}

func TestSetValue_RejectsOverlap(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)

	posID, err := svc.CreatePosition(ctx, ownerID, dictID)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.SetValue(ctx, ownerID, posID, "PRICE", "10", date(2023, 1, 1), time.Time{}); err != nil {
		t.Fatal(err)
	}

	err = svc.SetValue(ctx, ownerID, posID, "PRICE", "11", date(2023, 6, 1), time.Time{})
	if !errors.Is(err, core.ErrOverlappingValidity) {
		t.Errorf("overlapping SetValue error = %v, want ErrOverlappingValidity", err)
	}

	// Nothing was applied: the old value is still effective everywhere.
	values, err := svc.GetEffectiveValues(ctx, posID, date(2023, 8, 1))
	if err != nil {
		t.Fatal(err)
	}
	if values["PRICE"] != float64(10) {
		t.Errorf("PRICE = %v after rejected write, want 10", values["PRICE"])
	}
}

func TestUpdateValue_ClosesCurrentWindow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)

	posID, err := svc.CreatePosition(ctx, ownerID, dictID)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.SetValue(ctx, ownerID, posID, "PRICE", "10", date(2023, 1, 1), time.Time{}); err != nil {
		t.Fatal(err)
	}
	if err := svc.UpdateValue(ctx, ownerID, posID, "PRICE", "12", date(2023, 7, 1), time.Time{}); err != nil {
		t.Fatalf("UpdateValue error = %v", err)
	}

	history, err := svc.ValueHistory(ctx, posID, "PRICE")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d windows, want 2", len(history))
	}
	if !history[0].FinishDate.Equal(date(2023, 6, 30)) {
		t.Errorf("first window closed at %v, want 2023-06-30", history[0].FinishDate)
	}
	if history[0].Value != "10" || history[1].Value != "12" {
		t.Errorf("history values = %q, %q, want 10, 12", history[0].Value, history[1].Value)
	}

	// The old value stays retrievable for earlier as-of dates.
	values, err := svc.GetEffectiveValues(ctx, posID, date(2023, 3, 1))
	if err != nil {
		t.Fatal(err)
	}
	if values["PRICE"] != float64(10) {
		t.Errorf("PRICE as of March = %v, want 10", values["PRICE"])
	}
}

func TestSetValue_RetiredAttribute(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)

	if _, err := svc.CreateAttribute(ctx, ownerID, core.AttributeDefinition{
		DictionaryID: dictID,
		AltName:      "LEGACY",
		Type:         core.AttrString,
		StartDate:    date(2023, 1, 1),
		FinishDate:   date(2023, 12, 31),
	}); err != nil {
		t.Fatal(err)
	}
	posID, err := svc.CreatePosition(ctx, ownerID, dictID)
	if err != nil {
		t.Fatal(err)
	}

	err = svc.SetValue(ctx, ownerID, posID, "LEGACY", "x", date(2024, 6, 1), time.Time{})
	var se *core.SchemaError
	if !errors.As(err, &se) || se.Violation != core.AttributeExpired {
		t.Errorf("write under retired attribute = %v, want AttributeExpired", err)
	}
}

func TestListPositions_FilterAndReadAfterWrite(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)
	asOf := date(2023, 6, 1)

	mk := func(code, name string) uuid.UUID {
		posID, err := svc.CreatePosition(ctx, ownerID, dictID)
		if err != nil {
			t.Fatal(err)
		}
		if err := svc.SetValue(ctx, ownerID, posID, "CODE", code, date(2023, 1, 1), time.Time{}); err != nil {
			t.Fatal(err)
		}
		if err := svc.SetValue(ctx, ownerID, posID, "NAME", name, date(2023, 1, 1), time.Time{}); err != nil {
			t.Fatal(err)
		}
		return posID
	}
	mk("A1", "Anvil")
	mk("A2", "Axe")
	b1 := mk("B1", "Bolt")

	rows, err := collect(svc.ListPositions(ctx, dictID, asOf, nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("unfiltered list has %d rows, want 3", len(rows))
	}

	// Prefix filter narrows to the A-codes; the second call is served from
	// cache and must match.
	filters := []core.Filter{{Attr: "CODE", Op: core.FilterPrefix, Value: "A"}}
	first, err := collect(svc.ListPositions(ctx, dictID, asOf, filters))
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 {
		t.Fatalf("prefix-filtered list has %d rows, want 2", len(first))
	}
	second, err := collect(svc.ListPositions(ctx, dictID, asOf, filters))
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != len(first) {
		t.Errorf("cached list has %d rows, want %d", len(second), len(first))
	}

	// A write invalidates the cache: the next read sees the change.
	if err := svc.UpdateValue(ctx, ownerID, b1, "CODE", "A3", asOf, time.Time{}); err != nil {
		t.Fatal(err)
	}
	after, err := collect(svc.ListPositions(ctx, dictID, asOf, filters))
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 3 {
		t.Errorf("list after write has %d rows, want 3 (read-after-write)", len(after))
	}

	// Equality filter matches on the encoded value.
	eq := []core.Filter{{Attr: "NAME", Op: core.FilterEquals, Value: "Axe"}}
	axes, err := collect(svc.ListPositions(ctx, dictID, asOf, eq))
	if err != nil {
		t.Fatal(err)
	}
	if len(axes) != 1 {
		t.Errorf("equality-filtered list has %d rows, want 1", len(axes))
	}
}

func TestListPositions_SlowReaderCannotCacheStaleRows(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)
	asOf := date(2024, 3, 1)

	posID, err := svc.CreatePosition(ctx, ownerID, dictID)
	if err != nil {
		t.Fatal(err)
	}
	for attr, raw := range map[string]string{"CODE": "A1", "NAME": "Anvil", "PRICE": "10"} {
		if err := svc.SetValue(ctx, ownerID, posID, attr, raw, date(2023, 1, 1), time.Time{}); err != nil {
			t.Fatal(err)
		}
	}

	// Start a sequence, consume its only row, and leave it unfinished while
	// a write lands. Finishing the sequence afterwards must not install the
	// pre-write rows.
	seq, err := svc.ListPositions(ctx, dictID, asOf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !seq.Next() {
		t.Fatalf("sequence is empty: %v", seq.Err())
	}
	if err := svc.UpdateValue(ctx, ownerID, posID, "PRICE", "99", asOf, time.Time{}); err != nil {
		t.Fatal(err)
	}
	for seq.Next() {
	}
	if err := seq.Err(); err != nil {
		t.Fatal(err)
	}

	rows, err := collect(svc.ListPositions(ctx, dictID, asOf, nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("list has %d rows, want 1", len(rows))
	}
	if got := rows[0].Values["PRICE"]; got != 99.0 {
		t.Errorf("PRICE after completed write = %v, want 99", got)
	}
}

func TestRetireDictionary(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)

	if err := svc.RetireDictionary(ctx, adminID, dictID, date(2024, 1, 31)); err != nil {
		t.Fatalf("RetireDictionary error = %v", err)
	}
	d, err := svc.GetDictionary(ctx, dictID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != core.StatusRetired {
		t.Errorf("Status = %v, want retired", d.Status)
	}
	if !d.FinishDate.Equal(date(2024, 1, 31)) {
		t.Errorf("FinishDate = %v, want 2024-01-31", d.FinishDate)
	}
}

func TestAuditLog_Access(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)

	if _, err := svc.AuditLog(ctx, adminID, core.AuditQuery{}); !errors.Is(err, core.ErrForbidden) {
		t.Errorf("plain admin audit access = %v, want ErrForbidden", err)
	}

	entries, err := svc.AuditLog(ctx, secID, core.AuditQuery{DictionaryID: dictID})
	if err != nil {
		t.Fatalf("AuditLog error = %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected audit entries for dictionary setup")
	}

	// Setup wrote a create, an owner assignment and three attribute creates.
	actions := make(map[core.AuditAction]int)
	for _, e := range entries {
		actions[e.Action]++
	}
	if actions[core.ActionDictionaryCreate] != 1 {
		t.Errorf("dictionary_create entries = %d, want 1", actions[core.ActionDictionaryCreate])
	}
	if actions[core.ActionOwnerAssign] != 1 {
		t.Errorf("owner_assign entries = %d, want 1", actions[core.ActionOwnerAssign])
	}
	if actions[core.ActionAttributeCreate] != 3 {
		t.Errorf("attribute_create entries = %d, want 3", actions[core.ActionAttributeCreate])
	}
}

// collect drains a position sequence.
func collect(seq *core.PositionSeq, err error) ([]core.PositionRow, error) {
	if err != nil {
		return nil, err
	}
	var rows []core.PositionRow
	for seq.Next() {
		rows = append(rows, seq.Row())
	}
	return rows, seq.Err()
}
