package core_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/refdata/dictstore/internal/core"
)

func TestImport_CreatesPositions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)
	asOf := date(2024, 1, 1)

	file := "CODE,NAME,PRICE\nA1,Anvil,10\nA2,Axe,25.50\n"

	report, err := svc.Import(ctx, ownerID, dictID, []byte(file), asOf)
	if err != nil {
		t.Fatalf("Import error = %v", err)
	}
	if report.Created != 2 || report.Updated != 0 || report.Failed != 0 {
		t.Fatalf("report = created %d, updated %d, failed %d; want 2, 0, 0",
			report.Created, report.Updated, report.Failed)
	}

	rows, err := collect(svc.ListPositions(ctx, dictID, asOf, nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("dictionary has %d positions, want 2", len(rows))
	}

	anvil, err := collect(svc.ListPositions(ctx, dictID, asOf,
		[]core.Filter{{Attr: "CODE", Op: core.FilterEquals, Value: "A1"}}))
	if err != nil {
		t.Fatal(err)
	}
	if len(anvil) != 1 {
		t.Fatalf("filter CODE=A1 matched %d positions, want 1", len(anvil))
	}
	if anvil[0].Values["PRICE"] != float64(10) {
		t.Errorf("PRICE = %v, want 10", anvil[0].Values["PRICE"])
	}
}

func TestImport_ReimportIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)
	asOf := date(2024, 1, 1)

	file := "CODE,NAME,PRICE\nA1,Anvil,10\n"

	if _, err := svc.Import(ctx, ownerID, dictID, []byte(file), asOf); err != nil {
		t.Fatal(err)
	}
	report, err := svc.Import(ctx, ownerID, dictID, []byte(file), asOf)
	if err != nil {
		t.Fatal(err)
	}
	if report.Created != 0 || report.Updated != 0 || report.Unchanged != 1 {
		t.Errorf("re-import report = created %d, updated %d, unchanged %d; want 0, 0, 1",
			report.Created, report.Updated, report.Unchanged)
	}
}

func TestImport_UpdatePreservesHistory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)

	if _, err := svc.Import(ctx, ownerID, dictID,
		[]byte("CODE,NAME,PRICE\nA1,Anvil,10\n"), date(2024, 1, 1)); err != nil {
		t.Fatal(err)
	}
	report, err := svc.Import(ctx, ownerID, dictID,
		[]byte("CODE,NAME,PRICE\nA1,Anvil,12\n"), date(2024, 6, 1))
	if err != nil {
		t.Fatal(err)
	}
	if report.Updated != 1 {
		t.Fatalf("report.Updated = %d, want 1", report.Updated)
	}

	match := []core.Filter{{Attr: "CODE", Op: core.FilterEquals, Value: "A1"}}

	// New effective value after the second import...
	rows, err := collect(svc.ListPositions(ctx, dictID, date(2024, 7, 1), match))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Values["PRICE"] != float64(12) {
		t.Fatalf("PRICE after update = %v, want 12", rows[0].Values["PRICE"])
	}

	// ...and the old one still answers historical queries.
	history, err := svc.ValueHistory(ctx, rows[0].PositionID, "PRICE")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("PRICE history has %d windows, want 2", len(history))
	}
	if !history[0].FinishDate.Equal(date(2024, 5, 31)) {
		t.Errorf("old window closed at %v, want 2024-05-31", history[0].FinishDate)
	}

	old, err := svc.GetEffectiveValues(ctx, rows[0].PositionID, date(2024, 3, 1))
	if err != nil {
		t.Fatal(err)
	}
	if old["PRICE"] != float64(10) {
		t.Errorf("PRICE as of March = %v, want 10", old["PRICE"])
	}
}

func TestImport_FailedRowDoesNotAbortFile(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)
	asOf := date(2024, 1, 1)

	// Row 3 has a non-numeric price; rows 2 and 4 must still land.
	file := "CODE,NAME,PRICE\nA1,Anvil,10\nA2,Axe,abc\nA3,Bolt,3\n"

	report, err := svc.Import(ctx, ownerID, dictID, []byte(file), asOf)
	if err != nil {
		t.Fatalf("Import error = %v", err)
	}
	if report.Created != 2 || report.Failed != 1 {
		t.Fatalf("report = created %d, failed %d; want 2, 1", report.Created, report.Failed)
	}

	var failed *core.RowResult
	for i := range report.Rows {
		if report.Rows[i].Status == core.RowFailed {
			failed = &report.Rows[i]
		}
	}
	if failed == nil {
		t.Fatal("no failed row in report")
	}
	if failed.Row != 3 {
		t.Errorf("failed row number = %d, want 3", failed.Row)
	}
	if !strings.Contains(failed.Error, "PRICE") {
		t.Errorf("failed row error should name the attribute: %q", failed.Error)
	}

	// The failed row created no position.
	rows, err := collect(svc.ListPositions(ctx, dictID, asOf, nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("dictionary has %d positions, want 2", len(rows))
	}
}

func TestImport_UnknownColumnFailsWholeImport(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)

	_, err := svc.Import(ctx, ownerID, dictID,
		[]byte("CODE,NAME,COLOR\nA1,Anvil,red\n"), date(2024, 1, 1))
	if err == nil {
		t.Fatal("expected error for unknown header column")
	}
	if !strings.Contains(err.Error(), "COLOR") {
		t.Errorf("error should name the unknown column: %v", err)
	}
}

func TestImport_MissingMatchKeyColumn(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)

	_, err := svc.Import(ctx, ownerID, dictID,
		[]byte("NAME,PRICE\nAnvil,10\n"), date(2024, 1, 1))
	if err == nil {
		t.Fatal("expected error when match key column is absent")
	}
}

func TestImport_Authorization(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)

	_, err := svc.Import(ctx, otherID, dictID,
		[]byte("CODE,NAME\nA1,Anvil\n"), date(2024, 1, 1))
	if !errors.Is(err, core.ErrForbidden) {
		t.Errorf("non-owner import error = %v, want ErrForbidden", err)
	}
}

func TestImport_HandlesBOMAndBlankLines(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)

	file := "\xef\xbb\xbfCODE,NAME,PRICE\nA1,Anvil,10\n\n,,\n"

	report, err := svc.Import(ctx, ownerID, dictID, []byte(file), date(2024, 1, 1))
	if err != nil {
		t.Fatalf("Import error = %v", err)
	}
	if report.TotalRows != 1 || report.Created != 1 {
		t.Errorf("report = total %d, created %d; want 1, 1", report.TotalRows, report.Created)
	}
}

func TestExport_RoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)
	asOf := date(2024, 1, 1)

	original := "CODE,NAME,PRICE\nA1,Anvil,10\nA2,Axe,25.50\n"
	if _, err := svc.Import(ctx, ownerID, dictID, []byte(original), asOf); err != nil {
		t.Fatal(err)
	}

	exported, err := svc.Export(ctx, dictID, asOf)
	if err != nil {
		t.Fatalf("Export error = %v", err)
	}

	records, err := csv.NewReader(bytes.NewReader(exported)).ReadAll()
	if err != nil {
		t.Fatalf("exported CSV does not parse: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("exported %d records, want header + 2 rows", len(records))
	}
	if got := strings.Join(records[0], ","); got != "CODE,NAME,PRICE" {
		t.Errorf("header = %q, want CODE,NAME,PRICE in definition order", got)
	}

	byCode := make(map[string][]string)
	for _, rec := range records[1:] {
		byCode[rec[0]] = rec
	}
	if rec := byCode["A1"]; rec == nil || rec[1] != "Anvil" || rec[2] != "10" {
		t.Errorf("A1 row = %v, want [A1 Anvil 10]", rec)
	}
	if rec := byCode["A2"]; rec == nil || rec[2] != "25.50" {
		t.Errorf("A2 row = %v, want price 25.50", rec)
	}

	// Importing the export back changes nothing.
	report, err := svc.Import(ctx, ownerID, dictID, exported, asOf)
	if err != nil {
		t.Fatal(err)
	}
	if report.Created != 0 || report.Updated != 0 || report.Unchanged != 2 {
		t.Errorf("round-trip report = created %d, updated %d, unchanged %d; want 0, 0, 2",
			report.Created, report.Updated, report.Unchanged)
	}
}

func TestExport_AsOfSelectsEffectiveValues(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	dictID := newPriceDictionary(t, svc)

	if _, err := svc.Import(ctx, ownerID, dictID,
		[]byte("CODE,NAME,PRICE\nA1,Anvil,10\n"), date(2024, 1, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Import(ctx, ownerID, dictID,
		[]byte("CODE,NAME,PRICE\nA1,Anvil,12\n"), date(2024, 6, 1)); err != nil {
		t.Fatal(err)
	}

	check := func(asOf time.Time, wantPrice string) {
		t.Helper()
		data, err := svc.Export(ctx, dictID, asOf)
		if err != nil {
			t.Fatal(err)
		}
		records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 2 {
			t.Fatalf("exported %d records, want 2", len(records))
		}
		if records[1][2] != wantPrice {
			t.Errorf("PRICE as of %s = %q, want %q",
				asOf.Format("2006-01-02"), records[1][2], wantPrice)
		}
	}

	check(date(2024, 3, 1), "10")
	check(date(2024, 7, 1), "12")
}
