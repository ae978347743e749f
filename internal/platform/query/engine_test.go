package query

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/HadaRoshan/FHIR-api/internal/platform/fhir"
	"github.com/HadaRoshan/FHIR-api/internal/platform/table"
)

func observationBatch() *table.Batch {
	b := table.NewBatch()
	b.Append(table.Record{"resourceType": "Observation", "id": "o1", "code": "8480-6", "status": "final",
		"value_quantity": 120.0, "effective_datetime": "2024-01-15T10:00:00Z", "has_member": true,
		"meta": map[string]any{"versionId": "1"}})
	b.Append(table.Record{"resourceType": "Observation", "id": "o2", "code": "8462-4", "status": "final",
		"value_quantity": 80.0, "effective_datetime": "2024-01-16T10:00:00Z", "has_member": false})
	b.Append(table.Record{"resourceType": "Observation", "id": "o3", "code": "8480-6", "status": "amended",
		"value_quantity": 135.0, "effective_datetime": "2024-02-01T09:00:00Z",
		"component": []any{map[string]any{"code": "x"}}})
	return b
}

func ids(rows []table.Record) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r["id"].(string)
	}
	return out
}

func TestEngine_NoRefinementKeepsOrder(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	rows, err := e.Execute(context.Background(), observationBatch(), NewSearchQuery(nil).Build())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := ids(rows)
	if len(got) != 3 || got[0] != "o1" || got[1] != "o2" || got[2] != "o3" {
		t.Errorf("unexpected order %v", got)
	}
}

func TestEngine_RoundTripsTypes(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	rows, err := e.Execute(context.Background(), observationBatch(), NewSearchQuery(nil).Build())
	if err != nil {
		t.Fatal(err)
	}
	first := rows[0]
	if first["value_quantity"] != 120.0 {
		t.Errorf("expected float, got %#v", first["value_quantity"])
	}
	if first["has_member"] != true {
		t.Errorf("expected bool, got %#v", first["has_member"])
	}
	meta, ok := first["meta"].(map[string]any)
	if !ok || meta["versionId"] != "1" {
		t.Errorf("expected nested meta, got %#v", first["meta"])
	}
	if _, ok := first["component"]; ok {
		t.Error("expected NULL columns to be dropped")
	}
	if _, ok := rows[2]["component"].([]any); !ok {
		t.Errorf("expected nested array, got %#v", rows[2]["component"])
	}
}

func TestEngine_Refinement(t *testing.T) {
	b := observationBatch()
	q := NewSearchQuery(b.Columns)
	params := map[string]string{"code": "8480-6", "value-quantity": "gt125"}
	if err := q.ApplyParams(params, fhir.SearchParams(fhir.KindObservation)); err != nil {
		t.Fatal(err)
	}

	rows, err := NewEngine(zerolog.Nop()).Execute(context.Background(), b, q.Build())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(rows); len(got) != 1 || got[0] != "o3" {
		t.Errorf("unexpected rows %v", got)
	}
}

func TestEngine_DateAndSort(t *testing.T) {
	b := observationBatch()
	q := NewSearchQuery(b.Columns)
	if err := q.AddDate("effective_datetime", "ge2024-01-16"); err != nil {
		t.Fatal(err)
	}
	q.ApplySort("-date", fhir.SearchParams(fhir.KindObservation))

	rows, err := NewEngine(zerolog.Nop()).Execute(context.Background(), b, q.Build())
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(rows); len(got) != 2 || got[0] != "o3" || got[1] != "o2" {
		t.Errorf("unexpected rows %v", got)
	}
}

func TestEngine_ProjectionAndLimit(t *testing.T) {
	b := observationBatch()
	q := NewSearchQuery(b.Columns)
	q.ApplyElements("status")
	q.Limit(2)

	rows, err := NewEngine(zerolog.Nop()).Execute(context.Background(), b, q.Build())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if len(rows[0]) != 3 {
		t.Errorf("expected resourceType, id and status only, got %v", rows[0])
	}
}

func TestEngine_MissingColumnMatchesNothing(t *testing.T) {
	b := observationBatch()
	q := NewSearchQuery(b.Columns)
	q.AddString("value_string", "x", "")

	rows, err := NewEngine(zerolog.Nop()).Execute(context.Background(), b, q.Build())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 || rows == nil {
		t.Errorf("expected empty non-nil result, got %#v", rows)
	}
}

func TestEngine_EmptyBatch(t *testing.T) {
	rows, err := NewEngine(zerolog.Nop()).Execute(context.Background(), table.NewBatch(), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("expected empty result, got %#v", rows)
	}
}

func TestEngine_BadQuery(t *testing.T) {
	_, err := NewEngine(zerolog.Nop()).Execute(context.Background(), observationBatch(), Query{Where: "no_such_fn(id)"})
	var qe *fhir.QueryExecutionError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryExecutionError, got %v", err)
	}
}

func TestEngine_RowidKeyKeepsReadOrder(t *testing.T) {
	b := table.NewBatch()
	b.Append(table.Record{"id": "a", "rowid": "9"})
	b.Append(table.Record{"id": "b", "rowid": "1"})
	b.Append(table.Record{"id": "c", "rowid": "5"})

	rows, err := NewEngine(zerolog.Nop()).Execute(context.Background(), b, NewSearchQuery(b.Columns).Build())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := ids(rows)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("unexpected order %v", got)
	}
	if rows[1]["rowid"] != "1" {
		t.Errorf("expected rowid key to round-trip, got %#v", rows[1]["rowid"])
	}
}

func TestEngine_CaseCollidingColumns(t *testing.T) {
	b := table.NewBatch()
	b.Append(table.Record{"id": "o1", "Id": "upper-1", "status": "final"})
	b.Append(table.Record{"id": "o2", "Id": "upper-2", "status": "amended"})

	q := NewSearchQuery(b.Columns)
	q.Add(q.ident("Id")+" = ?", "upper-2")
	rows, err := NewEngine(zerolog.Nop()).Execute(context.Background(), b, q.Build())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["id"] != "o2" || rows[0]["Id"] != "upper-2" {
		t.Errorf("unexpected row %#v", rows[0])
	}
	if _, ok := rows[0][ordinalColumn]; ok {
		t.Error("ordinal column must not be returned")
	}
}

func TestEngine_JSONNumbers(t *testing.T) {
	b := table.NewBatch()
	b.Append(table.Record{"id": "o1", "yy__patient_id": json.Number("1234567"), "value": json.Number("120.5")})
	b.Append(table.Record{"id": "o2", "yy__patient_id": json.Number("42"), "value": json.Number("80")})

	q := NewSearchQuery(b.Columns)
	if err := q.AddNumber("value", "gt100"); err != nil {
		t.Fatal(err)
	}
	rows, err := NewEngine(zerolog.Nop()).Execute(context.Background(), b, q.Build())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != "o1" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if rows[0]["yy__patient_id"] != int64(1234567) {
		t.Errorf("expected integer id, got %#v", rows[0]["yy__patient_id"])
	}
}

func TestColumnNames(t *testing.T) {
	got := columnNames([]string{"id", "Id", "ID", "__ord", "status"})
	want := map[string]string{"id": "id", "Id": "Id__2", "ID": "ID__3", "__ord": "__ord__2", "status": "status"}
	for col, name := range want {
		if got[col] != name {
			t.Errorf("columnNames[%q] = %q, want %q", col, got[col], name)
		}
	}
}

func TestEngine_SessionsAreIndependent(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	for i := 0; i < 3; i++ {
		rows, err := e.Execute(context.Background(), observationBatch(), Query{})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if len(rows) != 3 {
			t.Fatalf("run %d: expected 3 rows, got %d", i, len(rows))
		}
	}
}
