package resource

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/HadaRoshan/FHIR-api/internal/config"
	"github.com/HadaRoshan/FHIR-api/internal/platform/query"
	"github.com/HadaRoshan/FHIR-api/internal/platform/table"
)

const observations = "/data/epic_db/observation"

func testSystems() *config.SystemConfig {
	return &config.SystemConfig{
		Systems: map[string]config.SystemEntry{
			"epic":   {DBName: "epic_db", PatientColumn: config.DefaultPatientColumn},
			"cerner": {DBName: "cerner_db", PatientColumn: "pid"},
		},
		Paths: config.Paths{BasePath: "/data"},
	}
}

func writeRecords(t *testing.T, fsys afero.Fs, name string, rows ...table.Record) {
	t.Helper()
	var buf bytes.Buffer
	w := table.NewNDJSONWriter(&buf)
	for _, r := range rows {
		if err := w.WriteRecord(r); err != nil {
			t.Fatalf("write record: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if err := afero.WriteFile(fsys, name, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func seededFs(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	writeRecords(t, fsys, observations+"/yy__patient_id=1/part-0.ndjson",
		table.Record{"resourceType": "Observation", "id": "o1", "code": "8480-6", "status": "final", "value_quantity": 120.0},
		table.Record{"resourceType": "Observation", "id": "o2", "code": "8462-4", "status": "final", "value_quantity": 80.0},
		table.Record{"resourceType": "Observation", "id": "o4", "code": "8480-6", "status": "amended", "value_quantity": 135.0},
	)
	writeRecords(t, fsys, observations+"/yy__patient_id=2/part-0.ndjson",
		table.Record{"resourceType": "Observation", "id": "o3", "code": "8480-6", "status": "final", "value_quantity": 110.0},
	)
	return fsys
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := table.NewStore(table.NewFSStorage(seededFs(t)), zerolog.Nop())
	return NewService(testSystems(), store, query.NewEngine(zerolog.Nop()), zerolog.Nop())
}

func ids(rows []table.Record) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		id, _ := r["id"].(string)
		out = append(out, id)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
