// Package partition maps a (resource kind, system, patient) request onto the
// storage location of a resource table and the partition predicate that
// prunes it to one patient.
package partition

import (
	"path"

	"github.com/HadaRoshan/FHIR-api/internal/config"
	"github.com/HadaRoshan/FHIR-api/internal/platform/fhir"
)

// Target is a resolved table location plus its partition predicate.
type Target struct {
	Kind     fhir.ResourceKind
	System   string
	Location string
	Filter   Filter
}

// Resolve locates the table for kind within the named system. The system
// must be a registered key of cfg.Systems. The returned filter carries a
// patient equality clause when patientID is non-empty.
func Resolve(kind fhir.ResourceKind, systemName, patientID string, cfg *config.SystemConfig) (Target, error) {
	if !kind.IsConcrete() {
		return Target{}, &fhir.ValidationError{
			Param:  "resource",
			Value:  kind.String(),
			Reason: "not a storage resource type",
		}
	}
	if cfg == nil {
		return Target{}, &fhir.ConfigurationError{System: systemName}
	}
	entry, ok := cfg.Lookup(systemName)
	if !ok {
		return Target{}, &fhir.ConfigurationError{System: systemName}
	}

	t := Target{
		Kind:     kind,
		System:   systemName,
		Location: path.Join(cfg.Paths.BasePath, entry.DBName, kind.StorageName()),
	}
	if patientID != "" {
		t.Filter = Eq(entry.PatientColumn, patientID)
	}
	return t, nil
}

// PatientID extracts the bare patient id from a patient parameter value,
// which may be "Patient/123", "123" or an absolute reference URL.
func PatientID(raw string) (string, error) {
	ref, err := fhir.DecodeReference(raw)
	if err != nil {
		return "", fhir.WithParam(err, "patient")
	}
	if ref.URL != "" {
		return path.Base(ref.URL), nil
	}
	return ref.ID, nil
}
