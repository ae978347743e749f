package resource

import (
	"github.com/HadaRoshan/FHIR-api/internal/platform/table"
)

const (
	// MessageNoFiles is returned in place of an error when the resource
	// table or the patient's partition does not exist.
	MessageNoFiles = "No files found"
	MessageSuccess = "Success"

	// previewLimit caps the records returned by the generic resource route.
	previewLimit = 100
)

// Result is the outcome of resolving a resource for one patient.
type Result struct {
	Data    []table.Record `json:"data"`
	Message string         `json:"message,omitempty"`
}

// Found reports whether a table was located, regardless of row count.
func (r *Result) Found() bool {
	return r.Message != MessageNoFiles
}

// SearchRequest is one resource search scoped to a system and patient.
type SearchRequest struct {
	Kind    string
	System  string
	Patient string

	// Params are FHIR search parameters keyed by name, with an optional
	// ":modifier" suffix.
	Params   map[string]string
	Elements string
	Sort     string
	Limit    int
}

// refines reports whether the request needs the query engine.
func (r SearchRequest) refines() bool {
	return len(r.Params) > 0 || r.Elements != "" || r.Sort != "" || r.Limit > 0
}

// Bundle is a batch of read requests replayed against this server.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	Entry        []BundleEntry `json:"entry"`
}

type BundleEntry struct {
	Request BundleRequest `json:"request"`
}

type BundleRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}
