package resource

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/HadaRoshan/FHIR-api/internal/platform/fhir"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	h := NewHandler(newTestService(t), nil)
	return h, echo.New()
}

type pageBody struct {
	Data       []map[string]interface{} `json:"data"`
	Total      int                      `json:"total"`
	Count      int                      `json:"count"`
	PageNum    int                      `json:"page_num"`
	PageSize   int                      `json:"page_size"`
	Message    string                   `json:"message"`
	Pagination struct {
		Previous *string `json:"previous"`
		Next     *string `json:"next"`
	} `json:"pagination"`
}

func TestHandler_Search_Paginates(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/Observation?system_name=epic&patient=1&page_size=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Search(fhir.KindObservation)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var page pageBody
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || page.Count != 2 || page.PageNum != 1 || page.PageSize != 2 {
		t.Errorf("unexpected page header %+v", page)
	}
	if page.Pagination.Previous != nil {
		t.Errorf("expected no previous link, got %q", *page.Pagination.Previous)
	}
	want := "/api/v1/Observation?page_num=2&page_size=2&patient=1&system_name=epic"
	if page.Pagination.Next == nil || *page.Pagination.Next != want {
		t.Errorf("expected next link %q, got %v", want, page.Pagination.Next)
	}
}

func TestHandler_Search_LastPage(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/Observation?system_name=epic&patient=1&page_num=2&page_size=2&code=8480-6", nil)
	rec := httptest.NewRecorder()
	if err := h.Search(fhir.KindObservation)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var page pageBody
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || page.Count != 0 {
		t.Errorf("expected total 2 count 0, got %d %d", page.Total, page.Count)
	}
	if page.Pagination.Next != nil {
		t.Error("expected no next link on the last page")
	}
	if page.Pagination.Previous == nil {
		t.Error("expected a previous link")
	}
}

func TestHandler_Search_NoFiles(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/Encounter?system_name=epic&patient=1", nil)
	rec := httptest.NewRecorder()
	if err := h.Search(fhir.KindEncounter)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var page pageBody
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Message != MessageNoFiles || page.Total != 0 || page.Data == nil {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestHandler_Search_Errors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		param string
	}{
		{"missing system", "?patient=1", "system_name"},
		{"missing patient", "?system_name=epic", "patient"},
		{"bad page", "?system_name=epic&patient=1&page_num=0", "page_num"},
		{"bad page size", "?system_name=epic&patient=1&page_size=x", "page_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, e := newTestHandler(t)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/Observation"+tt.query, nil)
			err := h.Search(fhir.KindObservation)(e.NewContext(req, httptest.NewRecorder()))

			var ve *fhir.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Param != tt.param {
				t.Errorf("expected param %q, got %q", tt.param, ve.Param)
			}
		})
	}
}

func TestHandler_Search_UnregisteredSystem(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/Observation?system_name=meditech&patient=1", nil)
	err := h.Search(fhir.KindObservation)(e.NewContext(req, httptest.NewRecorder()))

	var ce *fhir.ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestHandler_GetResource(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fhirresource?resource=observation&system_name=epic&yy__patient_id=2", nil)
	rec := httptest.NewRecorder()
	if err := h.GetResource(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body struct {
		Data    []map[string]interface{} `json:"data"`
		Message string                   `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Message != MessageSuccess || len(body.Data) != 1 || body.Data[0]["id"] != "o3" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_GetResource_NoFiles(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fhirresource?resource=goal&system_name=epic&yy__patient_id=2", nil)
	rec := httptest.NewRecorder()
	if err := h.GetResource(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := rec.Body.String(); got != "{\"message\":\"No files found\"}\n" {
		t.Errorf("unexpected body %q", got)
	}
}

func TestHandler_GetResource_Wildcard(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/fhirresource?resource=all&system_name=epic&yy__patient_id=2", nil)
	err := h.GetResource(e.NewContext(req, httptest.NewRecorder()))
	var ve *fhir.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestHandler_ListSystems(t *testing.T) {
	h, e := newTestHandler(t)

	rec := httptest.NewRecorder()
	if err := h.ListSystems(e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/systems", nil), rec)); err != nil {
		t.Fatal(err)
	}
	var body map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !equalStrings(body["systems"], []string{"cerner", "epic"}) {
		t.Errorf("unexpected systems %v", body["systems"])
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler(t)
	h.RegisterRoutes(e.Group("/api/v1"))

	routes := map[string]bool{}
	for _, r := range e.Routes() {
		routes[r.Method+" "+r.Path] = true
	}
	for _, kind := range fhir.AllKinds() {
		if !routes["GET /api/v1/"+kind.TypeName()] {
			t.Errorf("missing route for %s", kind.TypeName())
		}
	}
	if !routes["GET /api/v1/fhirresource"] || !routes["GET /api/v1/systems"] {
		t.Error("missing generic routes")
	}
	if routes["POST /api/v1/bundle"] {
		t.Error("bundle route registered without a runner")
	}
}
