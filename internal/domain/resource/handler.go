package resource

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/HadaRoshan/FHIR-api/internal/platform/fhir"
	"github.com/HadaRoshan/FHIR-api/internal/platform/middleware"
	"github.com/HadaRoshan/FHIR-api/internal/platform/query"
	"github.com/HadaRoshan/FHIR-api/pkg/pagination"
)

// reservedParams are query parameters consumed by the handler rather than
// applied as search parameters.
var reservedParams = []string{"system_name", "patient", "page_num", "page_size"}

type Handler struct {
	svc    *Service
	bundle *BundleRunner
}

func NewHandler(svc *Service, bundle *BundleRunner) *Handler {
	return &Handler{svc: svc, bundle: bundle}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	for _, kind := range fhir.AllKinds() {
		api.GET("/"+kind.TypeName(), h.Search(kind))
	}
	api.GET("/fhirresource", h.GetResource)
	api.GET("/systems", h.ListSystems)
	if h.bundle != nil {
		api.POST("/bundle", h.ProcessBundle)
	}
}

// Search returns the handler serving paginated searches over one kind.
func (h *Handler) Search(kind fhir.ResourceKind) echo.HandlerFunc {
	return func(c echo.Context) error {
		system, err := requiredParam(c, "system_name")
		if err != nil {
			return err
		}
		patient, err := requiredParam(c, "patient")
		if err != nil {
			return err
		}
		p, err := pagination.FromContext(c)
		if err != nil {
			return err
		}

		start := time.Now()
		result, err := h.svc.Search(c.Request().Context(), SearchRequest{
			Kind:     kind.String(),
			System:   system,
			Patient:  patient,
			Params:   query.ExtractSearchParams(c, reservedParams...),
			Elements: c.QueryParam("_elements"),
			Sort:     c.QueryParam("_sort"),
		})
		if err != nil {
			return err
		}
		middleware.AddServerTiming(c, "search", time.Since(start))

		page, err := pagination.Paginate(result.Data, p, c.Request().URL.Path, c.QueryParams())
		if err != nil {
			return err
		}
		page.Message = result.Message
		return c.JSON(http.StatusOK, page)
	}
}

// GetResource returns up to the first 100 records of any resource kind for
// a patient.
func (h *Handler) GetResource(c echo.Context) error {
	raw, err := requiredParam(c, "resource")
	if err != nil {
		return err
	}
	kind, err := fhir.ParseResourceKind(raw)
	if err != nil {
		return err
	}
	system, err := requiredParam(c, "system_name")
	if err != nil {
		return err
	}
	patient, err := requiredParam(c, "yy__patient_id")
	if err != nil {
		return err
	}

	result, err := h.svc.Resolve(c.Request().Context(), kind, system, patient)
	if err != nil {
		return err
	}
	if !result.Found() {
		return c.JSON(http.StatusOK, map[string]string{"message": MessageNoFiles})
	}

	data := result.Data
	if len(data) > previewLimit {
		data = data[:previewLimit]
	}
	return c.JSON(http.StatusOK, &Result{Data: data, Message: MessageSuccess})
}

func (h *Handler) ListSystems(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"systems": h.svc.Systems(),
	})
}

// ProcessBundle replays the GET entries of a posted Bundle against this
// server and returns their responses as a JSON array.
func (h *Handler) ProcessBundle(c echo.Context) error {
	var bundle Bundle
	if err := c.Bind(&bundle); err != nil {
		return &fhir.ValidationError{Param: "bundle", Reason: "malformed JSON body"}
	}

	prefix := strings.TrimSuffix(c.Path(), "/bundle")
	out, err := h.bundle.Run(c.Request().Context(), prefix, c.Request().Header, &bundle)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func requiredParam(c echo.Context, name string) (string, error) {
	v := strings.TrimSpace(c.QueryParam(name))
	if v == "" {
		return "", &fhir.ValidationError{Param: name, Reason: "is required"}
	}
	return v, nil
}
