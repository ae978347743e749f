package fhir

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// CapabilityConfig holds top-level server metadata for the CapabilityStatement.
type CapabilityConfig struct {
	ServerName    string
	ServerVersion string
	BaseURL       string
	// AuthRequired adds a security section naming bearer tokens.
	AuthRequired bool
}

const fhirVersion = "4.0.1"

// reservedSearchParams are accepted by every resource route alongside the
// kind's bound parameters.
var reservedSearchParams = []SearchParamCapability{
	{Name: "system_name", Type: "string", Documentation: "Registered data system to read from"},
	{Name: "patient", Type: "reference", Documentation: "Patient id, Patient/id or absolute reference"},
	{Name: "_elements", Type: "special", Documentation: "Comma-separated columns to return"},
	{Name: "_sort", Type: "special", Documentation: "Comma-separated parameters, - prefix for descending"},
}

// SearchParamCapability describes a search parameter in a resource entry.
type SearchParamCapability struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Documentation string `json:"documentation,omitempty"`
}

// CapabilityBuilder builds the CapabilityStatement for the resource catalog.
// The statement is computed once and reused.
type CapabilityBuilder struct {
	config CapabilityConfig

	once      sync.Once
	statement map[string]interface{}
}

func NewCapabilityBuilder(cfg CapabilityConfig) *CapabilityBuilder {
	return &CapabilityBuilder{config: cfg}
}

// Build returns the CapabilityStatement. Resources are sorted by type name
// and each lists its bound search parameters sorted by name.
func (b *CapabilityBuilder) Build() map[string]interface{} {
	b.once.Do(func() {
		b.statement = b.build()
	})
	return b.statement
}

func (b *CapabilityBuilder) build() map[string]interface{} {
	kinds := AllKinds()
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].TypeName() < kinds[j].TypeName() })

	resources := make([]map[string]interface{}, 0, len(kinds))
	for _, k := range kinds {
		resources = append(resources, map[string]interface{}{
			"type":        k.TypeName(),
			"interaction": []map[string]string{{"code": "search-type"}},
			"searchParam": searchParamCapabilities(k),
		})
	}

	rest := map[string]interface{}{
		"mode":     "server",
		"resource": resources,
	}
	if b.config.AuthRequired {
		rest["security"] = map[string]interface{}{
			"description": "Bearer tokens are required on all resource routes",
		}
	}

	stmt := map[string]interface{}{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"date":         time.Now().UTC().Format(time.RFC3339),
		"kind":         "instance",
		"fhirVersion":  fhirVersion,
		"format":       []string{"json"},
		"software": map[string]string{
			"name":    b.config.ServerName,
			"version": b.config.ServerVersion,
		},
		"rest": []map[string]interface{}{rest},
	}
	if b.config.BaseURL != "" {
		stmt["implementation"] = map[string]string{
			"description": b.config.ServerName,
			"url":         b.config.BaseURL,
		}
	}
	return stmt
}

func searchParamCapabilities(k ResourceKind) []SearchParamCapability {
	params := SearchParams(k)
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]SearchParamCapability, 0, len(names)+len(reservedSearchParams))
	for _, name := range names {
		out = append(out, SearchParamCapability{Name: name, Type: params[name].Type.String()})
	}
	return append(out, reservedSearchParams...)
}

// Handler serves the CapabilityStatement.
func (b *CapabilityBuilder) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, b.Build())
	}
}
