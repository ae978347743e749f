package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"

	"github.com/spf13/cobra"

	"github.com/HadaRoshan/FHIR-api/internal/domain/resource"
	"github.com/HadaRoshan/FHIR-api/internal/platform/fhir"
	"github.com/HadaRoshan/FHIR-api/internal/platform/table"
	"github.com/HadaRoshan/FHIR-api/pkg/pagination"
)

func resourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "List the supported resource types",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResources(cmd.OutOrStdout())
		},
	}
}

func printResources(w io.Writer) error {
	for _, k := range fhir.AllKinds() {
		if _, err := fmt.Fprintf(w, "%-28s %s\n", k.TypeName(), k.StorageName()); err != nil {
			return err
		}
	}
	return nil
}

func systemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "systems",
		Short: "List the registered data systems",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range a.systems.Names() {
				entry, _ := a.systems.Lookup(name)
				fmt.Fprintf(out, "%-16s db=%s patient_column=%s\n", name, entry.DBName, entry.PatientColumn)
			}
			return nil
		},
	}
}

type resolveOptions struct {
	resource string
	system   string
	patient  string
	pageNum  int
	pageSize int
	ndjson   bool
}

func resolveCmd() *cobra.Command {
	opts := resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve one resource for a patient and print a page of results",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			return runResolve(cmd, a.svc, a.cfg.APIPrefix, opts)
		},
	}
	cmd.Flags().StringVar(&opts.resource, "resource", "", "resource type, e.g. Observation")
	cmd.Flags().StringVar(&opts.system, "system", "", "registered system name")
	cmd.Flags().StringVar(&opts.patient, "patient", "", "patient id or reference")
	cmd.Flags().IntVar(&opts.pageNum, "page-num", pagination.DefaultPageNum, "1-based page number")
	cmd.Flags().IntVar(&opts.pageSize, "page-size", pagination.DefaultPageSize, "records per page")
	cmd.Flags().BoolVar(&opts.ndjson, "ndjson", false, "print the page's records as NDJSON")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("system")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func runResolve(cmd *cobra.Command, svc *resource.Service, apiPrefix string, opts resolveOptions) error {
	kind, err := fhir.ParseResourceKind(opts.resource)
	if err != nil {
		return err
	}
	result, err := svc.Search(cmd.Context(), resource.SearchRequest{
		Kind:    kind.String(),
		System:  opts.system,
		Patient: opts.patient,
	})
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("system_name", opts.system)
	q.Set("patient", opts.patient)
	p := pagination.Params{PageNum: opts.pageNum, PageSize: opts.pageSize}
	page, err := pagination.Paginate(result.Data, p, path.Join(apiPrefix, kind.TypeName()), q)
	if err != nil {
		return err
	}
	page.Message = result.Message

	out := cmd.OutOrStdout()
	if opts.ndjson {
		w := table.NewNDJSONWriter(out)
		for _, rec := range page.Data {
			if err := w.WriteRecord(rec); err != nil {
				return err
			}
		}
		return w.Close()
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(page)
}
