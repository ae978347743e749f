package resource

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/HadaRoshan/FHIR-api/internal/config"
	"github.com/HadaRoshan/FHIR-api/internal/platform/fhir"
	"github.com/HadaRoshan/FHIR-api/internal/platform/partition"
	"github.com/HadaRoshan/FHIR-api/internal/platform/query"
	"github.com/HadaRoshan/FHIR-api/internal/platform/table"
)

// Service resolves resource requests against the registered systems.
// It is built once at startup and safe for concurrent use.
type Service struct {
	systems *config.SystemConfig
	tables  TableRepository
	engine  QueryExecutor
	logger  zerolog.Logger
}

func NewService(systems *config.SystemConfig, tables TableRepository, engine QueryExecutor, logger zerolog.Logger) *Service {
	return &Service{systems: systems, tables: tables, engine: engine, logger: logger}
}

// Systems returns the registered system names, sorted.
func (s *Service) Systems() []string {
	if s.systems == nil {
		return []string{}
	}
	return s.systems.Names()
}

// Resolve returns every row of kind stored for patientID in the named
// system. A missing table is not an error: the result carries
// MessageNoFiles and empty data.
func (s *Service) Resolve(ctx context.Context, kind fhir.ResourceKind, systemName, patientID string) (*Result, error) {
	target, err := partition.Resolve(kind, systemName, patientID, s.systems)
	if err != nil {
		return nil, err
	}
	batch, ok, err := s.load(ctx, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return noFiles(), nil
	}
	return &Result{Data: batch.Rows}, nil
}

// Search resolves req and refines the rows with its search parameters,
// projection, ordering and limit.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*Result, error) {
	kind, err := fhir.ParseResourceKind(req.Kind)
	if err != nil {
		return nil, err
	}
	patientID, err := partition.PatientID(req.Patient)
	if err != nil {
		return nil, err
	}
	target, err := partition.Resolve(kind, req.System, patientID, s.systems)
	if err != nil {
		return nil, err
	}
	batch, ok, err := s.load(ctx, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return noFiles(), nil
	}
	if !req.refines() || batch.Len() == 0 {
		return &Result{Data: batch.Rows}, nil
	}

	configs := fhir.SearchParams(kind)
	sq := query.NewSearchQuery(batch.Columns)
	if err := sq.ApplyParams(req.Params, configs); err != nil {
		return nil, err
	}
	sq.ApplySort(req.Sort, configs)
	sq.ApplyElements(req.Elements)
	if req.Limit > 0 {
		sq.Limit(req.Limit)
	}

	rows, err := s.engine.Execute(ctx, batch, sq.Build())
	if err != nil {
		return nil, err
	}
	return &Result{Data: rows}, nil
}

// load reads the target table. ok is false when the table does not exist.
func (s *Service) load(ctx context.Context, target partition.Target) (*table.Batch, bool, error) {
	batch, err := s.tables.Load(ctx, target.Location, target.Filter)
	if fhir.IsNotFound(err) {
		s.logger.Debug().
			Str("resource", target.Kind.String()).
			Str("system", target.System).
			Str("location", target.Location).
			Msg("no files for resource")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return batch, true, nil
}

func noFiles() *Result {
	return &Result{Data: []table.Record{}, Message: MessageNoFiles}
}
