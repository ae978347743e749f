package resource

import (
	"context"

	"github.com/HadaRoshan/FHIR-api/internal/platform/partition"
	"github.com/HadaRoshan/FHIR-api/internal/platform/query"
	"github.com/HadaRoshan/FHIR-api/internal/platform/table"
)

// TableRepository reads the rows of a partitioned resource table.
// *table.Store implements it.
type TableRepository interface {
	Load(ctx context.Context, location string, filter partition.Filter) (*table.Batch, error)
}

// QueryExecutor refines a loaded batch. *query.Engine implements it.
type QueryExecutor interface {
	Execute(ctx context.Context, batch *table.Batch, q query.Query) ([]table.Record, error)
}

var (
	_ TableRepository = (*table.Store)(nil)
	_ QueryExecutor   = (*query.Engine)(nil)
)
