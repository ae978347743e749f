package table

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/HadaRoshan/FHIR-api/internal/platform/fhir"
	"github.com/HadaRoshan/FHIR-api/internal/platform/metrics"
	"github.com/HadaRoshan/FHIR-api/internal/platform/partition"
)

// openTimeout bounds a shared open, which outlives the caller that
// started it.
const openTimeout = time.Minute

// Store caches open table handles by location for the life of the process.
// Handles are never evicted; failed opens are not cached.
type Store struct {
	storage Storage
	logger  zerolog.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
	group   singleflight.Group
}

// NewStore creates a Store over storage.
func NewStore(storage Storage, logger zerolog.Logger) *Store {
	return &Store{
		storage: storage,
		logger:  logger.With().Str("component", "table").Logger(),
		handles: make(map[string]*Handle),
	}
}

func (s *Store) cached(location string) *Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handles[location]
}

// OpenOrGet returns the handle for location, opening it on first use.
// Concurrent first calls for one location share a single open, which is not
// cancelled when the caller that started it goes away. Each caller stops
// waiting when its own ctx is done.
func (s *Store) OpenOrGet(ctx context.Context, location string) (*Handle, error) {
	if h := s.cached(location); h != nil {
		metrics.TableCacheHitsTotal.Inc()
		return h, nil
	}

	ch := s.group.DoChan(location, func() (interface{}, error) {
		if h := s.cached(location); h != nil {
			return h, nil
		}
		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), openTimeout)
		defer cancel()
		h, err := openHandle(openCtx, s.storage, location)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.handles[location] = h
		s.mu.Unlock()
		metrics.TableOpensTotal.WithLabelValues("ok").Inc()
		s.logger.Debug().Str("location", location).Int("files", len(h.Files)).Msg("table opened")
		return h, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, &fhir.QueryExecutionError{Op: "open table " + location, Err: ctx.Err()}
	}
	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			metrics.TableOpensTotal.WithLabelValues("not_found").Inc()
			s.logger.Warn().Str("location", location).Msg("no table at location")
			return nil, &fhir.NotFoundError{Location: location, Err: err}
		}
		metrics.TableOpensTotal.WithLabelValues("error").Inc()
		return nil, &fhir.QueryExecutionError{Op: "open table " + location, Err: err}
	}
	return v.(*Handle), nil
}

// Read materializes the rows of h that satisfy filter. Files whose
// partition values fail the filter are skipped without being opened.
func (s *Store) Read(ctx context.Context, h *Handle, filter partition.Filter) (*Batch, error) {
	if err := filter.Validate(); err != nil {
		return nil, &fhir.ValidationError{Reason: err.Error()}
	}

	batch := NewBatch()
	pruned := 0
	for _, f := range h.Files {
		if err := ctx.Err(); err != nil {
			return nil, &fhir.QueryExecutionError{Op: "read table " + h.Location, Err: err}
		}
		if !filter.Matches(f.Partitions) {
			pruned++
			continue
		}
		if err := s.readFile(ctx, f, filter, batch); err != nil {
			return nil, &fhir.QueryExecutionError{Op: "read " + f.Path, Err: err}
		}
		batch.Files = append(batch.Files, f.Path)
	}

	metrics.TableFilesTotal.WithLabelValues("pruned").Add(float64(pruned))
	metrics.TableFilesTotal.WithLabelValues("read").Add(float64(len(batch.Files)))
	s.logger.Debug().
		Str("location", h.Location).
		Str("filter", filter.String()).
		Int("files_read", len(batch.Files)).
		Int("files_pruned", pruned).
		Int("rows", batch.Len()).
		Msg("table read")
	return batch, nil
}

func (s *Store) readFile(ctx context.Context, f DataFile, filter partition.Filter, batch *Batch) error {
	rc, err := s.storage.Open(ctx, f.Key)
	if err != nil {
		return err
	}
	defer rc.Close()

	emit := func(row Record) error {
		for col, val := range f.Partitions {
			if _, ok := row[col]; !ok {
				row[col] = val
			}
		}
		if filter.MatchesRow(row) {
			batch.Append(row)
		}
		return nil
	}
	switch f.Format {
	case FormatParquet:
		return decodeParquetObject(rc, f.Size, emit)
	case FormatNDJSON:
		return DecodeRecords(rc, f.Gzip, emit)
	}
	return fmt.Errorf("unsupported data file format %s", f.Format)
}

// Load resolves location and reads it in one step.
func (s *Store) Load(ctx context.Context, location string, filter partition.Filter) (*Batch, error) {
	h, err := s.OpenOrGet(ctx, location)
	if err != nil {
		return nil, err
	}
	batch, err := s.Read(ctx, h, filter)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", location, err)
	}
	return batch, nil
}

// Len returns the number of cached handles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}
