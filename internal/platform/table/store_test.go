package table

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/HadaRoshan/FHIR-api/internal/platform/fhir"
	"github.com/HadaRoshan/FHIR-api/internal/platform/partition"
)

const testLocation = "/data/epic_db/observation"

func writeFile(t *testing.T, fsys afero.Fs, name string, rows ...Record) {
	t.Helper()
	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf)
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

func seededStorage(t *testing.T) *FSStorage {
	t.Helper()
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, testLocation+"/yy__patient_id=1/part-0.ndjson",
		Record{"id": "o1", "code": "8480-6"},
		Record{"id": "o2", "code": "8462-4"},
	)
	writeFile(t, fsys, testLocation+"/yy__patient_id=2/part-0.ndjson",
		Record{"id": "o3", "code": "8480-6"},
	)
	writeFile(t, fsys, testLocation+"/_SUCCESS")
	if err := afero.WriteFile(fsys, testLocation+"/yy__patient_id=1/README.txt", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewFSStorage(fsys)
}

func TestStore_OpenOrGet_Caches(t *testing.T) {
	s := NewStore(seededStorage(t), zerolog.Nop())
	ctx := context.Background()

	h1, err := s.OpenOrGet(ctx, testLocation)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := s.OpenOrGet(ctx, testLocation)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h1 != h2 {
		t.Error("expected the cached handle to be returned")
	}
	if len(h1.Files) != 2 {
		t.Errorf("expected 2 data files, got %d", len(h1.Files))
	}
	if got := h1.PartitionColumns(); len(got) != 1 || got[0] != "yy__patient_id" {
		t.Errorf("unexpected partition columns %v", got)
	}
}

func TestStore_OpenOrGet_NotFound(t *testing.T) {
	s := NewStore(NewFSStorage(afero.NewMemMapFs()), zerolog.Nop())
	_, err := s.OpenOrGet(context.Background(), "/missing/table")
	var nf *fhir.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nf.Location != "/missing/table" {
		t.Errorf("unexpected location %q", nf.Location)
	}
	if s.Len() != 0 {
		t.Error("failed opens must not be cached")
	}
}

type countingStorage struct {
	Storage
	lists int32
	delay time.Duration
}

func (c *countingStorage) List(ctx context.Context, location string) ([]Object, error) {
	atomic.AddInt32(&c.lists, 1)
	time.Sleep(c.delay)
	return c.Storage.List(ctx, location)
}

func TestStore_OpenOrGet_ConcurrentFirstAccess(t *testing.T) {
	storage := &countingStorage{Storage: seededStorage(t), delay: 20 * time.Millisecond}
	s := NewStore(storage, zerolog.Nop())

	const n = 32
	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			h, err := s.OpenOrGet(context.Background(), testLocation)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			handles[i] = h
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 1; i < n; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("handle %d differs from handle 0", i)
		}
	}
	if got := atomic.LoadInt32(&storage.lists); got != 1 {
		t.Errorf("expected exactly one physical open, got %d", got)
	}
}

type gatedStorage struct {
	Storage
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gatedStorage) List(ctx context.Context, location string) ([]Object, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Storage.List(ctx, location)
}

func TestStore_OpenOrGet_FirstCallerCancelled(t *testing.T) {
	storage := &gatedStorage{Storage: seededStorage(t), started: make(chan struct{}), release: make(chan struct{})}
	s := NewStore(storage, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.OpenOrGet(ctx, testLocation)
		firstErr <- err
	}()
	<-storage.started

	type result struct {
		h   *Handle
		err error
	}
	second := make(chan result, 1)
	go func() {
		h, err := s.OpenOrGet(context.Background(), testLocation)
		second <- result{h, err}
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("expected the cancelled caller to see context.Canceled, got %v", err)
	}
	close(storage.release)

	got := <-second
	if got.err != nil {
		t.Fatalf("expected the live caller to open the table, got %v", got.err)
	}
	if len(got.h.Files) != 2 {
		t.Errorf("expected 2 data files, got %d", len(got.h.Files))
	}
	if s.Len() != 1 {
		t.Errorf("expected the handle to be cached, got %d", s.Len())
	}
}

func TestStore_Read_PrunesByPatient(t *testing.T) {
	s := NewStore(seededStorage(t), zerolog.Nop())
	ctx := context.Background()

	batch, err := s.Load(ctx, testLocation, partition.Eq("yy__patient_id", "1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", batch.Len())
	}
	if len(batch.Files) != 1 {
		t.Errorf("expected 1 file read, got %v", batch.Files)
	}
	for _, row := range batch.Rows {
		if row["yy__patient_id"] != "1" {
			t.Errorf("expected injected partition value, got %v", row["yy__patient_id"])
		}
	}
	if !batch.HasColumn("code") || !batch.HasColumn("yy__patient_id") {
		t.Errorf("unexpected columns %v", batch.Columns)
	}
}

func TestStore_Read_FoundButEmpty(t *testing.T) {
	s := NewStore(seededStorage(t), zerolog.Nop())
	batch, err := s.Load(context.Background(), testLocation, partition.Eq("yy__patient_id", "404"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.Len() != 0 || batch.Rows == nil {
		t.Errorf("expected empty non-nil rows, got %#v", batch.Rows)
	}
}

func TestStore_Read_NoFilter(t *testing.T) {
	s := NewStore(seededStorage(t), zerolog.Nop())
	batch, err := s.Load(context.Background(), testLocation, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.Len() != 3 {
		t.Errorf("expected 3 rows, got %d", batch.Len())
	}
}

func TestStore_Read_RowLevelFilter(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/flat/encounter/part-0.ndjson",
		Record{"id": "e1", "pid": "1"},
		Record{"id": "e2", "pid": "2"},
	)
	s := NewStore(NewFSStorage(fsys), zerolog.Nop())
	batch, err := s.Load(context.Background(), "/flat/encounter", partition.Eq("pid", "2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.Len() != 1 || batch.Rows[0]["id"] != "e2" {
		t.Errorf("unexpected rows %v", batch.Rows)
	}
}

func TestStore_Read_NumericPatientIDInRow(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/flat/observation/part-0.ndjson",
		[]byte(`{"id":"o1","yy__patient_id":1234567}`+"\n"+`{"id":"o2","yy__patient_id":42}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(NewFSStorage(fsys), zerolog.Nop())

	for _, tt := range []struct{ patient, id string }{{"1234567", "o1"}, {"42", "o2"}} {
		batch, err := s.Load(context.Background(), "/flat/observation", partition.Eq("yy__patient_id", tt.patient))
		if err != nil {
			t.Fatalf("patient %s: unexpected error: %v", tt.patient, err)
		}
		if batch.Len() != 1 || batch.Rows[0]["id"] != tt.id {
			t.Errorf("patient %s: unexpected rows %v", tt.patient, batch.Rows)
		}
	}
}

func TestStore_Read_InvalidFilter(t *testing.T) {
	s := NewStore(seededStorage(t), zerolog.Nop())
	_, err := s.Load(context.Background(), testLocation, partition.Filter{{Column: "x", Op: "~"}})
	var ve *fhir.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

type failingStorage struct{ Storage }

func (failingStorage) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("disk on fire")
}

func TestStore_Read_StorageError(t *testing.T) {
	s := NewStore(failingStorage{seededStorage(t)}, zerolog.Nop())
	_, err := s.Load(context.Background(), testLocation, nil)
	var qe *fhir.QueryExecutionError
	if !errors.As(err, &qe) {
		t.Fatalf("expected QueryExecutionError, got %v", err)
	}
}

func TestStore_Read_Cancelled(t *testing.T) {
	s := NewStore(seededStorage(t), zerolog.Nop())
	h, err := s.OpenOrGet(context.Background(), testLocation)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Read(ctx, h, nil); err == nil {
		t.Error("expected cancellation error")
	}
}
