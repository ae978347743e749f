package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/labstack/echo/v4"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/HadaRoshan/FHIR-api/internal/platform/fhir"
	"github.com/HadaRoshan/FHIR-api/internal/platform/metrics"
)

const maxBundleEntries = 100

// BundleRunner replays the entries of a Bundle as GET requests against this
// server on a bounded worker pool. Responses keep entry order.
type BundleRunner struct {
	origin string
	client *retryablehttp.Client
	pool   *ants.Pool
	logger zerolog.Logger
}

// NewBundleRunner creates a runner that sends every entry to origin, the
// scheme and host this server is reachable on from itself.
func NewBundleRunner(origin string, workers, retryMax int, logger zerolog.Logger) (*BundleRunner, error) {
	if origin == "" {
		return nil, fmt.Errorf("bundle origin is required")
	}
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(v any) {
		logger.Error().Interface("panic", v).Msg("bundle entry panic")
	}))
	if err != nil {
		return nil, fmt.Errorf("create bundle pool: %w", err)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = 50 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	client.Logger = nil

	return &BundleRunner{origin: strings.TrimSuffix(origin, "/"), client: client, pool: pool, logger: logger}, nil
}

// Close releases the worker pool.
func (b *BundleRunner) Close() {
	b.pool.Release()
}

// Validate checks the bundle shape before any entry is replayed.
func (b *BundleRunner) Validate(bundle *Bundle) error {
	if bundle.ResourceType != "Bundle" {
		return &fhir.ValidationError{Param: "resourceType", Value: bundle.ResourceType, Reason: "must be Bundle"}
	}
	if len(bundle.Entry) > maxBundleEntries {
		return &fhir.ValidationError{Param: "entry", Reason: fmt.Sprintf("at most %d entries are allowed", maxBundleEntries)}
	}
	for i, e := range bundle.Entry {
		if !strings.EqualFold(e.Request.Method, http.MethodGet) {
			return &fhir.ValidationError{
				Param:  fmt.Sprintf("entry[%d].request.method", i),
				Value:  e.Request.Method,
				Reason: "only GET entries are supported",
			}
		}
		if !strings.HasPrefix(e.Request.URL, "/") {
			return &fhir.ValidationError{
				Param:  fmt.Sprintf("entry[%d].request.url", i),
				Value:  e.Request.URL,
				Reason: "must be a path on this server",
			}
		}
	}
	return nil
}

// Run replays every entry against the runner's origin and returns the
// response bodies in entry order. Entry paths not already under prefix are
// mounted on it. The caller's credentials and request id carry over to each
// sub-request.
func (b *BundleRunner) Run(ctx context.Context, prefix string, header http.Header, bundle *Bundle) ([]json.RawMessage, error) {
	if err := b.Validate(bundle); err != nil {
		return nil, err
	}

	out := make([]json.RawMessage, len(bundle.Entry))
	var wg sync.WaitGroup
	for i, entry := range bundle.Entry {
		i, url := i, entryURL(b.origin, prefix, entry.Request.URL)
		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			out[i] = b.fetch(ctx, url, header)
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return nil, &fhir.QueryExecutionError{Op: "bundle submit", Err: err}
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BundleRunner) fetch(ctx context.Context, url string, header http.Header) json.RawMessage {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return b.failed(url, "error", err)
	}
	for _, h := range []string{echo.HeaderAuthorization, echo.HeaderXRequestID} {
		if v := header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return b.failed(url, "error", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return b.failed(url, "error", err)
	}
	metrics.BundleEntriesTotal.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	if !json.Valid(body) {
		raw, _ := json.Marshal(fhir.ErrorOutcome(fmt.Sprintf("non-JSON response with status %d", resp.StatusCode)))
		return raw
	}
	return body
}

func (b *BundleRunner) failed(url, label string, err error) json.RawMessage {
	metrics.BundleEntriesTotal.WithLabelValues(label).Inc()
	b.logger.Warn().Err(err).Str("url", url).Msg("bundle entry failed")
	raw, _ := json.Marshal(fhir.InternalErrorOutcome(err.Error()))
	return raw
}

func entryURL(origin, prefix, path string) string {
	if prefix != "" && path != prefix && !strings.HasPrefix(path, prefix+"/") {
		path = prefix + path
	}
	return origin + path
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
