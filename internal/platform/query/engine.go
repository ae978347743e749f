package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/HadaRoshan/FHIR-api/internal/platform/fhir"
	"github.com/HadaRoshan/FHIR-api/internal/platform/metrics"
	"github.com/HadaRoshan/FHIR-api/internal/platform/table"
)

// columnKind records how a column's values were encoded on load so they
// can be decoded on the way out.
type columnKind int

const (
	kindScalar columnKind = iota
	kindBool
	kindJSON
)

// Engine runs refinement queries over batches. Each Execute call opens its
// own in-memory SQLite session and closes it before returning.
type Engine struct {
	logger zerolog.Logger
}

// NewEngine creates an Engine.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger.With().Str("component", "query").Logger()}
}

// Execute loads batch into a fresh session, runs q and returns the matching
// rows. NULL columns are dropped from the returned records.
func (e *Engine) Execute(ctx context.Context, batch *table.Batch, q Query) (out []table.Record, err error) {
	start := time.Now()
	defer func() {
		metrics.QueryDuration.WithLabelValues(metrics.StatusLabel(err)).Observe(time.Since(start).Seconds())
	}()

	if batch == nil || len(batch.Columns) == 0 || batch.Len() == 0 {
		return []table.Record{}, nil
	}

	session, err := openSession(ctx)
	if err != nil {
		return nil, &fhir.QueryExecutionError{Op: "open query session", Err: err}
	}
	defer session.Close()

	names := columnNames(batch.Columns)
	kinds, err := load(ctx, session, batch, names)
	if err != nil {
		return nil, &fhir.QueryExecutionError{Op: "load batch", Err: err}
	}

	stmt, args := render(q, batch.Columns, names)
	e.logger.Debug().Str("sql", stmt).Int("args", len(args)).Int("rows_in", batch.Len()).Msg("executing query")

	out, err = scan(ctx, session, stmt, args, kinds, names)
	if err != nil {
		return nil, &fhir.QueryExecutionError{Op: "execute query", Err: err}
	}
	return out, nil
}

func openSession(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// load creates the resource table with the ordinal column first and inserts
// every row of batch under its assigned identifier.
func load(ctx context.Context, db *sqlx.DB, batch *table.Batch, names map[string]string) (map[string]columnKind, error) {
	kinds := classify(batch)

	quoted := []string{Quote(ordinalColumn)}
	marks := []string{"?"}
	for _, col := range batch.Columns {
		quoted = append(quoted, Quote(names[col]))
		marks = append(marks, "?")
	}
	cols := strings.Join(quoted, ", ")
	create := fmt.Sprintf("CREATE TABLE %s (%s INTEGER, %s)", Table, quoted[0], strings.Join(quoted[1:], ", "))
	if _, err := db.ExecContext(ctx, create); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	ins, err := tx.PreparexContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", Table, cols, strings.Join(marks, ", ")))
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer ins.Close()

	values := make([]interface{}, len(batch.Columns)+1)
	for n, row := range batch.Rows {
		values[0] = int64(n)
		for i, col := range batch.Columns {
			v, err := encode(row[col])
			if err != nil {
				return nil, fmt.Errorf("encode column %s: %w", col, err)
			}
			values[i+1] = v
		}
		if _, err := ins.ExecContext(ctx, values...); err != nil {
			return nil, fmt.Errorf("insert row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return kinds, nil
}

// classify marks columns whose non-null values are all booleans or all
// nested objects/arrays.
func classify(batch *table.Batch) map[string]columnKind {
	kinds := make(map[string]columnKind, len(batch.Columns))
	for _, col := range batch.Columns {
		allBool, allNested, seen := true, true, false
		for _, row := range batch.Rows {
			v, ok := row[col]
			if !ok || v == nil {
				continue
			}
			seen = true
			switch v.(type) {
			case bool:
				allNested = false
			case map[string]interface{}, []interface{}:
				allBool = false
			default:
				allBool, allNested = false, false
			}
		}
		switch {
		case seen && allBool:
			kinds[col] = kindBool
		case seen && allNested:
			kinds[col] = kindJSON
		default:
			kinds[col] = kindScalar
		}
	}
	return kinds
}

func encode(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil, string, float64, int64:
		return t, nil
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		if f, err := t.Float64(); err == nil {
			return f, nil
		}
		return t.String(), nil
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return fmt.Sprint(v), nil
}

// render builds the SELECT for q. The ordinal column is only projected when
// nothing else is.
func render(q Query, columns []string, names map[string]string) (string, []interface{}) {
	project := q.Columns
	if len(project) == 0 {
		project = columns
	}
	quoted := make([]string, 0, len(project))
	for _, c := range project {
		name, ok := names[c]
		if !ok {
			continue
		}
		quoted = append(quoted, Quote(name))
	}
	proj := strings.Join(quoted, ", ")
	if proj == "" {
		proj = Quote(ordinalColumn)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", proj, Table)
	if q.Where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(q.Where)
	}
	order := q.OrderBy
	if order == "" {
		order = defaultOrder
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(order)

	args := append([]interface{}(nil), q.Args...)
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return sb.String(), args
}

func scan(ctx context.Context, db *sqlx.DB, stmt string, args []interface{}, kinds map[string]columnKind, names map[string]string) ([]table.Record, error) {
	keys := make(map[string]string, len(names))
	for col, name := range names {
		keys[name] = col
	}

	rows, err := db.QueryxContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []table.Record{}
	for rows.Next() {
		raw := make(map[string]interface{})
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(table.Record, len(raw))
		for name, value := range raw {
			col, ok := keys[name]
			if !ok || value == nil {
				continue
			}
			row[col] = decode(value, kinds[col])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func decode(v interface{}, kind columnKind) interface{} {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch kind {
	case kindBool:
		if n, ok := v.(int64); ok {
			return n != 0
		}
	case kindJSON:
		if s, ok := v.(string); ok {
			var nested interface{}
			if err := json.Unmarshal([]byte(s), &nested); err == nil {
				return nested
			}
		}
	}
	return v
}
