package table

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/deprecated"
	"github.com/parquet-go/parquet-go/format"
)

const parquetBatchRows = 256

// julianUnixEpoch is the Julian day number of 1970-01-01.
const julianUnixEpoch = 2440588

// parquetLeaf says where the values of one leaf column go in a record.
type parquetLeaf struct {
	path     []string
	repeated bool
	logical  *format.LogicalType
}

// DecodeParquet streams the rows of a parquet file to fn. Leaves of nested
// groups become nested maps and repeated leaves become lists. The wrapper
// groups of LIST and MAP columns are collapsed. Nulls are left out.
func DecodeParquet(r io.ReaderAt, size int64, fn func(Record) error) error {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return fmt.Errorf("open parquet: %w", err)
	}
	leaves := parquetLeaves(pf.Schema())
	buf := make([]parquet.Row, parquetBatchRows)
	for i, rg := range pf.RowGroups() {
		if err := readRowGroup(rg, leaves, buf, fn); err != nil {
			return fmt.Errorf("row group %d: %w", i, err)
		}
	}
	return nil
}

// decodeParquetObject reads a parquet object from storage. Backends whose
// readers lack random access are buffered in memory first.
func decodeParquetObject(rc io.Reader, size int64, fn func(Record) error) error {
	if ra, ok := rc.(io.ReaderAt); ok && size > 0 {
		return DecodeParquet(ra, size, fn)
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	return DecodeParquet(bytes.NewReader(data), int64(len(data)), fn)
}

func readRowGroup(rg parquet.RowGroup, leaves []parquetLeaf, buf []parquet.Row, fn func(Record) error) error {
	rows := rg.Rows()
	defer rows.Close()
	for {
		n, err := rows.ReadRows(buf)
		for _, row := range buf[:n] {
			if ferr := fn(parquetRecord(row, leaves)); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func parquetLeaves(schema *parquet.Schema) []parquetLeaf {
	cols := schema.Columns()
	leaves := make([]parquetLeaf, len(cols))
	for i, col := range cols {
		leaf := parquetLeaf{path: recordPath(col)}
		if lc, ok := schema.Lookup(col...); ok {
			leaf.repeated = lc.MaxRepetitionLevel > 0
			leaf.logical = lc.Node.Type().LogicalType()
		}
		leaves[i] = leaf
	}
	return leaves
}

// recordPath drops the LIST and MAP wrapper segments of a leaf path.
func recordPath(col []string) []string {
	out := []string{col[0]}
	for _, seg := range col[1:] {
		switch seg {
		case "list", "element", "item", "array", "bag", "key_value":
			continue
		}
		out = append(out, seg)
	}
	return out
}

func parquetRecord(row parquet.Row, leaves []parquetLeaf) Record {
	rec := Record{}
	for _, v := range row {
		c := v.Column()
		if v.IsNull() || c < 0 || c >= len(leaves) {
			continue
		}
		leaf := leaves[c]
		setPath(rec, leaf.path, parquetScalar(v, leaf.logical), leaf.repeated)
	}
	return rec
}

func setPath(rec Record, segs []string, v any, repeated bool) {
	m := rec
	for _, seg := range segs[:len(segs)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			m[seg] = child
		}
		m = child
	}
	last := segs[len(segs)-1]
	if repeated {
		list, _ := m[last].([]any)
		m[last] = append(list, v)
		return
	}
	m[last] = v
}

func parquetScalar(v parquet.Value, lt *format.LogicalType) any {
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		if lt != nil && lt.Date != nil {
			return time.Unix(int64(v.Int32())*86400, 0).UTC().Format(time.DateOnly)
		}
		return int64(v.Int32())
	case parquet.Int64:
		if lt != nil && lt.Timestamp != nil {
			return timestampString(v.Int64(), lt.Timestamp.Unit)
		}
		return v.Int64()
	case parquet.Int96:
		return int96String(v.Int96())
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	}
	return v.String()
}

func timestampString(n int64, unit format.TimeUnit) string {
	var t time.Time
	switch {
	case unit.Millis != nil:
		t = time.UnixMilli(n)
	case unit.Micros != nil:
		t = time.UnixMicro(n)
	default:
		t = time.Unix(0, n)
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// int96String decodes the legacy Impala/Spark timestamp: nanoseconds of the
// day in the low 64 bits, Julian day in the high 32.
func int96String(i deprecated.Int96) string {
	nanos := int64(uint64(i[1])<<32 | uint64(i[0]))
	days := int64(i[2]) - julianUnixEpoch
	return time.Unix(days*86400, nanos).UTC().Format(time.RFC3339Nano)
}
