package table

import "sort"

// Batch is a materialized, row-oriented slice of a table.
type Batch struct {
	Columns []string // first-seen order
	Rows    []Record
	Files   []string // data files the rows came from
	seen    map[string]struct{}
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{Rows: []Record{}, seen: map[string]struct{}{}}
}

// Append adds row and registers any columns not seen before.
func (b *Batch) Append(row Record) {
	if b.seen == nil {
		b.seen = map[string]struct{}{}
		for _, c := range b.Columns {
			b.seen[c] = struct{}{}
		}
	}
	var fresh []string
	for col := range row {
		if _, ok := b.seen[col]; !ok {
			fresh = append(fresh, col)
		}
	}
	sort.Strings(fresh)
	for _, col := range fresh {
		b.seen[col] = struct{}{}
		b.Columns = append(b.Columns, col)
	}
	b.Rows = append(b.Rows, row)
}

// HasColumn reports whether any row carries col.
func (b *Batch) HasColumn(col string) bool {
	for _, c := range b.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Len returns the number of rows.
func (b *Batch) Len() int { return len(b.Rows) }
