package partition

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Op is a partition predicate operator.
type Op string

const (
	OpEq    Op = "="
	OpNe    Op = "!="
	OpIn    Op = "in"
	OpNotIn Op = "not in"
)

// Clause is one (column, operator, value) triple. Values holds the operand
// list for OpIn and OpNotIn; Value is used otherwise.
type Clause struct {
	Column string
	Op     Op
	Value  string
	Values []string
}

func (c Clause) String() string {
	switch c.Op {
	case OpIn, OpNotIn:
		return fmt.Sprintf("(%s %s [%s])", c.Column, c.Op, strings.Join(c.Values, ","))
	}
	return fmt.Sprintf("(%s %s %s)", c.Column, c.Op, c.Value)
}

// Filter is an ordered conjunction of partition clauses. The zero Filter
// matches every partition.
type Filter []Clause

// Eq returns a single-clause equality filter.
func Eq(column, value string) Filter {
	return Filter{{Column: column, Op: OpEq, Value: value}}
}

// Validate rejects unknown operators and empty column names.
func (f Filter) Validate() error {
	for _, c := range f {
		if c.Column == "" {
			return fmt.Errorf("partition filter: empty column in %s", c)
		}
		switch c.Op {
		case OpEq, OpNe, OpIn, OpNotIn:
		default:
			return fmt.Errorf("partition filter: unsupported operator %q", c.Op)
		}
	}
	return nil
}

// Matches reports whether a data file whose partition directories carry
// values satisfies every clause. A clause on a column the file is not
// partitioned by cannot prune the file and is treated as satisfied; row
// level filtering happens in the reader.
func (f Filter) Matches(values map[string]string) bool {
	for _, c := range f {
		v, ok := values[c.Column]
		if !ok {
			continue
		}
		if !c.eval(v) {
			return false
		}
	}
	return true
}

// MatchesRow applies the filter to a materialized row. Missing columns
// fail equality and membership clauses.
func (f Filter) MatchesRow(row map[string]any) bool {
	for _, c := range f {
		raw, ok := row[c.Column]
		if !ok || raw == nil {
			if c.Op == OpEq || c.Op == OpIn {
				return false
			}
			continue
		}
		if !c.eval(FormatValue(raw)) {
			return false
		}
	}
	return true
}

// FormatValue renders a row value the way it would appear in a partition
// directory name. Numbers print in plain decimal notation.
func FormatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

func (c Clause) eval(v string) bool {
	switch c.Op {
	case OpEq:
		return v == c.Value
	case OpNe:
		return v != c.Value
	case OpIn:
		return contains(c.Values, v)
	case OpNotIn:
		return !contains(c.Values, v)
	}
	return false
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func (f Filter) String() string {
	parts := make([]string, len(f))
	for i, c := range f {
		parts[i] = c.String()
	}
	return "[" + strings.Join(parts, " AND ") + "]"
}
