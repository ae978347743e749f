// Package query refines materialized table batches with an embedded SQL
// engine. SearchQuery turns FHIR search parameters into the predicate,
// projection and ordering of a Query.
package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/HadaRoshan/FHIR-api/internal/platform/fhir"
)

// Table is the name the batch is loaded under.
const Table = "resource"

// ordinalColumn holds each row's position in the batch. It is never
// projected.
const ordinalColumn = "__ord"

// defaultOrder keeps rows in the order they were read.
var defaultOrder = Quote(ordinalColumn)

// Query is a refinement to run against one batch.
type Query struct {
	Where   string // conjunction of clauses, "" for all rows
	Args    []interface{}
	Columns []string // projection, nil for every column
	OrderBy string
	Limit   int // 0 for no limit
}

// SearchQuery builds a Query from FHIR search parameters. Columns that the
// batch does not carry turn their clause into a match-nothing predicate.
type SearchQuery struct {
	names   map[string]string
	where   []string
	args    []interface{}
	project []string
	orderBy string
	limit   int
}

// NewSearchQuery creates a builder for a batch with the given columns.
func NewSearchQuery(columns []string) *SearchQuery {
	return &SearchQuery{names: columnNames(columns)}
}

// columnNames assigns each batch column its SQL identifier. SQLite folds
// identifier case, so a column whose lower-cased name is already taken gets
// a numbered suffix. The result depends only on column order.
func columnNames(columns []string) map[string]string {
	names := make(map[string]string, len(columns))
	taken := map[string]bool{strings.ToLower(ordinalColumn): true}
	for _, col := range columns {
		name := col
		for i := 2; taken[strings.ToLower(name)]; i++ {
			name = fmt.Sprintf("%s__%d", col, i)
		}
		taken[strings.ToLower(name)] = true
		names[col] = name
	}
	return names
}

// Quote returns col as a quoted SQL identifier.
func Quote(col string) string {
	return `"` + strings.ReplaceAll(col, `"`, `""`) + `"`
}

// ident returns the quoted SQL identifier of a bound column.
func (q *SearchQuery) ident(col string) string {
	return Quote(q.names[col])
}

func (q *SearchQuery) has(cols ...string) bool {
	for _, c := range cols {
		if _, ok := q.names[c]; !ok {
			return false
		}
	}
	return true
}

// Add appends a raw clause.
func (q *SearchQuery) Add(clause string, args ...interface{}) {
	q.where = append(q.where, clause)
	q.args = append(q.args, args...)
}

func (q *SearchQuery) none() {
	q.where = append(q.where, "0")
}

// AddToken adds a token clause. A system column is only consulted when the
// value carries a system.
func (q *SearchQuery) AddToken(sysCol, codeCol string, tok fhir.Token, modifier fhir.SearchModifier) {
	clause, args, ok := q.tokenClause(sysCol, codeCol, tok)
	if !ok {
		if modifier != fhir.ModifierNot {
			q.none()
		}
		return
	}
	if modifier == fhir.ModifierNot {
		clause = "NOT " + clause
	}
	q.Add(clause, args...)
}

func (q *SearchQuery) tokenClause(sysCol, codeCol string, tok fhir.Token) (string, []interface{}, bool) {
	switch {
	case tok.System != "" && tok.Code != "":
		if !q.has(sysCol, codeCol) {
			return "", nil, false
		}
		return fmt.Sprintf("(%s = ? AND %s = ?)", q.ident(sysCol), q.ident(codeCol)), []interface{}{tok.System, tok.Code}, true
	case tok.System != "":
		if !q.has(sysCol) {
			return "", nil, false
		}
		return fmt.Sprintf("%s = ?", q.ident(sysCol)), []interface{}{tok.System}, true
	default:
		if !q.has(codeCol) {
			return "", nil, false
		}
		return fmt.Sprintf("%s = ?", q.ident(codeCol)), []interface{}{tok.Code}, true
	}
}

// AddRef adds a reference clause. The column may hold "Type/id", a bare id
// or an absolute URL; a bare id matches any of the three forms.
func (q *SearchQuery) AddRef(column string, ref fhir.Reference) {
	if !q.has(column) {
		q.none()
		return
	}
	col := q.ident(column)
	switch {
	case ref.URL != "":
		q.Add(fmt.Sprintf("%s = ?", col), ref.URL)
	case ref.Type != "":
		q.Add(fmt.Sprintf("(%s = ? OR %s = ?)", col, col), ref.Type+"/"+ref.ID, ref.ID)
	case ref.ID != "":
		q.Add(fmt.Sprintf("(%s = ? OR %s LIKE ?)", col, col), ref.ID, "%/"+ref.ID)
	}
}

// AddQuantity adds a quantity clause on the value column, plus unit system
// and code clauses when the value names them and the columns exist.
func (q *SearchQuery) AddQuantity(cfg fhir.SearchParamConfig, qty fhir.Quantity) {
	if !q.has(cfg.Column) {
		q.none()
		return
	}
	q.addOrdered(cfg.Column, qty.Comparator, qty.Value)
	if qty.System != "" && cfg.SysColumn != "" {
		if !q.has(cfg.SysColumn) {
			q.none()
			return
		}
		q.Add(fmt.Sprintf("%s = ?", q.ident(cfg.SysColumn)), qty.System)
	}
	if qty.Code != "" && cfg.UnitColumn != "" {
		if !q.has(cfg.UnitColumn) {
			q.none()
			return
		}
		q.Add(fmt.Sprintf("%s = ?", q.ident(cfg.UnitColumn)), qty.Code)
	}
}

// AddNumber adds a number clause with FHIR prefix support.
func (q *SearchQuery) AddNumber(column, value string) error {
	qty, err := fhir.DecodeQuantity(value)
	if err != nil {
		return err
	}
	if !q.has(column) {
		q.none()
		return nil
	}
	q.addOrdered(column, qty.Comparator, qty.Value)
	return nil
}

func (q *SearchQuery) addOrdered(column string, prefix fhir.SearchPrefix, v float64) {
	col := q.ident(column)
	switch prefix {
	case fhir.PrefixGt, fhir.PrefixSa:
		q.Add(fmt.Sprintf("%s > ?", col), v)
	case fhir.PrefixLt, fhir.PrefixEb:
		q.Add(fmt.Sprintf("%s < ?", col), v)
	case fhir.PrefixGe:
		q.Add(fmt.Sprintf("%s >= ?", col), v)
	case fhir.PrefixLe:
		q.Add(fmt.Sprintf("%s <= ?", col), v)
	case fhir.PrefixNe:
		q.Add(fmt.Sprintf("%s != ?", col), v)
	case fhir.PrefixAp:
		delta := v * 0.1
		if delta < 0 {
			delta = -delta
		}
		q.Add(fmt.Sprintf("(%s >= ? AND %s <= ?)", col, col), v-delta, v+delta)
	default:
		q.Add(fmt.Sprintf("%s = ?", col), v)
	}
}

// AddString adds a string clause: case-insensitive prefix match by default,
// with :exact and :contains modifiers.
func (q *SearchQuery) AddString(column, value string, modifier fhir.SearchModifier) {
	if !q.has(column) {
		q.none()
		return
	}
	col := q.ident(column)
	switch modifier {
	case fhir.ModifierExact:
		q.Add(fmt.Sprintf("%s = ?", col), value)
	case fhir.ModifierContains, fhir.ModifierText:
		q.Add(fmt.Sprintf("%s LIKE ?", col), "%"+value+"%")
	default:
		q.Add(fmt.Sprintf("%s LIKE ?", col), value+"%")
	}
}

// AddDate adds a date clause. Stored dates are ISO-8601 text, so bounds are
// compared as text at the precision the value was given in.
func (q *SearchQuery) AddDate(column, value string) error {
	parsed := fhir.ParseSearchValue(value)
	t, layout, err := parseFlexDate(parsed.Value)
	if err != nil {
		return &fhir.ValidationError{Value: value, Reason: "unrecognised date"}
	}
	if !q.has(column) {
		q.none()
		return nil
	}
	col := q.ident(column)
	low := t.Format(layout)
	high := nextPeriod(t, layout).Format(layout)

	switch parsed.Prefix {
	case fhir.PrefixGt, fhir.PrefixSa:
		q.Add(fmt.Sprintf("%s >= ?", col), high)
	case fhir.PrefixLt, fhir.PrefixEb:
		q.Add(fmt.Sprintf("%s < ?", col), low)
	case fhir.PrefixGe:
		q.Add(fmt.Sprintf("%s >= ?", col), low)
	case fhir.PrefixLe:
		q.Add(fmt.Sprintf("%s < ?", col), high)
	case fhir.PrefixNe:
		q.Add(fmt.Sprintf("(%s < ? OR %s >= ?)", col, col), low, high)
	case fhir.PrefixAp:
		day := 24 * time.Hour
		q.Add(fmt.Sprintf("(%s >= ? AND %s < ?)", col, col),
			t.Add(-day).Format(layout), nextPeriod(t, layout).Add(day).Format(layout))
	default:
		q.Add(fmt.Sprintf("(%s >= ? AND %s < ?)", col, col), low, high)
	}
	return nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

func parseFlexDate(s string) (time.Time, string, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, layout, nil
		}
	}
	return time.Time{}, "", fmt.Errorf("unable to parse date: %s", s)
}

// nextPeriod returns the start of the period after t at layout's precision.
func nextPeriod(t time.Time, layout string) time.Time {
	switch layout {
	case "2006":
		return t.AddDate(1, 0, 0)
	case "2006-01":
		return t.AddDate(0, 1, 0)
	case "2006-01-02":
		return t.AddDate(0, 0, 1)
	}
	return t.Add(time.Second)
}

// AddComposite adds a composite clause from the two components' bindings.
func (q *SearchQuery) AddComposite(cfg fhir.SearchParamConfig, comp fhir.Composite) error {
	if len(cfg.Components) != 2 {
		return fmt.Errorf("composite binding needs two components, has %d", len(cfg.Components))
	}
	for i, raw := range []string{comp.A, comp.B} {
		if err := q.applyValue(cfg.Components[i], raw, ""); err != nil {
			return err
		}
	}
	return nil
}

// ApplyParam applies a single FHIR search parameter using the config.
func (q *SearchQuery) ApplyParam(name string, cfg fhir.SearchParamConfig, value string, modifier fhir.SearchModifier) error {
	if modifier == fhir.ModifierMissing {
		if !q.has(cfg.Column) {
			if value != "true" {
				q.none()
			}
			return nil
		}
		if value == "true" {
			q.Add(fmt.Sprintf("%s IS NULL", q.ident(cfg.Column)))
		} else {
			q.Add(fmt.Sprintf("%s IS NOT NULL", q.ident(cfg.Column)))
		}
		return nil
	}
	return fhir.WithParam(q.applyValue(cfg, value, modifier), name)
}

func (q *SearchQuery) applyValue(cfg fhir.SearchParamConfig, value string, modifier fhir.SearchModifier) error {
	switch cfg.Type {
	case fhir.SearchParamToken:
		q.AddToken(cfg.SysColumn, cfg.Column, fhir.DecodeToken(value), modifier)
	case fhir.SearchParamReference:
		ref, err := fhir.DecodeReference(value)
		if err != nil {
			return err
		}
		q.AddRef(cfg.Column, ref)
	case fhir.SearchParamQuantity:
		qty, err := fhir.DecodeQuantity(value)
		if err != nil {
			return err
		}
		q.AddQuantity(cfg, qty)
	case fhir.SearchParamComposite:
		comp, err := fhir.DecodeComposite(value)
		if err != nil {
			return err
		}
		return q.AddComposite(cfg, comp)
	case fhir.SearchParamNumber:
		return q.AddNumber(cfg.Column, value)
	case fhir.SearchParamDate:
		return q.AddDate(cfg.Column, value)
	case fhir.SearchParamString:
		q.AddString(cfg.Column, value, modifier)
	case fhir.SearchParamURI:
		if !q.has(cfg.Column) {
			q.none()
			return nil
		}
		q.Add(fmt.Sprintf("%s = ?", q.ident(cfg.Column)), value)
	}
	return nil
}

// ApplyParams applies every parameter that has a binding in configs.
// Parameter names may carry a ":modifier" suffix; unbound names are
// ignored. Names are applied in sorted order so the SQL is stable.
func (q *SearchQuery) ApplyParams(params map[string]string, configs map[string]fhir.SearchParamConfig) error {
	for _, key := range sortedKeys(params) {
		name, modifier := fhir.ParseParamModifier(key)
		cfg, ok := configs[name]
		if !ok {
			continue
		}
		if err := q.ApplyParam(name, cfg, params[key], modifier); err != nil {
			return err
		}
	}
	return nil
}

// ApplySort processes the _sort parameter. The value is a comma-separated
// list of param names, optionally prefixed with - for DESC. Unknown names
// and unbound columns are skipped; the default keeps read order.
func (q *SearchQuery) ApplySort(sortParam string, configs map[string]fhir.SearchParamConfig) {
	var parts []string
	for _, field := range strings.Split(sortParam, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		desc := strings.HasPrefix(field, "-")
		field = strings.TrimPrefix(field, "-")
		cfg, ok := configs[field]
		if !ok || cfg.Column == "" || !q.has(cfg.Column) {
			continue
		}
		if desc {
			parts = append(parts, q.ident(cfg.Column)+" DESC")
		} else {
			parts = append(parts, q.ident(cfg.Column)+" ASC")
		}
	}
	if len(parts) > 0 {
		q.orderBy = strings.Join(append(parts, defaultOrder), ", ")
	}
}

// ApplyElements restricts the projection to the comma-separated _elements
// list. id and resourceType are always kept when present.
func (q *SearchQuery) ApplyElements(elements string) {
	if strings.TrimSpace(elements) == "" {
		return
	}
	keep := []string{"resourceType", "id"}
	for _, e := range strings.Split(elements, ",") {
		keep = append(keep, strings.TrimSpace(e))
	}
	seen := map[string]bool{}
	q.project = q.project[:0]
	for _, col := range keep {
		if col == "" || seen[col] || !q.has(col) {
			continue
		}
		seen[col] = true
		q.project = append(q.project, col)
	}
}

// Limit caps the number of returned rows.
func (q *SearchQuery) Limit(n int) { q.limit = n }

// Build returns the accumulated Query.
func (q *SearchQuery) Build() Query {
	order := q.orderBy
	if order == "" {
		order = defaultOrder
	}
	return Query{
		Where:   strings.Join(q.where, " AND "),
		Args:    q.args,
		Columns: q.project,
		OrderBy: order,
		Limit:   q.limit,
	}
}

// ExtractSearchParams extracts FHIR search parameters from the query string,
// excluding control parameters (_sort, _elements, ...) and the names in
// reserved. _id is kept as a search parameter.
func ExtractSearchParams(c echo.Context, reserved ...string) map[string]string {
	skip := make(map[string]bool, len(reserved))
	for _, r := range reserved {
		skip[r] = true
	}
	params := map[string]string{}
	for k, v := range c.QueryParams() {
		if len(v) == 0 || skip[k] {
			continue
		}
		if strings.HasPrefix(k, "_") && k != "_id" && !strings.HasPrefix(k, "_id:") {
			continue
		}
		params[k] = v[0]
	}
	return params
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
