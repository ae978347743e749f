package fhir

import (
	"math"
	"strconv"
	"strings"
)

// SearchParamType defines the FHIR search parameter type.
type SearchParamType int

const (
	SearchParamToken     SearchParamType = iota // Token: status, code, category (exact match or system|code)
	SearchParamDate                             // Date: supports prefixes (gt, lt, ge, le, eq, etc.)
	SearchParamString                           // String: case-insensitive prefix match, supports :exact, :contains
	SearchParamReference                        // Reference: "Type/id", bare id, or absolute URL
	SearchParamNumber                           // Number: supports prefixes (gt, lt, ge, le, eq, etc.)
	SearchParamQuantity                         // Quantity: [comparator]value|system|code
	SearchParamURI                              // URI: exact match
	SearchParamComposite                        // Composite: pipe-delimited pair of component values
)

func (t SearchParamType) String() string {
	switch t {
	case SearchParamToken:
		return "token"
	case SearchParamDate:
		return "date"
	case SearchParamString:
		return "string"
	case SearchParamReference:
		return "reference"
	case SearchParamNumber:
		return "number"
	case SearchParamQuantity:
		return "quantity"
	case SearchParamURI:
		return "uri"
	case SearchParamComposite:
		return "composite"
	}
	return "unknown"
}

// SearchPrefix represents a FHIR search prefix for ordered values.
type SearchPrefix string

const (
	PrefixEq SearchPrefix = "eq"
	PrefixNe SearchPrefix = "ne"
	PrefixGt SearchPrefix = "gt"
	PrefixLt SearchPrefix = "lt"
	PrefixGe SearchPrefix = "ge"
	PrefixLe SearchPrefix = "le"
	PrefixSa SearchPrefix = "sa" // starts after
	PrefixEb SearchPrefix = "eb" // ends before
	PrefixAp SearchPrefix = "ap" // approximately
)

// SearchModifier represents a FHIR search modifier.
type SearchModifier string

const (
	ModifierExact    SearchModifier = "exact"
	ModifierContains SearchModifier = "contains"
	ModifierText     SearchModifier = "text"
	ModifierNot      SearchModifier = "not"
	ModifierMissing  SearchModifier = "missing"
)

// ParsedSearch holds a parsed search parameter value with its prefix.
type ParsedSearch struct {
	Prefix SearchPrefix
	Value  string
}

// ParseSearchValue extracts the prefix from a FHIR search value.
// Examples: "gt2023-01-01" -> (gt, "2023-01-01"), "100" -> (eq, "100")
func ParseSearchValue(raw string) ParsedSearch {
	if len(raw) >= 2 {
		prefix := SearchPrefix(strings.ToLower(raw[:2]))
		switch prefix {
		case PrefixEq, PrefixNe, PrefixGt, PrefixLt, PrefixGe, PrefixLe, PrefixSa, PrefixEb, PrefixAp:
			return ParsedSearch{Prefix: prefix, Value: raw[2:]}
		}
	}
	return ParsedSearch{Prefix: PrefixEq, Value: raw}
}

// ParseParamModifier splits a parameter name from its modifier.
// Examples: "name:exact" -> ("name", "exact"), "code" -> ("code", "")
func ParseParamModifier(paramName string) (string, SearchModifier) {
	parts := strings.SplitN(paramName, ":", 2)
	if len(parts) == 2 {
		return parts[0], SearchModifier(parts[1])
	}
	return parts[0], ""
}

// SearchParameter is a decoded search value. It is one of Token, Reference,
// Quantity or Composite.
type SearchParameter interface {
	ParamType() SearchParamType
}

// Token is a decoded "system|code" or bare "code" value. Empty fields are absent.
type Token struct {
	System string
	Code   string
}

func (Token) ParamType() SearchParamType { return SearchParamToken }

// Reference is a decoded reference value. Exactly one of URL or ID is set
// for non-empty input; Type accompanies ID for "Type/id" input.
type Reference struct {
	Type string
	ID   string
	URL  string
}

func (Reference) ParamType() SearchParamType { return SearchParamReference }

// Quantity is a decoded "[comparator]value|system|code" value. Comparator is
// empty when the value carried none.
type Quantity struct {
	Comparator SearchPrefix
	Value      float64
	Number     string // the numeric text as given, for exact comparisons
	System     string
	Code       string
}

func (Quantity) ParamType() SearchParamType { return SearchParamQuantity }

// Composite holds the two component values of a composite parameter.
type Composite struct {
	A string
	B string
}

func (Composite) ParamType() SearchParamType { return SearchParamComposite }

// DecodeToken parses a token value. "" yields the zero Token; "sys|code" is
// split once on the first "|"; anything else is a bare code.
func DecodeToken(raw string) Token {
	if raw == "" {
		return Token{}
	}
	if system, code, ok := strings.Cut(raw, "|"); ok {
		return Token{System: system, Code: code}
	}
	return Token{Code: raw}
}

// DecodeReference parses a reference value. Values containing "http" are
// absolute URLs. "Type/id" must have exactly two non-empty segments.
func DecodeReference(raw string) (Reference, error) {
	if raw == "" {
		return Reference{}, nil
	}
	if strings.Contains(raw, "http") {
		return Reference{URL: raw}, nil
	}
	if !strings.Contains(raw, "/") {
		return Reference{ID: raw}, nil
	}
	parts := strings.Split(raw, "/")
	if len(parts) != 2 {
		return Reference{}, &ValidationError{Value: raw, Reason: "reference must be Type/id"}
	}
	if parts[0] == "" || parts[1] == "" {
		return Reference{}, &ValidationError{Value: raw, Reason: "reference type and id must not be empty"}
	}
	return Reference{Type: parts[0], ID: parts[1]}, nil
}

// symbolicComparators is ordered longest first so "<=" wins over "<".
var symbolicComparators = []struct {
	symbol string
	prefix SearchPrefix
}{
	{"<=", PrefixLe},
	{">=", PrefixGe},
	{"<", PrefixLt},
	{">", PrefixGt},
	{"=", PrefixEq},
}

// DecodeQuantity parses "[comparator]value|system|code". The comparator is
// one of < <= > >= = or a FHIR prefix (eq, ne, gt, lt, ge, le, sa, eb, ap).
// The system and code fields are optional.
func DecodeQuantity(raw string) (Quantity, error) {
	if raw == "" {
		return Quantity{}, &ValidationError{Value: raw, Reason: "quantity must not be empty"}
	}
	fields := strings.Split(raw, "|")
	if len(fields) > 3 {
		return Quantity{}, &ValidationError{Value: raw, Reason: "quantity has more than three fields"}
	}

	var q Quantity
	number := fields[0]
	matched := false
	for _, c := range symbolicComparators {
		if strings.HasPrefix(number, c.symbol) {
			q.Comparator = c.prefix
			number = number[len(c.symbol):]
			matched = true
			break
		}
	}
	if !matched {
		if parsed := ParseSearchValue(number); parsed.Value != number {
			q.Comparator = parsed.Prefix
			number = parsed.Value
		}
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(number), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Quantity{}, &ValidationError{Value: raw, Reason: "quantity value is not a number"}
	}
	q.Value = v
	q.Number = strings.TrimSpace(number)

	if len(fields) > 1 {
		q.System = fields[1]
	}
	if len(fields) > 2 {
		q.Code = fields[2]
	}
	return q, nil
}

// DecodeComposite splits on "|" and returns the second and third fields.
// At least three fields are required.
func DecodeComposite(raw string) (Composite, error) {
	fields := strings.Split(raw, "|")
	if len(fields) < 3 {
		return Composite{}, &ValidationError{Value: raw, Reason: "composite needs at least three |-separated fields"}
	}
	return Composite{A: fields[1], B: fields[2]}, nil
}

// Decode parses raw according to t. Only token, reference, quantity and
// composite values have a structured decoding.
func Decode(t SearchParamType, raw string) (SearchParameter, error) {
	switch t {
	case SearchParamToken:
		return DecodeToken(raw), nil
	case SearchParamReference:
		ref, err := DecodeReference(raw)
		if err != nil {
			return nil, err
		}
		return ref, nil
	case SearchParamQuantity:
		q, err := DecodeQuantity(raw)
		if err != nil {
			return nil, err
		}
		return q, nil
	case SearchParamComposite:
		comp, err := DecodeComposite(raw)
		if err != nil {
			return nil, err
		}
		return comp, nil
	}
	return nil, &ValidationError{Value: raw, Reason: "no structured decoding for " + t.String() + " parameters"}
}
