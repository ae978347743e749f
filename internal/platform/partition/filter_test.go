package partition

import (
	"encoding/json"
	"testing"
)

func TestFilter_Matches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		values map[string]string
		want   bool
	}{
		{"empty filter", nil, map[string]string{"a": "1"}, true},
		{"eq match", Eq("pid", "1"), map[string]string{"pid": "1"}, true},
		{"eq miss", Eq("pid", "1"), map[string]string{"pid": "2"}, false},
		{"unpartitioned column", Eq("pid", "1"), map[string]string{}, true},
		{"ne", Filter{{Column: "pid", Op: OpNe, Value: "1"}}, map[string]string{"pid": "1"}, false},
		{"in", Filter{{Column: "pid", Op: OpIn, Values: []string{"1", "2"}}}, map[string]string{"pid": "2"}, true},
		{"not in", Filter{{Column: "pid", Op: OpNotIn, Values: []string{"1", "2"}}}, map[string]string{"pid": "2"}, false},
		{"conjunction", Filter{
			{Column: "pid", Op: OpEq, Value: "1"},
			{Column: "year", Op: OpEq, Value: "2024"},
		}, map[string]string{"pid": "1", "year": "2023"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.values); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_MatchesRow(t *testing.T) {
	f := Eq("pid", "1")
	if !f.MatchesRow(map[string]any{"pid": "1"}) {
		t.Error("expected match")
	}
	if f.MatchesRow(map[string]any{"other": "1"}) {
		t.Error("missing column must fail equality")
	}
	if !(Filter{{Column: "pid", Op: OpNe, Value: "1"}}).MatchesRow(map[string]any{}) {
		t.Error("missing column satisfies !=")
	}
	if !Eq("n", "5").MatchesRow(map[string]any{"n": 5}) {
		t.Error("expected numeric values to compare as text")
	}
}

func TestFilter_MatchesRow_NumericIDs(t *testing.T) {
	tests := []struct {
		name  string
		value any
		id    string
	}{
		{"json number", json.Number("1234567"), "1234567"},
		{"large json number", json.Number("9007199254740993"), "9007199254740993"},
		{"float64", float64(1234567), "1234567"},
		{"int64", int64(42), "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !Eq("yy__patient_id", tt.id).MatchesRow(map[string]any{"yy__patient_id": tt.value}) {
				t.Errorf("expected %v to match %q", tt.value, tt.id)
			}
		})
	}
}

func TestFilter_Validate(t *testing.T) {
	if err := Eq("pid", "1").Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (Filter{{Column: "pid", Op: "~"}}).Validate(); err == nil {
		t.Error("expected unsupported operator error")
	}
	if err := (Filter{{Op: OpEq}}).Validate(); err == nil {
		t.Error("expected empty column error")
	}
}
