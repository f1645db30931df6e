package diff

import (
	"math"
	"reflect"
	"testing"
)

func TestSimpleMerge(t *testing.T) {
	tests := []struct {
		name       string
		result     map[string]any
		diff       map[string]any
		reduce     bool
		persist    bool
		wantResult map[string]any
		wantDiff   map[string]any
	}{
		{
			name:       "assign and nest",
			result:     map[string]any{},
			diff:       map[string]any{"a": 1.0, "q": map[string]any{"x": "y"}},
			reduce:     true,
			wantResult: map[string]any{"a": 1.0, "q": map[string]any{"x": "y"}},
			wantDiff:   map[string]any{"a": 1.0, "q": map[string]any{"x": "y"}},
		},
		{
			name:       "reduce equal values",
			result:     map[string]any{"a": 1.0, "n": math.NaN(), "q": map[string]any{"x": "y"}},
			diff:       map[string]any{"a": 1.0, "n": math.NaN(), "q": map[string]any{"x": "y"}},
			reduce:     true,
			wantResult: map[string]any{"a": 1.0, "q": map[string]any{"x": "y"}},
			wantDiff:   map[string]any{},
		},
		{
			name:       "null deletes",
			result:     map[string]any{"a": 1.0, "b": 2.0},
			diff:       map[string]any{"a": nil},
			reduce:     true,
			wantResult: map[string]any{"b": 2.0},
			wantDiff:   map[string]any{"a": nil},
		},
		{
			name:       "persist ignores null",
			result:     map[string]any{"a": 1.0},
			diff:       map[string]any{"a": nil},
			reduce:     true,
			persist:    true,
			wantResult: map[string]any{"a": 1.0},
			wantDiff:   map[string]any{},
		},
		{
			name:       "no reduce keeps diff intact",
			result:     map[string]any{"a": 1.0},
			diff:       map[string]any{"a": 1.0},
			wantResult: map[string]any{"a": 1.0},
			wantDiff:   map[string]any{"a": 1.0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SimpleMerge(tt.result, tt.diff, tt.reduce, tt.persist)
			delete(tt.result, "n") // NaN never compares with DeepEqual
			if !reflect.DeepEqual(tt.result, tt.wantResult) {
				t.Errorf("result = %v, want %v", tt.result, tt.wantResult)
			}
			if !reflect.DeepEqual(tt.diff, tt.wantDiff) {
				t.Errorf("diff = %v, want %v", tt.diff, tt.wantDiff)
			}
		})
	}
}

func TestIsKeyExist(t *testing.T) {
	d := map[string]any{
		"trade": map[string]any{"u": map[string]any{"orders": map[string]any{"o1": map[string]any{}}}},
		"quote": 1.0,
	}
	tests := []struct {
		name string
		path []string
		keys []string
		want bool
	}{
		{"path only", []string{"trade", "u"}, nil, true},
		{"key present", []string{"trade", "u"}, []string{"positions", "orders"}, true},
		{"key absent", []string{"trade", "u"}, []string{"positions"}, false},
		{"missing path", []string{"trade", "v"}, nil, false},
		{"leaf in path", []string{"quote"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsKeyExist(d, tt.path, tt.keys); got != tt.want {
				t.Errorf("IsKeyExist(%v, %v) = %v, want %v", tt.path, tt.keys, got, tt.want)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{1.0, 1, true},
		{int64(3), 3.0, true},
		{math.NaN(), math.NaN(), true},
		{math.NaN(), 1.0, false},
		{"a", "a", true},
		{"1", 1.0, false},
		{[]any{"x", 1.0}, []any{"x", 1.0}, true},
		{[]any{"x"}, []any{"y"}, false},
		{nil, nil, true},
		{true, false, false},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
