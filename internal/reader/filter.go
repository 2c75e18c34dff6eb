package reader

import (
	"fmt"
	"strconv"
	"strings"
)

// Op is a row-level filter operator (spec §4.4/§6).
type Op string

const (
	OpEq         Op = "eq"
	OpNeq        Op = "neq"
	OpContains   Op = "contains"
	OpStartsWith Op = "starts_with"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpIn         Op = "in"
)

// Filter is one row-level predicate pushed down into the reader.
type Filter struct {
	Attribute string
	Op        Op
	Value     any   // scalar comparand for eq/neq/contains/starts_with/gt/gte/lt/lte
	Values    []any // comparand set for in
}

// Match evaluates f against row, a normalized attribute→value map (nil
// values represent absent/null columns).
func (f Filter) Match(row map[string]any) bool {
	v, present := row[f.Attribute]

	switch f.Op {
	case OpEq:
		return present && stringOf(v) == stringOf(f.Value)
	case OpNeq:
		if !present {
			return true
		}

		return stringOf(v) != stringOf(f.Value)
	case OpContains:
		if !present {
			return false
		}

		return strings.Contains(strings.ToLower(stringOf(v)), strings.ToLower(stringOf(f.Value)))
	case OpStartsWith:
		if !present {
			return false
		}

		return strings.HasPrefix(strings.ToLower(stringOf(v)), strings.ToLower(stringOf(f.Value)))
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}

		a, aok := numberOf(v)
		b, bok := numberOf(f.Value)

		if !aok || !bok {
			return false
		}

		switch f.Op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		case OpLte:
			return a <= b
		}

		return false
	case OpIn:
		if !present {
			return false
		}

		target := stringOf(v)
		for _, cand := range f.Values {
			if stringOf(cand) == target {
				return true
			}
		}

		return false
	default:
		return false
	}
}

// RequiredAttribute reports whether a filter on f.Attribute forces that
// column into the reader's projection regardless of caller-requested columns.
func RequiredAttribute(attr string) bool {
	return attr == "fingerprint" || attr == "trace_id" || attr == "span_id"
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}

	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func numberOf(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)

		return f, err == nil
	default:
		return 0, false
	}
}
