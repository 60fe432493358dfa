package query

import (
	"reflect"
	"strings"
	"time"
)

// Matches reports whether a record satisfies every filter in the query.
// Absent and null fields never match except under IsNull/IsNotNull; the
// evaluator never errors on missing fields.
func Matches[T any](record T, q Query, acc FieldAccessor[T]) bool {
	for _, f := range q.Filters() {
		if !matchFilter(record, f, acc) {
			return false
		}
	}
	return true
}

// MatchesExpr evaluates an expression tree against a record with
// short-circuit And/Or.
func MatchesExpr[T any](record T, expr Expression, acc FieldAccessor[T]) bool {
	switch e := expr.(type) {
	case Comparison:
		return matchFilter(record, Filter{Field: e.Field, Op: e.Op, Value: e.Value}, acc)
	case AndExpr:
		return MatchesExpr(record, e.Left, acc) && MatchesExpr(record, e.Right, acc)
	case OrExpr:
		return MatchesExpr(record, e.Left, acc) || MatchesExpr(record, e.Right, acc)
	case NotExpr:
		return !MatchesExpr(record, e.Expr, acc)
	default:
		return false
	}
}

func matchFilter[T any](record T, f Filter, acc FieldAccessor[T]) bool {
	value, present := acc(record, f.Field)
	null := !present || value == nil

	switch f.Op {
	case IsNull:
		return null
	case IsNotNull:
		return !null
	}
	if null {
		return false
	}

	switch f.Op {
	case Eq:
		return looseEqual(value, f.Value)
	case Neq:
		return !looseEqual(value, f.Value)
	case Lt:
		cmp, ok := compareValues(value, f.Value)
		return ok && cmp < 0
	case Lte:
		cmp, ok := compareValues(value, f.Value)
		return ok && cmp <= 0
	case Gt:
		cmp, ok := compareValues(value, f.Value)
		return ok && cmp > 0
	case Gte:
		cmp, ok := compareValues(value, f.Value)
		return ok && cmp >= 0
	case In:
		return memberOf(value, f.Value)
	case NotIn:
		return !memberOf(value, f.Value)
	case Contains:
		s, sub, ok := stringPair(value, f.Value)
		return ok && strings.Contains(s, sub)
	case StartsWith:
		s, prefix, ok := stringPair(value, f.Value)
		return ok && strings.HasPrefix(s, prefix)
	case EndsWith:
		s, suffix, ok := stringPair(value, f.Value)
		return ok && strings.HasSuffix(s, suffix)
	case ArrayContains:
		return sliceContains(value, f.Value)
	case ArrayContainsAny:
		for _, want := range elements(f.Value) {
			if sliceContains(value, want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// looseEqual compares across numeric kinds (an int64 from a backend equals a
// float64 from JSON) and falls back to DeepEqual for everything else.
func looseEqual(a, b interface{}) bool {
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values of compatible kinds. The bool result is
// false when the pair has no defined ordering.
func compareValues(a, b interface{}) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case av.Before(bv):
			return -1, true
		case av.After(bv):
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func stringPair(a, b interface{}) (string, string, bool) {
	as, ok := a.(string)
	if !ok {
		return "", "", false
	}
	bs, ok := b.(string)
	if !ok {
		return "", "", false
	}
	return as, bs, true
}

// memberOf reports whether needle equals any element of the haystack list.
func memberOf(needle, haystack interface{}) bool {
	for _, el := range elements(haystack) {
		if looseEqual(needle, el) {
			return true
		}
	}
	return false
}

// sliceContains reports whether the field value is a list holding needle.
func sliceContains(field, needle interface{}) bool {
	for _, el := range elements(field) {
		if looseEqual(el, needle) {
			return true
		}
	}
	return false
}

// elements normalizes a slice or array of any element type to []interface{}.
// Non-list values yield nil.
func elements(v interface{}) []interface{} {
	if v == nil {
		return nil
	}
	if direct, ok := v.([]interface{}); ok {
		return direct
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
