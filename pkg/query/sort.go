package query

import "sort"

// SortRecords returns a copy of records ordered by the given sort keys.
// The sort is stable: ties at key i are broken by key i+1, and final ties
// keep the input's relative order. Absent or null key values rank after
// present values regardless of direction, and values with no defined
// ordering between them compare as equal.
func SortRecords[T any](records []T, orders []OrderSpec, acc FieldAccessor[T]) []T {
	out := append([]T(nil), records...)
	if len(orders) == 0 {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		return orderLess(out[i], out[j], orders, acc)
	})
	return out
}

func orderLess[T any](a, b T, orders []OrderSpec, acc FieldAccessor[T]) bool {
	for _, o := range orders {
		cmp := orderCompare(a, b, o, acc)
		if cmp != 0 {
			return cmp < 0
		}
	}
	return false
}

// orderCompare ranks a against b on one key: -1, 0, or 1 in result order.
func orderCompare[T any](a, b T, o OrderSpec, acc FieldAccessor[T]) int {
	av, aok := acc(a, o.Field)
	bv, bok := acc(b, o.Field)
	anull := !aok || av == nil
	bnull := !bok || bv == nil

	// Nulls always sink to the end of the result.
	switch {
	case anull && bnull:
		return 0
	case anull:
		return 1
	case bnull:
		return -1
	}

	cmp, ok := compareValues(av, bv)
	if !ok {
		return 0
	}
	if o.Direction == Desc {
		return -cmp
	}
	return cmp
}
