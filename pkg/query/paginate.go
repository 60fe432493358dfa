package query

// PageInfo carries pagination metadata for one page of results.
// HasNextPage/HasPreviousPage are relative to the full filtered, ordered
// result sequence. StartCursor is set whenever the page is non-empty;
// EndCursor is set only when a next page exists.
type PageInfo struct {
	HasNextPage     bool
	HasPreviousPage bool
	StartCursor     Cursor
	EndCursor       Cursor
}

// Page is one window of an ordered result sequence.
type Page[T any] struct {
	Items []T
	Info  PageInfo
}

// Apply runs the full evaluator pipeline: filter, stable sort, then
// paginate. It is a pure function of its inputs; applying the same query to
// the same records twice yields identical pages.
func Apply[T any](records []T, q Query, acc FieldAccessor[T]) Page[T] {
	matched := make([]T, 0, len(records))
	for _, r := range records {
		if Matches(r, q, acc) {
			matched = append(matched, r)
		}
	}
	sorted := SortRecords(matched, q.Orders(), acc)
	return Paginate(sorted, q, acc)
}

// Paginate windows an already filtered and ordered sequence. Cursor
// pagination takes precedence over offset pagination when both are
// populated on the query.
func Paginate[T any](sorted []T, q Query, acc FieldAccessor[T]) Page[T] {
	if q.UsesCursor() {
		return cursorPage(sorted, q, acc)
	}
	return offsetPage(sorted, q, acc)
}

func offsetPage[T any](sorted []T, q Query, acc FieldAccessor[T]) Page[T] {
	lo := q.Offset()
	if lo < 0 {
		lo = 0
	}
	if lo > len(sorted) {
		lo = len(sorted)
	}
	hi := len(sorted)
	if q.Limit() > 0 && lo+q.Limit() < hi {
		hi = lo + q.Limit()
	}
	return pageOf(sorted, lo, hi, q, acc)
}

func cursorPage[T any](sorted []T, q Query, acc FieldAccessor[T]) Page[T] {
	lo, hi := 0, len(sorted)

	if after := q.AfterCursor(); after != nil {
		lo = lowerBound(sorted, after, q.Orders(), acc)
	}
	if before := q.BeforeCursor(); before != nil {
		if b := upperBound(sorted, before, q.Orders(), acc); b < hi {
			hi = b
		}
	}
	if lo > hi {
		lo = hi
	}

	if n := q.FirstCount(); n > 0 && lo+n < hi {
		hi = lo + n
	}
	if n := q.LastCount(); n > 0 && hi-n > lo {
		lo = hi - n
	}
	return pageOf(sorted, lo, hi, q, acc)
}

func pageOf[T any](sorted []T, lo, hi int, q Query, acc FieldAccessor[T]) Page[T] {
	items := append([]T(nil), sorted[lo:hi]...)
	info := PageInfo{
		HasNextPage:     hi < len(sorted),
		HasPreviousPage: lo > 0,
	}
	if len(items) == 0 {
		info.HasPreviousPage = len(sorted) > 0 && lo > 0
		return Page[T]{Items: items, Info: info}
	}
	info.StartCursor = CursorFor(sorted[lo], lo, q.Orders(), acc)
	if info.HasNextPage {
		info.EndCursor = CursorFor(sorted[hi-1], hi-1, q.Orders(), acc)
	}
	return Page[T]{Items: items, Info: info}
}

// CursorFor produces the cursor identifying a record's position. Ordered
// queries capture the record's sort-key values; unordered queries fall back
// to the absolute index.
func CursorFor[T any](record T, index int, orders []OrderSpec, acc FieldAccessor[T]) Cursor {
	if len(orders) == 0 {
		return IndexCursor(index)
	}
	c := make(Cursor, len(orders))
	for _, o := range orders {
		if v, ok := acc(record, o.Field); ok {
			c[o.Field] = v
		} else {
			c[o.Field] = nil
		}
	}
	return c
}

// lowerBound returns the index of the first record strictly following the
// cursor position in result order.
func lowerBound[T any](sorted []T, cur Cursor, orders []OrderSpec, acc FieldAccessor[T]) int {
	if idx, ok := cur.index(); ok {
		if idx < -1 {
			return 0
		}
		if idx+1 > len(sorted) {
			return len(sorted)
		}
		return idx + 1
	}
	for i, r := range sorted {
		if cursorCompare(r, cur, orders, acc) > 0 {
			return i
		}
	}
	return len(sorted)
}

// upperBound returns the index just past the last record strictly preceding
// the cursor position in result order.
func upperBound[T any](sorted []T, cur Cursor, orders []OrderSpec, acc FieldAccessor[T]) int {
	if idx, ok := cur.index(); ok {
		if idx < 0 {
			return 0
		}
		if idx > len(sorted) {
			return len(sorted)
		}
		return idx
	}
	for i, r := range sorted {
		if cursorCompare(r, cur, orders, acc) >= 0 {
			return i
		}
	}
	return len(sorted)
}

// cursorCompare ranks a record against a cursor position over the query's
// sort keys, in result order. Keys missing from the cursor compare equal.
func cursorCompare[T any](record T, cur Cursor, orders []OrderSpec, acc FieldAccessor[T]) int {
	for _, o := range orders {
		want, ok := cur[o.Field]
		if !ok {
			continue
		}
		have, hok := acc(record, o.Field)
		hnull := !hok || have == nil
		wnull := want == nil

		var cmp int
		switch {
		case hnull && wnull:
			cmp = 0
		case hnull:
			cmp = 1 // nulls rank last in result order
		case wnull:
			cmp = -1
		default:
			c, defined := compareValues(have, want)
			if !defined {
				continue
			}
			if o.Direction == Desc {
				c = -c
			}
			cmp = c
		}
		if cmp != 0 {
			return cmp
		}
	}
	return 0
}
