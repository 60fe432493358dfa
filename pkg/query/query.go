// Package query defines the backend-independent description of filters,
// ordering, and pagination, together with the in-memory evaluator that both
// the policy engine and non-filtering backends rely on. Queries are immutable
// value objects: every builder method returns a new Query and never mutates
// its receiver.
package query

import (
	"fmt"
	"strings"
)

// Direction defines the sort direction for an OrderSpec.
type Direction string

const (
	// Asc sorts in ascending order
	Asc Direction = "asc"
	// Desc sorts in descending order
	Desc Direction = "desc"
)

// Filter is a single field comparison. A record matches a Query iff it
// matches every Filter in it (implicit AND).
type Filter struct {
	Field string
	Op    Operator
	Value interface{}
}

// OrderSpec specifies one sort key. Ties at key i are broken by key i+1.
type OrderSpec struct {
	Field     string
	Direction Direction
}

// Query describes filtering, ordering, and pagination for a read. Offset
// pagination (Limit/Offset) and cursor pagination (After/Before/First/Last)
// may both be populated; cursor fields take precedence when they are.
type Query struct {
	filters []Filter
	orders  []OrderSpec
	limit   int
	offset  int

	after  Cursor
	before Cursor
	first  int
	last   int
}

// New returns an empty query matching all records.
func New() Query {
	return Query{}
}

// Where returns a copy of the query with an additional filter appended.
func (q Query) Where(field string, op Operator, value interface{}) Query {
	c := q.clone()
	c.filters = append(c.filters, Filter{Field: field, Op: op, Value: value})
	return c
}

// OrderBy returns a copy of the query with an additional sort key appended.
func (q Query) OrderBy(field string, dir Direction) Query {
	c := q.clone()
	c.orders = append(c.orders, OrderSpec{Field: field, Direction: dir})
	return c
}

// WithLimit returns a copy of the query with an offset-pagination limit.
// A non-positive limit means "all remaining".
func (q Query) WithLimit(limit int) Query {
	c := q.clone()
	c.limit = limit
	return c
}

// WithOffset returns a copy of the query with an offset-pagination offset.
func (q Query) WithOffset(offset int) Query {
	c := q.clone()
	c.offset = offset
	return c
}

// After returns a copy of the query that yields only records strictly
// following the cursor position in the current ordering.
func (q Query) After(cur Cursor) Query {
	c := q.clone()
	c.after = cur.clone()
	return c
}

// Before returns a copy of the query that yields only records strictly
// preceding the cursor position in the current ordering.
func (q Query) Before(cur Cursor) Query {
	c := q.clone()
	c.before = cur.clone()
	return c
}

// First returns a copy of the query truncated to the first n records of the
// cursor window.
func (q Query) First(n int) Query {
	c := q.clone()
	c.first = n
	return c
}

// Last returns a copy of the query truncated to the last n records of the
// cursor window.
func (q Query) Last(n int) Query {
	c := q.clone()
	c.last = n
	return c
}

// Filters returns the ordered filter list. Callers must not mutate it.
func (q Query) Filters() []Filter { return q.filters }

// Orders returns the ordered sort key list. Callers must not mutate it.
func (q Query) Orders() []OrderSpec { return q.orders }

// Limit returns the offset-pagination limit (0 means unlimited).
func (q Query) Limit() int { return q.limit }

// Offset returns the offset-pagination offset.
func (q Query) Offset() int { return q.offset }

// AfterCursor returns the after-cursor, or nil when unset.
func (q Query) AfterCursor() Cursor { return q.after }

// BeforeCursor returns the before-cursor, or nil when unset.
func (q Query) BeforeCursor() Cursor { return q.before }

// FirstCount returns the first-n truncation (0 means unset).
func (q Query) FirstCount() int { return q.first }

// LastCount returns the last-n truncation (0 means unset).
func (q Query) LastCount() int { return q.last }

// UsesCursor reports whether any cursor-pagination field is populated.
// When true, Limit/Offset are ignored by the evaluator.
func (q Query) UsesCursor() bool {
	return q.after != nil || q.before != nil || q.first > 0 || q.last > 0
}

// Equal reports structural equality of two queries.
func (q Query) Equal(other Query) bool {
	return q.Fingerprint() == other.Fingerprint()
}

// Fingerprint returns a deterministic string identity for the query, usable
// as a map key for request deduplication and watch registration.
func (q Query) Fingerprint() string {
	var b strings.Builder
	for _, f := range q.filters {
		fmt.Fprintf(&b, "f:%s:%s:%v;", f.Field, f.Op, f.Value)
	}
	for _, o := range q.orders {
		fmt.Fprintf(&b, "o:%s:%s;", o.Field, o.Direction)
	}
	fmt.Fprintf(&b, "l:%d;s:%d;", q.limit, q.offset)
	if q.after != nil {
		fmt.Fprintf(&b, "a:%s;", q.after.fingerprint())
	}
	if q.before != nil {
		fmt.Fprintf(&b, "b:%s;", q.before.fingerprint())
	}
	fmt.Fprintf(&b, "fc:%d;lc:%d", q.first, q.last)
	return b.String()
}

func (q Query) clone() Query {
	c := q
	c.filters = append([]Filter(nil), q.filters...)
	c.orders = append([]OrderSpec(nil), q.orders...)
	c.after = q.after.clone()
	c.before = q.before.clone()
	return c
}
