package pgsource

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/lib/pq"

	"github.com/nexlayer/nexlayer/pkg/query"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid SQL identifier %q", name)
	}
	return nil
}

// BuildSelect compiles a query into a parameterized SELECT. Pagination is
// included only when paginate is set; cursor callers paginate through the
// evaluator instead.
func BuildSelect(columnList, table string, q query.Query, paginate bool) (string, []interface{}, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", columnList, table)

	where, args, err := buildWhere(q.Filters())
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}

	orderBy, err := buildOrderBy(q.Orders())
	if err != nil {
		return "", nil, err
	}
	if orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBy)
	}

	if paginate {
		if q.Limit() > 0 {
			fmt.Fprintf(&b, " LIMIT %d", q.Limit())
		}
		if q.Offset() > 0 {
			fmt.Fprintf(&b, " OFFSET %d", q.Offset())
		}
	}
	return b.String(), args, nil
}

func buildWhere(filters []query.Filter) (string, []interface{}, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filters))
	args := make([]interface{}, 0, len(filters))
	for _, f := range filters {
		if err := validIdentifier(f.Field); err != nil {
			return "", nil, err
		}
		clause, clauseArgs, err := filterClause(f, len(args)+1)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}
	return strings.Join(clauses, " AND "), args, nil
}

// filterClause compiles one filter. NULL columns fall out of every
// comparison clause on their own, which matches how the in-memory
// evaluator treats absent fields.
func filterClause(f query.Filter, argIndex int) (string, []interface{}, error) {
	switch f.Op {
	case query.Eq:
		return fmt.Sprintf("%s = $%d", f.Field, argIndex), []interface{}{f.Value}, nil
	case query.Neq:
		return fmt.Sprintf("%s <> $%d", f.Field, argIndex), []interface{}{f.Value}, nil
	case query.Lt:
		return fmt.Sprintf("%s < $%d", f.Field, argIndex), []interface{}{f.Value}, nil
	case query.Lte:
		return fmt.Sprintf("%s <= $%d", f.Field, argIndex), []interface{}{f.Value}, nil
	case query.Gt:
		return fmt.Sprintf("%s > $%d", f.Field, argIndex), []interface{}{f.Value}, nil
	case query.Gte:
		return fmt.Sprintf("%s >= $%d", f.Field, argIndex), []interface{}{f.Value}, nil
	case query.In, query.NotIn:
		members := listMembers(f.Value)
		if len(members) == 0 {
			if f.Op == query.In {
				return "FALSE", nil, nil
			}
			return fmt.Sprintf("%s IS NOT NULL", f.Field), nil, nil
		}
		placeholders := make([]string, len(members))
		for i := range members {
			placeholders[i] = fmt.Sprintf("$%d", argIndex+i)
		}
		op := "IN"
		if f.Op == query.NotIn {
			op = "NOT IN"
		}
		return fmt.Sprintf("%s %s (%s)", f.Field, op, strings.Join(placeholders, ", ")), members, nil
	case query.IsNull:
		return fmt.Sprintf("%s IS NULL", f.Field), nil, nil
	case query.IsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", f.Field), nil, nil
	case query.Contains:
		return likeClause(f.Field, argIndex, "%"+escapeLike(stringValue(f.Value))+"%")
	case query.StartsWith:
		return likeClause(f.Field, argIndex, escapeLike(stringValue(f.Value))+"%")
	case query.EndsWith:
		return likeClause(f.Field, argIndex, "%"+escapeLike(stringValue(f.Value)))
	case query.ArrayContains:
		return fmt.Sprintf("$%d = ANY(%s)", argIndex, f.Field), []interface{}{f.Value}, nil
	case query.ArrayContainsAny:
		return fmt.Sprintf("%s && $%d", f.Field, argIndex), []interface{}{pq.Array(listMembers(f.Value))}, nil
	default:
		return "", nil, fmt.Errorf("unsupported operator %q", f.Op)
	}
}

func likeClause(field string, argIndex int, pattern string) (string, []interface{}, error) {
	return fmt.Sprintf("%s LIKE $%d", field, argIndex), []interface{}{pattern}, nil
}

// escapeLike neutralizes LIKE metacharacters in user-supplied substrings.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func stringValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func listMembers(v interface{}) []interface{} {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		if v == nil {
			return nil
		}
		return []interface{}{v}
	}
	members := make([]interface{}, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		members = append(members, rv.Index(i).Interface())
	}
	return members
}

func buildOrderBy(orders []query.OrderSpec) (string, error) {
	if len(orders) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		if err := validIdentifier(o.Field); err != nil {
			return "", err
		}
		dir := "ASC"
		if o.Direction == query.Desc {
			dir = "DESC"
		}
		// NULLS LAST in both directions mirrors the evaluator, which
		// ranks absent values after present ones regardless of direction.
		parts = append(parts, fmt.Sprintf("%s %s NULLS LAST", o.Field, dir))
	}
	return strings.Join(parts, ", "), nil
}
