package query

import (
	"errors"
	"fmt"
)

// ErrUnsupportedExpression is returned by ToFilters for expression trees that
// cannot be flattened to the conjunctive Filter list without changing their
// meaning: any Or node, and any Not node other than a double negation or a
// negated null check.
var ErrUnsupportedExpression = errors.New("expression cannot be flattened to filters")

// Expression is a boolean filter tree. The zero set of node types is closed:
// Comparison leaves combined with And, Or, and Not.
type Expression interface {
	// isExpr restricts implementations to this package's node types.
	isExpr()
}

// Comparison is a leaf node comparing one field against a value.
type Comparison struct {
	Field string
	Op    Operator
	Value interface{}
}

// AndExpr matches when both children match.
type AndExpr struct {
	Left  Expression
	Right Expression
}

// OrExpr matches when either child matches.
type OrExpr struct {
	Left  Expression
	Right Expression
}

// NotExpr matches when the child does not match.
type NotExpr struct {
	Expr Expression
}

func (Comparison) isExpr() {}
func (AndExpr) isExpr()    {}
func (OrExpr) isExpr()     {}
func (NotExpr) isExpr()    {}

// Compare builds a comparison leaf.
func Compare(field string, op Operator, value interface{}) Comparison {
	return Comparison{Field: field, Op: op, Value: value}
}

// And combines two expressions conjunctively.
func And(left, right Expression) AndExpr { return AndExpr{Left: left, Right: right} }

// Or combines two expressions disjunctively.
func Or(left, right Expression) OrExpr { return OrExpr{Left: left, Right: right} }

// Not negates an expression.
func Not(expr Expression) NotExpr { return NotExpr{Expr: expr} }

// ToFilters flattens a conjunctive expression tree into the ordered Filter
// list a Query carries. The flattening is lossless or it fails: trees holding
// an Or node, or a Not node that has no exact single-filter equivalent,
// return ErrUnsupportedExpression rather than an approximation.
func ToFilters(expr Expression) ([]Filter, error) {
	if expr == nil {
		return nil, fmt.Errorf("%w: nil expression", ErrUnsupportedExpression)
	}

	switch e := expr.(type) {
	case Comparison:
		return []Filter{{Field: e.Field, Op: e.Op, Value: e.Value}}, nil
	case AndExpr:
		left, err := ToFilters(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := ToFilters(e.Right)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	case OrExpr:
		return nil, fmt.Errorf("%w: or node", ErrUnsupportedExpression)
	case NotExpr:
		return flattenNot(e)
	default:
		return nil, fmt.Errorf("%w: unknown node %T", ErrUnsupportedExpression, expr)
	}
}

func flattenNot(e NotExpr) ([]Filter, error) {
	switch inner := e.Expr.(type) {
	case NotExpr:
		// Double negation cancels.
		return ToFilters(inner.Expr)
	case Comparison:
		if op, ok := negated[inner.Op]; ok {
			return []Filter{{Field: inner.Field, Op: op, Value: inner.Value}}, nil
		}
		return nil, fmt.Errorf("%w: not(%s) has no exact filter form", ErrUnsupportedExpression, inner.Op)
	default:
		// not(and) would need an or, not(or) would need per-branch negation.
		return nil, fmt.Errorf("%w: not over %T", ErrUnsupportedExpression, e.Expr)
	}
}

// ToQuery flattens an expression into a filter-only Query.
func ToQuery(expr Expression) (Query, error) {
	filters, err := ToFilters(expr)
	if err != nil {
		return Query{}, err
	}
	q := New()
	for _, f := range filters {
		q = q.Where(f.Field, f.Op, f.Value)
	}
	return q, nil
}
