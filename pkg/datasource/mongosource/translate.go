package mongosource

import (
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/nexlayer/nexlayer/pkg/query"
)

// FilterDoc translates filters to a Mongo filter document. The translation
// preserves the evaluator's null semantics: absent or null fields match
// nothing except the null checks, so the operators Mongo would satisfy
// with a missing field carry an explicit presence guard.
func FilterDoc(filters []query.Filter) bson.M {
	if len(filters) == 0 {
		return bson.M{}
	}

	clauses := make([]bson.M, 0, len(filters))
	for _, f := range filters {
		clauses = append(clauses, filterClause(f))
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return bson.M{"$and": clauses}
}

func filterClause(f query.Filter) bson.M {
	switch f.Op {
	case query.Eq:
		return bson.M{f.Field: bson.M{"$eq": f.Value}}
	case query.Neq:
		// Mongo's $ne matches missing fields; the evaluator's does not.
		return bson.M{"$and": []bson.M{
			presenceGuard(f.Field),
			{f.Field: bson.M{"$ne": f.Value}},
		}}
	case query.Lt:
		return bson.M{f.Field: bson.M{"$lt": f.Value}}
	case query.Lte:
		return bson.M{f.Field: bson.M{"$lte": f.Value}}
	case query.Gt:
		return bson.M{f.Field: bson.M{"$gt": f.Value}}
	case query.Gte:
		return bson.M{f.Field: bson.M{"$gte": f.Value}}
	case query.In:
		return bson.M{f.Field: bson.M{"$in": f.Value}}
	case query.NotIn:
		return bson.M{"$and": []bson.M{
			presenceGuard(f.Field),
			{f.Field: bson.M{"$nin": f.Value}},
		}}
	case query.IsNull:
		// Matches both null values and missing fields.
		return bson.M{f.Field: nil}
	case query.IsNotNull:
		return bson.M{f.Field: bson.M{"$ne": nil}}
	case query.Contains:
		return regexClause(f.Field, regexp.QuoteMeta(stringValue(f.Value)))
	case query.StartsWith:
		return regexClause(f.Field, "^"+regexp.QuoteMeta(stringValue(f.Value)))
	case query.EndsWith:
		return regexClause(f.Field, regexp.QuoteMeta(stringValue(f.Value))+"$")
	case query.ArrayContains:
		return bson.M{f.Field: bson.M{"$elemMatch": bson.M{"$eq": f.Value}}}
	case query.ArrayContainsAny:
		return bson.M{f.Field: bson.M{"$in": f.Value}}
	default:
		// Unknown operators match nothing rather than everything.
		return bson.M{"$expr": false}
	}
}

func presenceGuard(field string) bson.M {
	return bson.M{field: bson.M{"$exists": true, "$ne": nil}}
}

func regexClause(field, pattern string) bson.M {
	return bson.M{field: primitive.Regex{Pattern: pattern}}
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

// SortDoc translates order specs to a Mongo sort document, preserving
// precedence order.
func SortDoc(orders []query.OrderSpec) bson.D {
	doc := make(bson.D, 0, len(orders))
	for _, o := range orders {
		dir := 1
		if o.Direction == query.Desc {
			dir = -1
		}
		doc = append(doc, bson.E{Key: o.Field, Value: dir})
	}
	return doc
}
