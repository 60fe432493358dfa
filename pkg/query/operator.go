package query

// Operator identifies a filter comparison. Every operator is total over
// absent and null field values: an absent or null field matches nothing
// except through IsNull and IsNotNull.
type Operator string

const (
	// Eq matches when the field value equals the comparison value
	Eq Operator = "eq"
	// Neq matches when the field value differs from the comparison value
	Neq Operator = "neq"
	// Lt matches when the field value is strictly less than the comparison value
	Lt Operator = "lt"
	// Lte matches when the field value is less than or equal to the comparison value
	Lte Operator = "lte"
	// Gt matches when the field value is strictly greater than the comparison value
	Gt Operator = "gt"
	// Gte matches when the field value is greater than or equal to the comparison value
	Gte Operator = "gte"
	// In matches when the field value is a member of the comparison list
	In Operator = "in"
	// NotIn matches when the field value is not a member of the comparison list
	NotIn Operator = "not_in"
	// IsNull matches when the field is absent or null
	IsNull Operator = "is_null"
	// IsNotNull matches when the field is present and non-null
	IsNotNull Operator = "is_not_null"
	// Contains matches when the string field contains the comparison substring
	Contains Operator = "contains"
	// StartsWith matches when the string field starts with the comparison prefix
	StartsWith Operator = "starts_with"
	// EndsWith matches when the string field ends with the comparison suffix
	EndsWith Operator = "ends_with"
	// ArrayContains matches when the array field contains the comparison value
	ArrayContains Operator = "array_contains"
	// ArrayContainsAny matches when the array field shares any member with the comparison list
	ArrayContainsAny Operator = "array_contains_any"
)

// negated maps operators to their exact logical negation. Only the null
// checks are true complements: for every other pair (Eq/Neq, Lt/Gte, ...)
// an absent field matches neither side, so flipping the operator would
// change the meaning of the negation.
var negated = map[Operator]Operator{
	IsNull:    IsNotNull,
	IsNotNull: IsNull,
}

// Valid reports whether op is a member of the operator set.
func (op Operator) Valid() bool {
	switch op {
	case Eq, Neq, Lt, Lte, Gt, Gte, In, NotIn, IsNull, IsNotNull,
		Contains, StartsWith, EndsWith, ArrayContains, ArrayContainsAny:
		return true
	default:
		return false
	}
}
