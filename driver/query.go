package driver

// Operator names a filter comparison. Drivers support the scalar operators
// natively where the backend allows and report ErrUnsupported otherwise.
type Operator string

const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpIn             Operator = "in"
	OpArrayContains  Operator = "array-contains"
)

// Filter is one field predicate.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

// Query describes a filtered, ordered, bounded read over one collection.
// The zero value selects the whole collection in ascending id order.
type Query struct {
	// Filters apply conjunctively.
	Filters []Filter

	// OrderBy names the sort field. Empty means ascending document id.
	OrderBy string

	// Desc reverses the sort direction.
	Desc bool

	// Limit bounds the result set size. Zero means unbounded.
	Limit int

	// StartAfter is an exclusive cursor on the sort field (the document id
	// when OrderBy is empty). Meaningful only when HasStartAfter is set,
	// since nil is a valid cursor value.
	StartAfter    any
	HasStartAfter bool

	// StartAfterID breaks ties between equal sort values: documents with
	// the cursor's sort value are skipped up to and including this id. Set
	// when the cursor was resolved from a concrete document, empty for
	// plain value cursors.
	StartAfterID string
}
