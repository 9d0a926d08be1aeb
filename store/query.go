package store

import (
	"context"
	"fmt"

	"github.com/jacentio/prism/driver"
)

// Direction orders query results.
type Direction int

const (
	// Asc sorts results from smallest to largest.
	Asc Direction = iota

	// Desc sorts results from largest to smallest.
	Desc
)

// Query is an immutable query builder over one collection. Every method
// returns a derived copy and never mutates its receiver, so a partially
// built query can be shared and extended in divergent directions safely.
//
// Invalid inputs (unknown operators, malformed paths) are held back and
// reported by Fetch, so chains never need intermediate error checks.
type Query struct {
	store      *Store
	collection string

	filters       []driver.Filter
	orderBy       string
	desc          bool
	limit         int
	startAfter    any
	hasStartAfter bool
	startPath     string
	err           error
}

// Where returns a copy of q that also filters on field op value. Filters
// combine conjunctively. Supported operators: ==, !=, <, <=, >, >=, in,
// array-contains.
func (q Query) Where(field, op string, value any) Query {
	if q.err != nil {
		return q
	}
	operator, ok := parseOperator(op)
	if !ok {
		q.err = fmt.Errorf("prism: unknown query operator %q", op)
		return q
	}
	// Copy before append: the receiver's backing array must stay untouched.
	filters := make([]driver.Filter, len(q.filters), len(q.filters)+1)
	copy(filters, q.filters)
	q.filters = append(filters, driver.Filter{Field: field, Op: operator, Value: value})
	return q
}

// OrderBy returns a copy of q sorted by field in the given direction.
func (q Query) OrderBy(field string, dir Direction) Query {
	q.orderBy = field
	q.desc = dir == Desc
	return q
}

// Limit returns a copy of q capped at n results.
func (q Query) Limit(n int) Query {
	q.limit = n
	return q
}

// StartAfter returns a copy of q resuming strictly after the given value of
// the sort field (the document id when no OrderBy is set).
func (q Query) StartAfter(value any) Query {
	q.startAfter = value
	q.hasStartAfter = true
	q.startPath = ""
	return q
}

// StartAfterDoc returns a copy of q resuming strictly after the document at
// path. The document is read at fetch time to resolve the cursor value; if
// it does not exist, Fetch fails with ErrNotFound.
func (q Query) StartAfterDoc(path string) Query {
	q.startPath = path
	q.startAfter = nil
	q.hasStartAfter = false
	return q
}

// Fetch executes the query and returns the matching documents in query
// order, each with its id merged in.
func (q Query) Fetch(ctx context.Context) ([]Document, error) {
	defer q.store.track("query")()
	if q.err != nil {
		return nil, q.store.fail("query", q.collection, nil, q.err)
	}
	dq := driver.Query{
		Filters:       q.filters,
		OrderBy:       q.orderBy,
		Desc:          q.desc,
		Limit:         q.limit,
		StartAfter:    q.startAfter,
		HasStartAfter: q.hasStartAfter,
	}
	return q.store.list(ctx, "query", q.collection, dq, q.startPath)
}

func parseOperator(op string) (driver.Operator, bool) {
	switch o := driver.Operator(op); o {
	case driver.OpEqual, driver.OpNotEqual,
		driver.OpLess, driver.OpLessOrEqual,
		driver.OpGreater, driver.OpGreaterOrEqual,
		driver.OpIn, driver.OpArrayContains:
		return o, true
	default:
		return "", false
	}
}
