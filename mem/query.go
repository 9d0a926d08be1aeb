package mem

import (
	"sort"
	"strings"
	"time"

	"github.com/jacentio/prism/driver"
)

// revSnap is a query result row referencing committed data. Callers copy
// the data before it leaves the lock.
type revSnap struct {
	id   string
	rev  uint64
	data driver.Document
}

// runQueryLocked evaluates q against committed state: filter, sort, cursor,
// limit, in that order.
func (c *Conn) runQueryLocked(collection string, q driver.Query) []revSnap {
	col := c.collections[collection]
	snaps := make([]revSnap, 0, len(col))
	for id, rec := range col {
		if matchFilters(rec.data, q.Filters) {
			snaps = append(snaps, revSnap{id: id, rev: rec.rev, data: rec.data})
		}
	}
	sortSnaps(snaps, q)
	snaps = applyCursor(snaps, q)
	if q.Limit > 0 && len(snaps) > q.Limit {
		snaps = snaps[:q.Limit]
	}
	return snaps
}

func matchFilters(doc driver.Document, filters []driver.Filter) bool {
	for _, f := range filters {
		if !matchFilter(doc, f) {
			return false
		}
	}
	return true
}

// matchFilter evaluates one predicate. A document lacking the filter field
// never matches, whatever the operator. "in" expects a []any operand;
// "array-contains" matches []any fields only.
func matchFilter(doc driver.Document, f driver.Filter) bool {
	v, ok := doc[f.Field]
	if !ok {
		return false
	}
	switch f.Op {
	case driver.OpEqual:
		return equalValues(v, f.Value)
	case driver.OpNotEqual:
		return !equalValues(v, f.Value)
	case driver.OpLess, driver.OpLessOrEqual, driver.OpGreater, driver.OpGreaterOrEqual:
		if valueRank(v) != valueRank(f.Value) {
			return false
		}
		c := compareValues(v, f.Value)
		switch f.Op {
		case driver.OpLess:
			return c < 0
		case driver.OpLessOrEqual:
			return c <= 0
		case driver.OpGreater:
			return c > 0
		default:
			return c >= 0
		}
	case driver.OpIn:
		elems, ok := f.Value.([]any)
		if !ok {
			return false
		}
		for _, e := range elems {
			if equalValues(v, e) {
				return true
			}
		}
		return false
	case driver.OpArrayContains:
		arr, ok := v.([]any)
		if !ok {
			return false
		}
		for _, e := range arr {
			if equalValues(e, f.Value) {
				return true
			}
		}
		return false
	}
	return false
}

// sortSnaps orders by the sort field then id, reversing both under Desc so
// the order stays total.
func sortSnaps(snaps []revSnap, q driver.Query) {
	sort.Slice(snaps, func(i, j int) bool {
		c := compareSnaps(snaps[i], snaps[j], q.OrderBy)
		if q.Desc {
			return c > 0
		}
		return c < 0
	})
}

func compareSnaps(a, b revSnap, orderBy string) int {
	if orderBy != "" {
		if c := compareValues(a.data[orderBy], b.data[orderBy]); c != 0 {
			return c
		}
	}
	return strings.Compare(a.id, b.id)
}

// applyCursor drops every row at or before the cursor position.
func applyCursor(snaps []revSnap, q driver.Query) []revSnap {
	if !q.HasStartAfter {
		return snaps
	}
	for i, s := range snaps {
		if afterCursor(s, q) {
			return snaps[i:]
		}
	}
	return nil
}

// afterCursor reports whether s sorts strictly after the cursor. Rows that
// tie on the sort value pass only when they sort after the cursor id, when
// one is known.
func afterCursor(s revSnap, q driver.Query) bool {
	v := any(s.id)
	if q.OrderBy != "" {
		v = s.data[q.OrderBy]
	}
	c := compareValues(v, q.StartAfter)
	if q.Desc {
		c = -c
	}
	if c != 0 {
		return c > 0
	}
	if q.StartAfterID == "" {
		return false
	}
	cid := strings.Compare(s.id, q.StartAfterID)
	if q.Desc {
		cid = -cid
	}
	return cid > 0
}

// valueRank orders values of different types deterministically:
// nil < bool < number < time < string < everything else.
func valueRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int64, float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	}
	return 5
}

// compareValues orders a against b: negative, zero, or positive. Values of
// different ranks order by rank alone.
func compareValues(a, b any) int {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		av, bv := a.(bool), b.(bool)
		switch {
		case av == bv:
			return 0
		case bv:
			return -1
		default:
			return 1
		}
	case 2:
		an, _ := asNumber(a)
		bn, _ := asNumber(b)
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	case 3:
		at, bt := a.(time.Time), b.(time.Time)
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		}
		return 0
	case 4:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

// diffSnaps computes the delta between consecutive result sets: removals in
// previous order, then additions and modifications in current order.
func diffSnaps(prev, cur []revSnap) []driver.Change {
	prevByID := make(map[string]revSnap, len(prev))
	for _, s := range prev {
		prevByID[s.id] = s
	}
	curIDs := make(map[string]bool, len(cur))
	for _, s := range cur {
		curIDs[s.id] = true
	}

	var changes []driver.Change
	for _, s := range prev {
		if !curIDs[s.id] {
			changes = append(changes, driver.Change{
				Kind: driver.ChangeRemoved,
				Snap: driver.Snapshot{ID: s.id, Data: s.data},
			})
		}
	}
	for _, s := range cur {
		old, ok := prevByID[s.id]
		switch {
		case !ok:
			changes = append(changes, driver.Change{
				Kind: driver.ChangeAdded,
				Snap: driver.Snapshot{ID: s.id, Data: s.data},
			})
		case old.rev != s.rev:
			changes = append(changes, driver.Change{
				Kind: driver.ChangeModified,
				Snap: driver.Snapshot{ID: s.id, Data: s.data},
			})
		}
	}
	return changes
}
