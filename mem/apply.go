package mem

import (
	"reflect"
	"time"

	"github.com/jacentio/prism/driver"
)

// resolveDocument materializes a full overwrite: data becomes the whole new
// document, with sentinels resolved against the existing document's fields.
func resolveDocument(existing, data driver.Document, now time.Time) (driver.Document, error) {
	out := make(driver.Document, len(data))
	for k, v := range data {
		resolved, keep, err := resolveValue(existing[k], v, now)
		if err != nil {
			return nil, err
		}
		if keep {
			out[k] = resolved
		}
	}
	return out, nil
}

// mergeDocument materializes a merge: existing fields survive unless data
// names them.
func mergeDocument(existing, data driver.Document, now time.Time) (driver.Document, error) {
	out := make(driver.Document, len(existing)+len(data))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range data {
		resolved, keep, err := resolveValue(existing[k], v, now)
		if err != nil {
			return nil, err
		}
		if !keep {
			delete(out, k)
			continue
		}
		out[k] = resolved
	}
	return out, nil
}

// resolveValue turns one payload value into its stored form, applying any
// sentinel against the field's previous value. keep is false when the field
// must not be stored (delete sentinel).
func resolveValue(prev, v any, now time.Time) (resolved any, keep bool, err error) {
	s, ok := driver.AsSentinel(v)
	if !ok {
		return deepCopyValue(v), true, nil
	}
	switch s.Kind {
	case driver.SentinelIncrement:
		return incremented(prev, s.Delta), true, nil
	case driver.SentinelServerTimestamp:
		return now, true, nil
	case driver.SentinelDelete:
		return nil, false, nil
	case driver.SentinelArrayUnion:
		return arrayUnion(prev, s.Elems), true, nil
	case driver.SentinelArrayRemove:
		return arrayRemove(prev, s.Elems), true, nil
	}
	return nil, false, driver.ErrUnsupported
}

// incremented adds delta to the previous numeric value. An absent or
// non-numeric previous value counts as zero.
func incremented(prev any, delta int64) any {
	switch n := prev.(type) {
	case int64:
		return n + delta
	case int:
		return int64(n) + delta
	case float64:
		return n + float64(delta)
	}
	return delta
}

// arrayUnion appends each element not already present. A previous value
// that is not an array is replaced by the elements alone.
func arrayUnion(prev any, elems []any) []any {
	arr, _ := prev.([]any)
	out := make([]any, 0, len(arr)+len(elems))
	for _, have := range arr {
		out = append(out, deepCopyValue(have))
	}
	for _, e := range elems {
		present := false
		for _, have := range out {
			if equalValues(have, e) {
				present = true
				break
			}
		}
		if !present {
			out = append(out, deepCopyValue(e))
		}
	}
	return out
}

// arrayRemove drops every occurrence of each element. Absent elements are
// ignored; a non-array previous value becomes an empty array.
func arrayRemove(prev any, elems []any) []any {
	arr, _ := prev.([]any)
	out := make([]any, 0, len(arr))
	for _, have := range arr {
		drop := false
		for _, e := range elems {
			if equalValues(have, e) {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, deepCopyValue(have))
		}
	}
	return out
}

// deepCopy clones a document so callers never alias stored state.
func deepCopy(doc driver.Document) driver.Document {
	if doc == nil {
		return nil
	}
	out := make(driver.Document, len(doc))
	for k, v := range doc {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case driver.Document:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	case []byte:
		out := make([]byte, len(t))
		copy(out, t)
		return out
	}
	return v
}

// equalValues reports semantic equality: numbers compare by value across
// int/int64/float64, times by Equal, composites structurally.
func equalValues(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}
	switch at := a.(type) {
	case string:
		bt, ok := b.(string)
		return ok && at == bt
	case bool:
		bt, ok := b.(bool)
		return ok && at == bt
	case time.Time:
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
