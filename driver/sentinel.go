package driver

// SentinelKind discriminates the backend-interpreted field mutations.
type SentinelKind int

const (
	// SentinelIncrement adds a delta to a numeric field, treating an absent
	// field as zero.
	SentinelIncrement SentinelKind = iota

	// SentinelServerTimestamp stores the backend's write time.
	SentinelServerTimestamp

	// SentinelDelete removes the field from the document.
	SentinelDelete

	// SentinelArrayUnion appends elements not already present in an array
	// field.
	SentinelArrayUnion

	// SentinelArrayRemove removes all occurrences of the elements from an
	// array field.
	SentinelArrayRemove
)

// Sentinel is an opaque field-mutation marker substituted for a literal
// value in a document. It is never evaluated by the facade; each driver
// translates it at write time, or rejects the write with ErrUnsupported
// when the backend cannot express it.
//
// Construct sentinels with the helper functions in this package (or via
// store.Sentinels); the fields are exported only for driver implementations.
type Sentinel struct {
	Kind  SentinelKind
	Delta int64 // SentinelIncrement
	Elems []any // SentinelArrayUnion, SentinelArrayRemove
}

// Increment returns a marker that adds n to a numeric field.
func Increment(n int64) Sentinel {
	return Sentinel{Kind: SentinelIncrement, Delta: n}
}

// ServerTimestamp returns a marker that stores the backend write time.
func ServerTimestamp() Sentinel {
	return Sentinel{Kind: SentinelServerTimestamp}
}

// DeleteField returns a marker that removes the field.
func DeleteField() Sentinel {
	return Sentinel{Kind: SentinelDelete}
}

// ArrayUnion returns a marker that appends elems not already present.
func ArrayUnion(elems ...any) Sentinel {
	return Sentinel{Kind: SentinelArrayUnion, Elems: elems}
}

// ArrayRemove returns a marker that removes every occurrence of elems.
func ArrayRemove(elems ...any) Sentinel {
	return Sentinel{Kind: SentinelArrayRemove, Elems: elems}
}

// AsSentinel reports whether v is a sentinel marker.
func AsSentinel(v any) (Sentinel, bool) {
	s, ok := v.(Sentinel)
	return s, ok
}
