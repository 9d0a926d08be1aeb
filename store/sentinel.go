package store

import "github.com/jacentio/prism/driver"

// Sentinel is an inert field marker interpreted by the backend at write
// time. Sentinels are only meaningful as top-level values in a set, update,
// or transactional write payload; reads never return them.
type Sentinel = driver.Sentinel

// Increment returns a sentinel that atomically adds n to a numeric field.
// A missing field is treated as zero.
func Increment(n int64) Sentinel { return driver.Increment(n) }

// ServerTimestamp returns a sentinel that sets the field to the backend's
// authoritative write time.
func ServerTimestamp() Sentinel { return driver.ServerTimestamp() }

// DeleteField returns a sentinel that removes the field from the document.
// Removing a field that does not exist is not an error.
func DeleteField() Sentinel { return driver.DeleteField() }

// ArrayUnion returns a sentinel that appends each element not already
// present in the array field. A missing field becomes an array of elems.
func ArrayUnion(elems ...any) Sentinel { return driver.ArrayUnion(elems...) }

// ArrayRemove returns a sentinel that removes every occurrence of each
// element from the array field. Absent elements are ignored.
func ArrayRemove(elems ...any) Sentinel { return driver.ArrayRemove(elems...) }

// Sentinels groups the sentinel constructors for call sites that reach the
// store through the DataStore interface. The methods are equivalent to the
// package-level functions.
type Sentinels struct{}

func (Sentinels) Increment(n int64) Sentinel       { return Increment(n) }
func (Sentinels) ServerTimestamp() Sentinel        { return ServerTimestamp() }
func (Sentinels) DeleteField() Sentinel            { return DeleteField() }
func (Sentinels) ArrayUnion(elems ...any) Sentinel { return ArrayUnion(elems...) }
func (Sentinels) ArrayRemove(elems ...any) Sentinel {
	return ArrayRemove(elems...)
}
