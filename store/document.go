package store

import (
	"github.com/jacentio/prism/driver"
)

const (
	// IDField is the reserved document field carrying the backend-assigned
	// id. Every document returned by a read, list, or watch has it set.
	IDField = "id"

	// IDToken is the placeholder substituted with the created document's id
	// in CreateAndMirror path templates.
	IDToken = ":id"
)

// Document is a schemaless field map. Values are plain Go types as produced
// by the backend driver: bool, string, int64, float64, []byte, time.Time,
// nil, []any and nested map[string]any.
type Document = driver.Document

// ChangeKind classifies a single document delta within a query feed.
type ChangeKind = driver.ChangeKind

// Change kinds reported by ChangeFeed subscriptions.
const (
	ChangeAdded    = driver.ChangeAdded
	ChangeModified = driver.ChangeModified
	ChangeRemoved  = driver.ChangeRemoved
)

// Change is one document delta within a query result set.
type Change struct {
	Kind ChangeKind

	// Doc is the document after the change, with its id merged in. For
	// ChangeRemoved it is the last observed state of the document.
	Doc Document
}

// ListOptions control ListAll and WatchAll result shaping. The zero value
// lists the whole collection in ascending id order.
type ListOptions struct {
	// OrderBy names the field results are sorted by. Empty means id order.
	OrderBy string

	// Desc reverses the sort order.
	Desc bool

	// Limit caps the number of results. Zero means no cap.
	Limit int

	// StartAfter resumes strictly after the given value of the OrderBy
	// field (or after the given id when OrderBy is empty).
	StartAfter any

	// StartAfterPath resumes strictly after the document at this path. The
	// document is read to resolve its cursor value; a missing document
	// fails the operation with ErrNotFound. Ignored when StartAfter is set.
	StartAfterPath string
}

func (o ListOptions) driverQuery() driver.Query {
	q := driver.Query{
		OrderBy: o.OrderBy,
		Desc:    o.Desc,
		Limit:   o.Limit,
	}
	if o.StartAfter != nil {
		q.StartAfter = o.StartAfter
		q.HasStartAfter = true
	}
	return q
}

// clone returns a shallow copy of doc so facade results never alias stored
// state or caller maps.
func clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// withID clones doc and merges the id field in.
func withID(doc Document, id string) Document {
	if doc == nil {
		return nil
	}
	out := clone(doc)
	out[IDField] = id
	return out
}

// stripID clones doc without its id field. Used on create, where the
// backend assigns the id.
func stripID(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		if k == IDField {
			continue
		}
		out[k] = v
	}
	return out
}

func snapshotsToDocuments(snaps []driver.Snapshot) []Document {
	docs := make([]Document, len(snaps))
	for i, s := range snaps {
		docs[i] = withID(s.Data, s.ID)
	}
	return docs
}

func driverChanges(changes []driver.Change) []Change {
	out := make([]Change, len(changes))
	for i, c := range changes {
		out[i] = Change{Kind: c.Kind, Doc: withID(c.Snap.Data, c.Snap.ID)}
	}
	return out
}
