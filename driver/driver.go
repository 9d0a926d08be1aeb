// Package driver defines the contract between the prism store facade and a
// concrete document-store backend.
//
// A backend supplies connection-scoped CRUD primitives, query execution,
// atomic transactions, and live listeners over documents and queries. The
// facade in package store validates paths, merges document ids, annotates
// errors, and composes the derived operations; drivers only translate the
// primitives below onto their backend client.
package driver

import "context"

// Document is the raw record shape exchanged with a backend: a field map.
// The "id" field is reserved; backends assign it and callers never supply it
// on create.
type Document = map[string]any

// Snapshot pairs a document with the id it was located under, so the caller
// can merge the id into the data.
type Snapshot struct {
	// ID is the final path segment of the document's location.
	ID string

	// Data is the document's field map, without backend bookkeeping fields.
	Data Document
}

// ChangeKind tags one observed mutation in a live query feed.
type ChangeKind string

const (
	// ChangeAdded marks a document that entered the result set.
	ChangeAdded ChangeKind = "added"

	// ChangeModified marks a document whose data changed in place.
	ChangeModified ChangeKind = "modified"

	// ChangeRemoved marks a document that left the result set.
	ChangeRemoved ChangeKind = "removed"
)

// Change describes one mutation within a notification batch.
type Change struct {
	Kind ChangeKind
	Snap Snapshot
}

// DocHandler receives document listener notifications. A nil document means
// the document does not exist at the watched path. A non-nil error means the
// backend listener failed; no further notifications follow it.
type DocHandler func(doc Document, err error)

// QueryHandler receives query listener notifications: the full ordered result
// set and the changes since the previous notification, in the order the
// backend reported them. The first notification after registration carries
// the initial result set with every document marked ChangeAdded.
type QueryHandler func(snaps []Snapshot, changes []Change, err error)

// CancelFunc tears down a listener registration. After it returns the driver
// must not begin a new handler invocation. It must be safe to call more than
// once and must not block on in-flight handler calls (the facade serializes
// delivery itself).
type CancelFunc func()

// Conn is a connection handle to one backend.
//
// Paths passed to Conn methods are pre-validated by the facade: document
// methods receive paths with even segment parity, collection methods odd.
// Get returns (nil, nil) when the path resolves but holds no document.
type Conn interface {
	// Add creates a document in the collection under a backend-assigned id
	// and returns that id.
	Add(ctx context.Context, collection string, data Document) (string, error)

	// Get reads the document at path, or (nil, nil) if it does not exist.
	Get(ctx context.Context, path string) (Document, error)

	// Set writes the full document at path, creating or overwriting it.
	Set(ctx context.Context, path string, data Document) error

	// Update merges data into the existing document at path. Fields not
	// named in data are untouched. Fails if the document does not exist.
	Update(ctx context.Context, path string, data Document) error

	// Delete removes the document at path. Deleting an absent document is
	// not an error.
	Delete(ctx context.Context, path string) error

	// List executes q against the collection and returns the matching
	// documents in query order.
	List(ctx context.Context, collection string, q Query) ([]Snapshot, error)

	// RunTransaction executes fn against a transaction handle. All writes
	// staged by fn commit atomically after fn returns nil; any error from fn
	// or from the commit aborts the transaction with no effects. The driver
	// may re-invoke fn to retry contended commits.
	RunTransaction(ctx context.Context, fn func(Txn) error) error

	// ListenDoc registers a listener on the document at path. The handler
	// receives the current value promptly after registration, then every
	// subsequent state. Handlers run on a driver-owned goroutine, one call
	// at a time per registration, and are never invoked synchronously from
	// within ListenDoc itself.
	ListenDoc(ctx context.Context, path string, h DocHandler) (CancelFunc, error)

	// ListenQuery registers a listener on q over the collection, with the
	// same dispatch rules as ListenDoc.
	ListenQuery(ctx context.Context, collection string, q Query, h QueryHandler) (CancelFunc, error)

	// Close releases the backend connection.
	Close() error
}

// Txn stages operations on one atomic backend transaction. Reads observe
// committed state from before the transaction; staged writes become visible
// only at commit. The facade enforces that all reads happen before the first
// write, so drivers may assume that ordering.
type Txn interface {
	// Get reads the document at path, or (nil, nil) if it does not exist.
	Get(path string) (Document, error)

	// GetAll reads every path, preserving order: result[i] corresponds to
	// paths[i] and is nil where the document does not exist.
	GetAll(paths []string) ([]Document, error)

	// Create stages a document insert under a freshly reserved id, which is
	// returned immediately, before commit.
	Create(collection string, data Document) (string, error)

	// Set stages a full overwrite at path.
	Set(path string, data Document) error

	// Update stages a merge into the existing document at path. The commit
	// fails if the document does not exist.
	Update(path string, data Document) error

	// Delete stages a removal of the document at path.
	Delete(path string) error
}
