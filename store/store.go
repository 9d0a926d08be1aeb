package store

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jacentio/prism/docpath"
	"github.com/jacentio/prism/driver"
)

// DataStore is the backend-agnostic document-store contract. *Store is its
// only implementation in this module; the type exists so applications can
// accept any conforming store and tests can substitute doubles.
type DataStore interface {
	// Create stores data in the collection under a backend-assigned id and
	// returns the stored document with the id merged in.
	Create(ctx context.Context, collection string, data Document) (Document, error)

	// Read returns the document at path with its id merged in, or (nil, nil)
	// if no document exists there.
	Read(ctx context.Context, path string) (Document, error)

	// ReadAll reads every path in parallel. The result is index-aligned with
	// paths; absent documents read as nil.
	ReadAll(ctx context.Context, paths []string) ([]Document, error)

	// Set writes the full document at path, creating or replacing it.
	Set(ctx context.Context, path string, data Document) error

	// Update merges data into the document at path. Fields not named in data
	// are untouched. Fails with ErrNotFound if the document does not exist.
	Update(ctx context.Context, path string, data Document) error

	// Delete removes the document at path. Deleting an absent document is
	// not an error.
	Delete(ctx context.Context, path string) error

	// Query starts an immutable query builder over the collection.
	Query(collection string) Query

	// ListAll returns the collection's documents shaped by opts.
	ListAll(ctx context.Context, collection string, opts ListOptions) ([]Document, error)

	// Watch returns the lazy feed of the document at path.
	Watch(path string) *DocFeed

	// WatchAll returns the lazy feed of the collection's full result set.
	WatchAll(collection string, opts ListOptions) *ListFeed

	// WatchChanges returns the lazy feed of per-batch deltas over the
	// collection.
	WatchChanges(collection string, opts ListOptions) *ChangeFeed

	// Transact runs fn against a transaction handle. Writes staged by fn
	// commit atomically after fn returns nil.
	Transact(ctx context.Context, fn func(*Tx) error) error

	// Mirror replicates the primary document (or data, when non-nil) to
	// every mirror path, best-effort in parallel.
	Mirror(ctx context.Context, primary string, mirrors []string, data Document) error

	// CreateAndMirror atomically creates a document and writes it to every
	// expanded path template.
	CreateAndMirror(ctx context.Context, collection string, data Document, templates []string) (Document, error)

	// MultiUpdate applies the same merge to every path, best-effort in
	// parallel.
	MultiUpdate(ctx context.Context, paths []string, data Document) error

	// Sentinels returns the field transform constructors.
	Sentinels() Sentinels

	// Close releases the backend connection.
	Close() error
}

// Store implements DataStore over a driver.Conn. The backend variant is
// chosen by constructing a different driver (mem, dynamo, gcpfirestore);
// nothing above the driver boundary changes.
type Store struct {
	conn   driver.Conn
	config Config
	rules  *MirrorRules
}

var _ DataStore = (*Store)(nil)

// New creates a Store over the given backend connection.
func New(conn driver.Conn, config Config) *Store {
	config.validate()
	return &Store{
		conn:   conn,
		config: config,
	}
}

// NewWithRules creates a Store carrying a mirror rule registry.
func NewWithRules(conn driver.Conn, config Config, rules *MirrorRules) *Store {
	config.validate()
	return &Store{
		conn:   conn,
		config: config,
		rules:  rules,
	}
}

// SetRules sets the mirror rule registry for rule-driven mirroring.
func (s *Store) SetRules(rules *MirrorRules) {
	s.rules = rules
}

// Rules returns the mirror rule registry, or nil if not set.
func (s *Store) Rules() *MirrorRules {
	return s.rules
}

// Sentinels returns the field transform constructors.
func (s *Store) Sentinels() Sentinels {
	return Sentinels{}
}

// Create stores data in the collection under a backend-assigned id.
// A caller-supplied "id" field is dropped; the backend owns id assignment.
// The returned document is the input with the assigned id merged in, so
// sentinel fields appear unresolved until read back.
func (s *Store) Create(ctx context.Context, collection string, data Document) (Document, error) {
	defer s.track("create")()
	if err := docpath.ValidateCollection(collection); err != nil {
		return nil, s.fail("create", collection, data, err)
	}
	id, err := s.conn.Add(ctx, collection, stripID(data))
	if err != nil {
		return nil, s.fail("create", collection, data, err)
	}
	return withID(data, id), nil
}

// Read returns the document at path, or (nil, nil) if it does not exist.
func (s *Store) Read(ctx context.Context, path string) (Document, error) {
	defer s.track("read")()
	if err := docpath.ValidateDocument(path); err != nil {
		return nil, s.fail("read", path, nil, err)
	}
	doc, err := s.conn.Get(ctx, path)
	if err != nil {
		return nil, s.fail("read", path, nil, err)
	}
	return withID(doc, docpath.ID(path)), nil
}

// ReadAll reads every path in parallel, preserving order: result[i]
// corresponds to paths[i] and is nil where no document exists.
func (s *Store) ReadAll(ctx context.Context, paths []string) ([]Document, error) {
	defer s.track("readAll")()
	for _, p := range paths {
		if err := docpath.ValidateDocument(p); err != nil {
			return nil, s.fail("readAll", p, nil, err)
		}
	}

	docs := make([]Document, len(paths))
	errs := make([]error, len(paths))
	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			doc, err := s.conn.Get(ctx, p)
			if err != nil {
				errs[i] = err
				return
			}
			docs[i] = withID(doc, docpath.ID(p))
		}(i, p)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, s.fail("readAll", paths[i], nil, err)
		}
	}
	return docs, nil
}

// Set writes the full document at path, creating or replacing it.
func (s *Store) Set(ctx context.Context, path string, data Document) error {
	defer s.track("set")()
	if err := docpath.ValidateDocument(path); err != nil {
		return s.fail("set", path, data, err)
	}
	if err := s.conn.Set(ctx, path, data); err != nil {
		return s.fail("set", path, data, err)
	}
	return nil
}

// Update merges data into the document at path. Fields absent from data are
// untouched; sentinel values are applied by the backend. Fails with
// ErrNotFound if the document does not exist.
func (s *Store) Update(ctx context.Context, path string, data Document) error {
	defer s.track("update")()
	if err := docpath.ValidateDocument(path); err != nil {
		return s.fail("update", path, data, err)
	}
	if err := s.conn.Update(ctx, path, data); err != nil {
		return s.fail("update", path, data, err)
	}
	return nil
}

// Delete removes the document at path. Deleting an absent document is not
// an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	defer s.track("delete")()
	if err := docpath.ValidateDocument(path); err != nil {
		return s.fail("delete", path, nil, err)
	}
	if err := s.conn.Delete(ctx, path); err != nil {
		return s.fail("delete", path, nil, err)
	}
	return nil
}

// Query starts an immutable builder over the collection. The collection
// path is validated when the query is fetched.
func (s *Store) Query(collection string) Query {
	return Query{store: s, collection: collection}
}

// ListAll returns the collection's documents shaped by opts.
func (s *Store) ListAll(ctx context.Context, collection string, opts ListOptions) ([]Document, error) {
	defer s.track("listAll")()
	return s.list(ctx, "listAll", collection, opts.driverQuery(), opts.StartAfterPath)
}

// list validates the collection, resolves any path cursor, runs the driver
// query, and merges ids into the results.
func (s *Store) list(ctx context.Context, op, collection string, q driver.Query, startAfterPath string) ([]Document, error) {
	if err := docpath.ValidateCollection(collection); err != nil {
		return nil, s.fail(op, collection, nil, err)
	}

	if !q.HasStartAfter && startAfterPath != "" {
		value, id, err := s.resolveCursor(ctx, startAfterPath, q.OrderBy)
		if err != nil {
			return nil, s.fail(op, startAfterPath, nil, err)
		}
		q.StartAfter = value
		q.HasStartAfter = true
		q.StartAfterID = id
	}

	snaps, err := s.conn.List(ctx, collection, q)
	if err != nil {
		return nil, s.fail(op, collection, nil, err)
	}
	return snapshotsToDocuments(snaps), nil
}

// resolveCursor reads the cursor document and extracts the value results
// must sort strictly after: its id when orderBy is empty, otherwise its
// orderBy field.
func (s *Store) resolveCursor(ctx context.Context, path, orderBy string) (any, string, error) {
	if err := docpath.ValidateDocument(path); err != nil {
		return nil, "", err
	}
	doc, err := s.conn.Get(ctx, path)
	if err != nil {
		return nil, "", err
	}
	if doc == nil {
		return nil, "", ErrNotFound
	}
	id := docpath.ID(path)
	if orderBy == "" {
		return id, id, nil
	}
	return doc[orderBy], id, nil
}

// Close releases the backend connection.
func (s *Store) Close() error {
	if err := s.conn.Close(); err != nil {
		return s.fail("close", "", nil, err)
	}
	return nil
}

// WritePrometheus writes the store's operation metrics in Prometheus text
// format.
func (s *Store) WritePrometheus(w io.Writer) {
	s.config.Metrics.WritePrometheus(w)
}

// track counts the operation and returns a func observing its duration.
func (s *Store) track(op string) func() {
	s.config.Metrics.GetOrCreateCounter(fmt.Sprintf(`prism_operations_total{op=%q}`, op)).Inc()
	start := time.Now()
	return func() {
		s.config.Metrics.GetOrCreateSummary(fmt.Sprintf(`prism_operation_seconds{op=%q}`, op)).UpdateDuration(start)
	}
}

// fail logs the failed operation with its path and payload, counts it, and
// returns err wrapped with the operation context. The original error stays
// matchable through errors.Is/As.
func (s *Store) fail(op, path string, data Document, err error) error {
	if err == nil {
		return nil
	}
	s.config.Metrics.GetOrCreateCounter(fmt.Sprintf(`prism_operation_errors_total{op=%q}`, op)).Inc()

	attrs := []any{"op", op}
	if path != "" {
		attrs = append(attrs, "path", path)
	}
	if data != nil {
		attrs = append(attrs, "data", data)
	}
	attrs = append(attrs, "error", err)
	s.config.Logger.Error("datastore operation failed", attrs...)

	if path == "" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s %q: %w", op, path, err)
}
