package store

import (
	"context"

	"github.com/jacentio/prism/docpath"
	"github.com/jacentio/prism/driver"
)

// Tx stages reads and writes on one atomic backend transaction. Reads
// observe committed state from before the transaction; staged writes take
// effect only when the transaction commits, and are never visible to reads
// on the same handle.
//
// All reads must happen before the first staged write. Once Create, Set,
// Update, Delete, or Mirror has staged anything, further reads fail with
// ErrReadAfterWrite aborting the transaction. A Tx is not safe for
// concurrent use and must not escape its Transact callback: the driver may
// retry the callback with a fresh handle.
type Tx struct {
	store *Store
	txn   driver.Txn
	wrote bool
}

// Transact runs fn against a transaction handle. Every write staged by fn
// commits atomically after fn returns nil; an error from fn or from the
// commit aborts the transaction with no effects. Contended commits may
// re-run fn, so fn must be side-effect free outside the handle.
func (s *Store) Transact(ctx context.Context, fn func(*Tx) error) error {
	defer s.track("transact")()
	err := s.conn.RunTransaction(ctx, func(txn driver.Txn) error {
		return fn(&Tx{store: s, txn: txn})
	})
	if err != nil {
		return s.fail("transact", "", nil, err)
	}
	return nil
}

// TransactValue runs fn in a transaction and returns its result alongside
// the transaction outcome. On error the zero value of T is returned.
func TransactValue[T any](ctx context.Context, s *Store, fn func(*Tx) (T, error)) (T, error) {
	var out T
	err := s.Transact(ctx, func(tx *Tx) error {
		v, err := fn(tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Read returns the document at path as of the transaction snapshot, with
// its id merged in, or (nil, nil) if it does not exist.
func (tx *Tx) Read(path string) (Document, error) {
	if tx.wrote {
		return nil, tx.store.fail("tx.read", path, nil, ErrReadAfterWrite)
	}
	if err := docpath.ValidateDocument(path); err != nil {
		return nil, tx.store.fail("tx.read", path, nil, err)
	}
	doc, err := tx.txn.Get(path)
	if err != nil {
		return nil, tx.store.fail("tx.read", path, nil, err)
	}
	return withID(doc, docpath.ID(path)), nil
}

// ReadAll reads every path within the transaction snapshot. The result is
// index-aligned with paths; absent documents read as nil.
func (tx *Tx) ReadAll(paths []string) ([]Document, error) {
	if tx.wrote {
		return nil, tx.store.fail("tx.readAll", "", nil, ErrReadAfterWrite)
	}
	for _, p := range paths {
		if err := docpath.ValidateDocument(p); err != nil {
			return nil, tx.store.fail("tx.readAll", p, nil, err)
		}
	}
	docs, err := tx.txn.GetAll(paths)
	if err != nil {
		return nil, tx.store.fail("tx.readAll", "", nil, err)
	}
	out := make([]Document, len(docs))
	for i, doc := range docs {
		out[i] = withID(doc, docpath.ID(paths[i]))
	}
	return out, nil
}

// Create stages a document insert in the collection. The id is reserved and
// returned immediately, merged into the result, so later staged writes can
// reference it before commit. A caller-supplied "id" field is dropped.
func (tx *Tx) Create(collection string, data Document) (Document, error) {
	if err := docpath.ValidateCollection(collection); err != nil {
		return nil, tx.store.fail("tx.create", collection, data, err)
	}
	id, err := tx.txn.Create(collection, stripID(data))
	if err != nil {
		return nil, tx.store.fail("tx.create", collection, data, err)
	}
	tx.wrote = true
	return withID(data, id), nil
}

// Set stages a full overwrite of the document at path.
func (tx *Tx) Set(path string, data Document) error {
	if err := docpath.ValidateDocument(path); err != nil {
		return tx.store.fail("tx.set", path, data, err)
	}
	if err := tx.txn.Set(path, data); err != nil {
		return tx.store.fail("tx.set", path, data, err)
	}
	tx.wrote = true
	return nil
}

// Update stages a merge into the document at path. The commit fails with
// ErrNotFound if the document does not exist.
func (tx *Tx) Update(path string, data Document) error {
	if err := docpath.ValidateDocument(path); err != nil {
		return tx.store.fail("tx.update", path, data, err)
	}
	if err := tx.txn.Update(path, data); err != nil {
		return tx.store.fail("tx.update", path, data, err)
	}
	tx.wrote = true
	return nil
}

// Delete stages a removal of the document at path.
func (tx *Tx) Delete(path string) error {
	if err := docpath.ValidateDocument(path); err != nil {
		return tx.store.fail("tx.delete", path, nil, err)
	}
	if err := tx.txn.Delete(path); err != nil {
		return tx.store.fail("tx.delete", path, nil, err)
	}
	tx.wrote = true
	return nil
}

// Mirror stages writes replicating a document to every mirror path, all
// committing atomically with the rest of the transaction. When data is nil
// the primary document is read first, so nil-data mirrors must precede any
// staged write; a missing primary fails with ErrNotFound. When data is
// non-nil it is staged as given and the primary is not consulted.
func (tx *Tx) Mirror(primary string, mirrors []string, data Document) error {
	if err := docpath.ValidateDocument(primary); err != nil {
		return tx.store.fail("tx.mirror", primary, data, err)
	}
	for _, m := range mirrors {
		if err := docpath.ValidateDocument(m); err != nil {
			return tx.store.fail("tx.mirror", m, data, err)
		}
	}

	payload := data
	if payload == nil {
		doc, err := tx.Read(primary)
		if err != nil {
			return err
		}
		if doc == nil {
			return tx.store.fail("tx.mirror", primary, nil, ErrNotFound)
		}
		payload = doc
	}

	for _, m := range mirrors {
		if err := tx.Set(m, payload); err != nil {
			return err
		}
	}
	return nil
}
