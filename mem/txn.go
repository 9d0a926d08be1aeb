package mem

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/prism/driver"
)

// txn stages writes in an overlay while holding the connection's write
// lock, so transactions serialize and reads always observe a committed
// snapshot. Nothing becomes visible until the callback returns nil.
type txn struct {
	conn    *Conn
	now     time.Time
	overlay overlay
}

var _ driver.Txn = (*txn)(nil)

// RunTransaction executes fn under the write lock and commits its staged
// overlay atomically. An error from fn or from staging discards the overlay
// untouched. There is no contention to retry under a global lock, so fn
// runs exactly once.
func (c *Conn) RunTransaction(ctx context.Context, fn func(driver.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	t := &txn{
		conn:    c,
		now:     time.Now().UTC(),
		overlay: make(overlay),
	}
	if err := fn(t); err != nil {
		return err
	}
	c.commitLocked(t.overlay)
	return nil
}

// Get reads committed state; staged writes are never visible to reads on
// the same transaction.
func (t *txn) Get(path string) (driver.Document, error) {
	rec, ok := t.conn.getLocked(path)
	if !ok {
		return nil, nil
	}
	return deepCopy(rec.data), nil
}

// GetAll reads every path from committed state, index-aligned with paths.
func (t *txn) GetAll(paths []string) ([]driver.Document, error) {
	docs := make([]driver.Document, len(paths))
	for i, p := range paths {
		doc, err := t.Get(p)
		if err != nil {
			return nil, err
		}
		docs[i] = doc
	}
	return docs, nil
}

// Create stages an insert under a fresh uuid, returned before commit.
func (t *txn) Create(collection string, data driver.Document) (string, error) {
	id := uuid.NewString()
	op := stagedOp{kind: opCreate, path: collection + "/" + id, data: data}
	if err := t.conn.stageLocked(t.overlay, op, t.now); err != nil {
		return "", err
	}
	return id, nil
}

// Set stages a full overwrite at path.
func (t *txn) Set(path string, data driver.Document) error {
	return t.conn.stageLocked(t.overlay, stagedOp{kind: opSet, path: path, data: data}, t.now)
}

// Update stages a merge at path. It fails immediately when the document
// exists neither committed nor staged, aborting the transaction.
func (t *txn) Update(path string, data driver.Document) error {
	return t.conn.stageLocked(t.overlay, stagedOp{kind: opUpdate, path: path, data: data}, t.now)
}

// Delete stages a removal at path.
func (t *txn) Delete(path string) error {
	return t.conn.stageLocked(t.overlay, stagedOp{kind: opDelete, path: path}, t.now)
}
