package gcpfirestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jacentio/prism/driver"
)

// txn adapts a Firestore transaction to the driver contract. Firestore
// enforces the reads-before-writes rule itself and retries contended
// commits internally, so this layer only translates calls.
type txn struct {
	conn *Conn
	tx   *firestore.Transaction
}

var _ driver.Txn = (*txn)(nil)

// RunTransaction executes fn against a Firestore transaction. The client
// re-runs fn on contention; a commit that still cannot land surfaces as
// ErrConflict.
func (c *Conn) RunTransaction(ctx context.Context, fn func(driver.Txn) error) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	err := c.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		return fn(&txn{conn: c, tx: tx})
	})
	if status.Code(err) == codes.Aborted {
		return driver.ErrConflict
	}
	return err
}

// Get reads the document at path within the transaction snapshot.
func (t *txn) Get(path string) (driver.Document, error) {
	snap, err := t.tx.Get(t.conn.client.Doc(path))
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap.Data(), nil
}

// GetAll reads every path in one consistent snapshot, index-aligned with
// paths; absent documents read as nil.
func (t *txn) GetAll(paths []string) ([]driver.Document, error) {
	refs := make([]*firestore.DocumentRef, len(paths))
	for i, p := range paths {
		refs[i] = t.conn.client.Doc(p)
	}
	snaps, err := t.tx.GetAll(refs)
	if err != nil {
		return nil, err
	}
	docs := make([]driver.Document, len(snaps))
	for i, snap := range snaps {
		if snap.Exists() {
			docs[i] = snap.Data()
		}
	}
	return docs, nil
}

// Create stages an insert under a reserved document reference, so the id
// is available before commit.
func (t *txn) Create(collection string, data driver.Document) (string, error) {
	payload, err := translateDocument(data)
	if err != nil {
		return "", err
	}
	ref := t.conn.client.Collection(collection).NewDoc()
	if err := t.tx.Create(ref, payload); err != nil {
		return "", err
	}
	return ref.ID, nil
}

// Set stages a full overwrite at path.
func (t *txn) Set(path string, data driver.Document) error {
	payload, err := translateDocument(data)
	if err != nil {
		return err
	}
	return t.tx.Set(t.conn.client.Doc(path), payload)
}

// Update stages a merge at path. Firestore fails the commit with NotFound
// when the document does not exist, surfaced as ErrNotFound by
// RunTransaction's caller contract.
func (t *txn) Update(path string, data driver.Document) error {
	updates, err := translateUpdates(data)
	if err != nil {
		return err
	}
	err = t.tx.Update(t.conn.client.Doc(path), updates)
	if status.Code(err) == codes.NotFound {
		return driver.ErrNotFound
	}
	return err
}

// Delete stages a removal at path.
func (t *txn) Delete(path string) error {
	return t.tx.Delete(t.conn.client.Doc(path))
}
