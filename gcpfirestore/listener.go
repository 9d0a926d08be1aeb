package gcpfirestore

import (
	"context"
	"sync"

	"cloud.google.com/go/firestore"

	"github.com/jacentio/prism/driver"
)

// watcher guards handler deliveries for one snapshot stream. Once stop
// returns no handler invocation begins, even if the stream goroutine is
// mid-iteration.
type watcher struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

func (w *watcher) deliver(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	fn()
}

func (w *watcher) stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cancel()
}

// ListenDoc pumps the document's native snapshot stream into h. The stream
// emits the current value immediately, then every subsequent state. A
// stream error is delivered once and ends the listener.
func (c *Conn) ListenDoc(ctx context.Context, path string, h driver.DocHandler) (driver.CancelFunc, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &watcher{cancel: cancel}

	go func() {
		iter := c.client.Doc(path).Snapshots(streamCtx)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if err != nil {
				if streamCtx.Err() != nil {
					return
				}
				w.deliver(func() { h(nil, err) })
				return
			}
			var doc driver.Document
			if snap.Exists() {
				doc = snap.Data()
			}
			w.deliver(func() { h(doc, nil) })
		}
	}()

	return w.stop, nil
}

// ListenQuery pumps the query's native snapshot stream into h, translating
// Firestore's document changes in the order the backend reports them.
func (c *Conn) ListenQuery(ctx context.Context, collection string, q driver.Query, h driver.QueryHandler) (driver.CancelFunc, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &watcher{cancel: cancel}

	go func() {
		iter := c.buildQuery(collection, q).Snapshots(streamCtx)
		defer iter.Stop()
		for {
			qsnap, err := iter.Next()
			if err != nil {
				if streamCtx.Err() != nil {
					return
				}
				w.deliver(func() { h(nil, nil, err) })
				return
			}

			snaps, err := collectDocuments(qsnap)
			if err != nil {
				w.deliver(func() { h(nil, nil, err) })
				return
			}
			changes := translateChanges(qsnap.Changes)
			w.deliver(func() { h(snaps, changes, nil) })
		}
	}()

	return w.stop, nil
}

func collectDocuments(qsnap *firestore.QuerySnapshot) ([]driver.Snapshot, error) {
	docs, err := qsnap.Documents.GetAll()
	if err != nil {
		return nil, err
	}
	snaps := make([]driver.Snapshot, len(docs))
	for i, doc := range docs {
		snaps[i] = driver.Snapshot{ID: doc.Ref.ID, Data: doc.Data()}
	}
	return snaps, nil
}

func translateChanges(changes []firestore.DocumentChange) []driver.Change {
	out := make([]driver.Change, 0, len(changes))
	for _, ch := range changes {
		var kind driver.ChangeKind
		switch ch.Kind {
		case firestore.DocumentAdded:
			kind = driver.ChangeAdded
		case firestore.DocumentModified:
			kind = driver.ChangeModified
		case firestore.DocumentRemoved:
			kind = driver.ChangeRemoved
		default:
			continue
		}
		out = append(out, driver.Change{
			Kind: kind,
			Snap: driver.Snapshot{ID: ch.Doc.Ref.ID, Data: ch.Doc.Data()},
		})
	}
	return out
}
