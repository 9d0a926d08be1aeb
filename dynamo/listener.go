package dynamo

import (
	"context"
	"sync"
	"time"

	"github.com/jacentio/prism/driver"
)

// watcher is one polling listener registration. A goroutine re-reads the
// watched document or query every PollInterval and emits when the observed
// revisions change. The mutex-guarded stopped flag gives the teardown
// guarantee: once stop returns, no handler invocation begins, even if a
// poll is mid-flight.
type watcher struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

// deliver runs fn unless the watcher has been stopped. Holding the lock
// across fn serializes deliveries per registration.
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

// register tracks the watcher so Close can tear it down.
func (c *Conn) register(w *watcher) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	c.nextID++
	id := c.nextID
	c.watchers[id] = w
	return id, nil
}

func (c *Conn) deregister(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchers != nil {
		delete(c.watchers, id)
	}
}

// ListenDoc polls the document at path, emitting the current value
// promptly after registration and again on every revision change. A poll
// error is delivered once and ends the listener.
func (c *Conn) ListenDoc(ctx context.Context, path string, h driver.DocHandler) (driver.CancelFunc, error) {
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &watcher{cancel: cancel}
	id, err := c.register(w)
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		defer c.deregister(id)

		var lastRev string
		first := true
		ticker := time.NewTicker(c.config.PollInterval)
		defer ticker.Stop()

		for {
			snap, rev, err := c.getItem(pollCtx, path, false)
			if err != nil {
				if pollCtx.Err() != nil {
					return
				}
				w.deliver(func() { h(nil, err) })
				return
			}
			if first || rev != lastRev {
				first = false
				lastRev = rev
				w.deliver(func() { h(snap.Data, nil) })
			}

			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return w.stop, nil
}

// ListenQuery polls q over the collection, emitting the full result set
// plus the per-poll deltas whenever any row's id or revision changes.
func (c *Conn) ListenQuery(ctx context.Context, collection string, q driver.Query, h driver.QueryHandler) (driver.CancelFunc, error) {
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &watcher{cancel: cancel}
	id, err := c.register(w)
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		defer c.deregister(id)

		var last []snapRev
		first := true
		ticker := time.NewTicker(c.config.PollInterval)
		defer ticker.Stop()

		for {
			rows, err := c.listSnaps(pollCtx, collection, q)
			if err != nil {
				if pollCtx.Err() != nil {
					return
				}
				w.deliver(func() { h(nil, nil, err) })
				return
			}
			changes := diffRows(last, rows)
			if first || len(changes) > 0 {
				first = false
				snaps := make([]driver.Snapshot, len(rows))
				for i, r := range rows {
					snaps[i] = r.snap
				}
				w.deliver(func() { h(snaps, changes, nil) })
			}
			last = rows

			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return w.stop, nil
}

// diffRows computes the deltas between consecutive polls by id and
// revision: removals in old order first, then additions and modifications
// in new order.
func diffRows(old, cur []snapRev) []driver.Change {
	oldByID := make(map[string]snapRev, len(old))
	for _, r := range old {
		oldByID[r.snap.ID] = r
	}
	curIDs := make(map[string]bool, len(cur))
	for _, r := range cur {
		curIDs[r.snap.ID] = true
	}

	var changes []driver.Change
	for _, r := range old {
		if !curIDs[r.snap.ID] {
			changes = append(changes, driver.Change{Kind: driver.ChangeRemoved, Snap: r.snap})
		}
	}
	for _, r := range cur {
		prev, existed := oldByID[r.snap.ID]
		switch {
		case !existed:
			changes = append(changes, driver.Change{Kind: driver.ChangeAdded, Snap: r.snap})
		case prev.rev != r.rev:
			changes = append(changes, driver.Change{Kind: driver.ChangeModified, Snap: r.snap})
		}
	}
	return changes
}
