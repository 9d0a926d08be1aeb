package store

import (
	"context"
	"sync"

	"github.com/jacentio/prism/docpath"
	"github.com/jacentio/prism/driver"
)

// feed is the subscription engine shared by DocFeed, ListFeed and
// ChangeFeed. A feed is cold: constructing one touches nothing. The first
// subscriber registers the backend listener; the last stop cancels it; a
// later subscriber registers a fresh one.
//
// Handlers are dispatched under the feed mutex and each registration is
// generation-stamped, which gives the strict delivery guarantee: once the
// last stop has returned, no handler runs again, even if a backend
// notification was already in flight. The flip side: handlers must not
// call Subscribe or stop on their own feed synchronously.
type feed[T any] struct {
	start func(ctx context.Context, emit func(T, error)) (driver.CancelFunc, error)

	mu     sync.Mutex
	subs   []feedSub[T]
	nextID uint64
	gen    uint64
	cancel driver.CancelFunc
	active bool
}

type feedSub[T any] struct {
	id uint64
	fn func(T, error)
}

func (f *feed[T]) subscribe(handler func(T, error)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.active {
		f.gen++
		gen := f.gen
		cancel, err := f.start(context.Background(), func(v T, err error) {
			f.emit(gen, v, err)
		})
		if err != nil {
			return nil, err
		}
		f.cancel = cancel
		f.active = true
	}

	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, feedSub[T]{id: id, fn: handler})

	return func() { f.unsubscribe(id) }, nil
}

// unsubscribe removes the registration and, when it was the last one, tears
// the backend listener down before returning. Safe to call repeatedly: only
// the call that removes the last subscriber cancels anything.
func (f *feed[T]) unsubscribe(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := false
	for i, sub := range f.subs {
		if sub.id == id {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			removed = true
			break
		}
	}
	if removed && len(f.subs) == 0 {
		f.teardownLocked()
	}
}

func (f *feed[T]) teardownLocked() {
	f.active = false
	if f.cancel != nil {
		cancel := f.cancel
		f.cancel = nil
		cancel()
	}
}

// emit delivers one notification to every current subscriber, in
// subscription order. Emissions from a cancelled or superseded registration
// are dropped. A backend error is delivered once to every subscriber and
// then the feed tears itself down; subscribing again starts over.
func (f *feed[T]) emit(gen uint64, v T, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.active || gen != f.gen {
		return
	}
	if err != nil {
		var zero T
		for _, sub := range f.subs {
			sub.fn(zero, err)
		}
		f.subs = nil
		f.teardownLocked()
		return
	}
	for _, sub := range f.subs {
		sub.fn(v, nil)
	}
}

// DocFeed is the lazy change feed of a single document. Subscribers receive
// the current document immediately (nil when absent), then every subsequent
// state, each with the id merged in.
type DocFeed struct {
	feed feed[Document]
}

// Watch returns the feed of the document at path. No backend listener
// exists until the first Subscribe.
func (s *Store) Watch(path string) *DocFeed {
	f := &DocFeed{}
	f.feed.start = func(ctx context.Context, emit func(Document, error)) (driver.CancelFunc, error) {
		defer s.track("watch")()
		if err := docpath.ValidateDocument(path); err != nil {
			return nil, s.fail("watch", path, nil, err)
		}
		return s.conn.ListenDoc(ctx, path, func(doc driver.Document, err error) {
			if err != nil {
				emit(nil, s.fail("watch", path, nil, err))
				return
			}
			emit(withID(doc, docpath.ID(path)), nil)
		})
	}
	return f
}

// Subscribe registers handler and starts the backend listener if this is
// the first subscription. The returned stop function cancels the
// registration; once it returns, handler will not be invoked again. stop
// is idempotent.
func (f *DocFeed) Subscribe(handler func(Document, error)) (func(), error) {
	return f.feed.subscribe(handler)
}

// ListFeed is the lazy feed of a query's full result set. Subscribers
// receive the current result set immediately, then the full updated set on
// every change.
type ListFeed struct {
	feed feed[[]Document]
}

// WatchAll returns the feed of the collection's result set shaped by opts.
// No backend listener exists until the first Subscribe.
func (s *Store) WatchAll(collection string, opts ListOptions) *ListFeed {
	f := &ListFeed{}
	f.feed.start = func(ctx context.Context, emit func([]Document, error)) (driver.CancelFunc, error) {
		return s.listenQuery(ctx, "watchAll", collection, opts, func(snaps []driver.Snapshot, _ []driver.Change, err error) {
			if err != nil {
				emit(nil, s.fail("watchAll", collection, nil, err))
				return
			}
			emit(snapshotsToDocuments(snaps), nil)
		})
	}
	return f
}

// Subscribe registers handler; see DocFeed.Subscribe for the lifecycle.
func (f *ListFeed) Subscribe(handler func([]Document, error)) (func(), error) {
	return f.feed.subscribe(handler)
}

// ChangeFeed is the lazy feed of per-batch document deltas over a query.
// The first emission reports the initial result set as added documents;
// later emissions carry only what changed.
type ChangeFeed struct {
	feed feed[[]Change]
}

// WatchChanges returns the delta feed of the collection shaped by opts.
// No backend listener exists until the first Subscribe.
func (s *Store) WatchChanges(collection string, opts ListOptions) *ChangeFeed {
	f := &ChangeFeed{}
	f.feed.start = func(ctx context.Context, emit func([]Change, error)) (driver.CancelFunc, error) {
		return s.listenQuery(ctx, "watchChanges", collection, opts, func(_ []driver.Snapshot, changes []driver.Change, err error) {
			if err != nil {
				emit(nil, s.fail("watchChanges", collection, nil, err))
				return
			}
			emit(driverChanges(changes), nil)
		})
	}
	return f
}

// Subscribe registers handler; see DocFeed.Subscribe for the lifecycle.
func (f *ChangeFeed) Subscribe(handler func([]Change, error)) (func(), error) {
	return f.feed.subscribe(handler)
}

// listenQuery validates, resolves any path cursor, and registers a query
// listener with the driver.
func (s *Store) listenQuery(ctx context.Context, op, collection string, opts ListOptions, h driver.QueryHandler) (driver.CancelFunc, error) {
	defer s.track(op)()
	if err := docpath.ValidateCollection(collection); err != nil {
		return nil, s.fail(op, collection, nil, err)
	}

	q := opts.driverQuery()
	if !q.HasStartAfter && opts.StartAfterPath != "" {
		value, id, err := s.resolveCursor(ctx, opts.StartAfterPath, opts.OrderBy)
		if err != nil {
			return nil, s.fail(op, opts.StartAfterPath, nil, err)
		}
		q.StartAfter = value
		q.HasStartAfter = true
		q.StartAfterID = id
	}

	cancel, err := s.conn.ListenQuery(ctx, collection, q, h)
	if err != nil {
		return nil, s.fail(op, collection, nil, err)
	}
	return cancel, nil
}
