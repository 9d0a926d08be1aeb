package mem

import (
	"context"
	"sync"

	"github.com/jacentio/prism/driver"
)

// eventQueue is an unbounded FIFO feeding one listener's dispatch
// goroutine. push never blocks, so writers can queue notifications while
// holding the connection lock and handlers can issue writes of their own
// without deadlocking.
type eventQueue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []T
	closed bool
}

func newEventQueue[T any]() *eventQueue[T] {
	q := &eventQueue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *eventQueue[T]) push(ev T) {
	q.mu.Lock()
	if !q.closed {
		q.events = append(q.events, ev)
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// pop blocks for the next event. ok is false once the queue is closed;
// pending events are discarded then, since a cancelled listener must stop
// promptly rather than drain.
func (q *eventQueue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.events) == 0 && !q.closed {
		q.cond.Wait()
	}
	var zero T
	if q.closed {
		return zero, false
	}
	ev := q.events[0]
	q.events = q.events[1:]
	return ev, true
}

func (q *eventQueue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.events = nil
	q.cond.Broadcast()
	q.mu.Unlock()
}

// docEvent is the post-write state of a watched document. rev and exists
// let the dispatch goroutine drop no-op notifications.
type docEvent struct {
	data   driver.Document
	rev    uint64
	exists bool
}

type docListener struct {
	path  string
	queue *eventQueue[docEvent]
}

type queryEvent struct {
	snaps []revSnap
}

type queryListener struct {
	collection string
	query      driver.Query
	queue      *eventQueue[queryEvent]
}

// ListenDoc registers a document listener. The initial state is queued
// under the registration lock, so the first delivery always precedes any
// later write's notification.
func (c *Conn) ListenDoc(ctx context.Context, path string, h driver.DocHandler) (driver.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	l := &docListener{path: path, queue: newEventQueue[docEvent]()}
	c.docListeners.Store(id, l)

	rec, exists := c.getLocked(path)
	ev := docEvent{rev: rec.rev, exists: exists}
	if exists {
		ev.data = deepCopy(rec.data)
	}
	l.queue.push(ev)
	c.mu.Unlock()

	go func() {
		var last docEvent
		first := true
		for {
			ev, ok := l.queue.pop()
			if !ok {
				return
			}
			if !first && ev.exists == last.exists && ev.rev == last.rev {
				continue
			}
			first = false
			last = ev
			h(ev.data, nil)
		}
	}()

	unregister := context.AfterFunc(ctx, func() { c.dropDocListener(id) })
	return func() {
		unregister()
		c.dropDocListener(id)
	}, nil
}

// ListenQuery registers a query listener. The first delivery reports the
// current result set with every row marked added.
func (c *Conn) ListenQuery(ctx context.Context, collection string, q driver.Query, h driver.QueryHandler) (driver.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.nextID++
	id := c.nextID
	l := &queryListener{collection: collection, query: q, queue: newEventQueue[queryEvent]()}
	c.queryListeners.Store(id, l)
	l.queue.push(queryEvent{snaps: copySnaps(c.runQueryLocked(collection, q))})
	c.mu.Unlock()

	go func() {
		var last []revSnap
		first := true
		for {
			ev, ok := l.queue.pop()
			if !ok {
				return
			}
			changes := diffSnaps(last, ev.snaps)
			if !first && len(changes) == 0 {
				last = ev.snaps
				continue
			}
			first = false
			last = ev.snaps
			h(toSnapshots(ev.snaps), changes, nil)
		}
	}()

	unregister := context.AfterFunc(ctx, func() { c.dropQueryListener(id) })
	return func() {
		unregister()
		c.dropQueryListener(id)
	}, nil
}

func (c *Conn) dropDocListener(id uint64) {
	if l, ok := c.docListeners.LoadAndDelete(id); ok {
		l.queue.close()
	}
}

func (c *Conn) dropQueryListener(id uint64) {
	if l, ok := c.queryListeners.LoadAndDelete(id); ok {
		l.queue.close()
	}
}

// notifyLocked queues notifications for every affected listener while the
// write lock is held, so queue order matches commit order. Queued data is
// deep-copied; handlers never alias committed state.
func (c *Conn) notifyLocked(o overlay, touched map[string]bool) {
	c.docListeners.Range(func(_ uint64, l *docListener) bool {
		if _, ok := o[l.path]; !ok {
			return true
		}
		rec, exists := c.getLocked(l.path)
		ev := docEvent{rev: rec.rev, exists: exists}
		if exists {
			ev.data = deepCopy(rec.data)
		}
		l.queue.push(ev)
		return true
	})
	c.queryListeners.Range(func(_ uint64, l *queryListener) bool {
		if !touched[l.collection] {
			return true
		}
		l.queue.push(queryEvent{snaps: copySnaps(c.runQueryLocked(l.collection, l.query))})
		return true
	})
}

func copySnaps(snaps []revSnap) []revSnap {
	out := make([]revSnap, len(snaps))
	for i, s := range snaps {
		out[i] = revSnap{id: s.id, rev: s.rev, data: deepCopy(s.data)}
	}
	return out
}

func toSnapshots(snaps []revSnap) []driver.Snapshot {
	out := make([]driver.Snapshot, len(snaps))
	for i, s := range snaps {
		out[i] = driver.Snapshot{ID: s.id, Data: s.data}
	}
	return out
}
