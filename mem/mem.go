// Package mem provides an in-memory driver for local development and tests.
//
// It implements the full driver contract, including transactions, live
// listeners, and all sentinel transforms, over plain maps guarded by one
// RWMutex. It keeps no durable state and is not a storage engine; use it to
// exercise code that talks to a store, not to hold data.
package mem

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jacentio/prism/driver"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("prism: mem: connection closed")

// Conn is an in-memory backend connection. The zero value is not usable;
// construct with New. Safe for concurrent use.
type Conn struct {
	mu          sync.RWMutex
	collections map[string]map[string]record // collection path -> id -> record
	closed      bool

	nextID         uint64 // listener ids, under mu
	docListeners   *xsync.MapOf[uint64, *docListener]
	queryListeners *xsync.MapOf[uint64, *queryListener]
}

// record is a stored document with its revision. rev increments on every
// write, so listeners detect modifications without comparing data.
// Committed data maps are never mutated in place; writes replace the whole
// record.
type record struct {
	rev  uint64
	data driver.Document
}

var _ driver.Conn = (*Conn)(nil)

// New creates an empty in-memory connection.
func New() *Conn {
	return &Conn{
		collections:    make(map[string]map[string]record),
		docListeners:   xsync.NewMapOf[uint64, *docListener](),
		queryListeners: xsync.NewMapOf[uint64, *queryListener](),
	}
}

// splitPath separates a document path into its collection and id.
func splitPath(path string) (collection, id string) {
	i := strings.LastIndexByte(path, '/')
	return path[:i], path[i+1:]
}

// getLocked returns the committed record at path.
func (c *Conn) getLocked(path string) (record, bool) {
	collection, id := splitPath(path)
	rec, ok := c.collections[collection][id]
	return rec, ok
}

// Add stores data in the collection under a fresh uuid.
func (c *Conn) Add(ctx context.Context, collection string, data driver.Document) (string, error) {
	id := uuid.NewString()
	op := stagedOp{kind: opCreate, path: collection + "/" + id, data: data}
	if err := c.apply(ctx, []stagedOp{op}); err != nil {
		return "", err
	}
	return id, nil
}

// Get returns a deep copy of the document at path, or (nil, nil) when
// absent.
func (c *Conn) Get(ctx context.Context, path string) (driver.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	rec, ok := c.getLocked(path)
	if !ok {
		return nil, nil
	}
	return deepCopy(rec.data), nil
}

// Set writes the full document at path, creating or replacing it.
func (c *Conn) Set(ctx context.Context, path string, data driver.Document) error {
	return c.apply(ctx, []stagedOp{{kind: opSet, path: path, data: data}})
}

// Update merges data into the document at path.
func (c *Conn) Update(ctx context.Context, path string, data driver.Document) error {
	return c.apply(ctx, []stagedOp{{kind: opUpdate, path: path, data: data}})
}

// Delete removes the document at path, if present.
func (c *Conn) Delete(ctx context.Context, path string) error {
	return c.apply(ctx, []stagedOp{{kind: opDelete, path: path}})
}

// List runs q against the collection.
func (c *Conn) List(ctx context.Context, collection string, q driver.Query) ([]driver.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	snaps := c.runQueryLocked(collection, q)
	out := make([]driver.Snapshot, len(snaps))
	for i, s := range snaps {
		out[i] = driver.Snapshot{ID: s.id, Data: deepCopy(s.data)}
	}
	return out, nil
}

// Close tears down every listener and rejects further operations.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.docListeners.Range(func(id uint64, l *docListener) bool {
		c.docListeners.Delete(id)
		l.queue.close()
		return true
	})
	c.queryListeners.Range(func(id uint64, l *queryListener) bool {
		c.queryListeners.Delete(id)
		l.queue.close()
		return true
	})
	return nil
}

type opKind int

const (
	opCreate opKind = iota
	opSet
	opUpdate
	opDelete
)

type stagedOp struct {
	kind opKind
	path string
	data driver.Document
}

// overlay holds a batch's staged post-states keyed by document path. A nil
// entry is a tombstone. Nothing in it is visible until commitLocked.
type overlay map[string]*driver.Document

// get reads through the overlay to committed state.
func (c *Conn) stagedGetLocked(o overlay, path string) (driver.Document, bool) {
	if doc, ok := o[path]; ok {
		if doc == nil {
			return nil, false
		}
		return *doc, true
	}
	rec, ok := c.getLocked(path)
	if !ok {
		return nil, false
	}
	return rec.data, true
}

// stageLocked resolves one op against the overlay. Update on an absent
// document fails here, before anything commits.
func (c *Conn) stageLocked(o overlay, op stagedOp, now time.Time) error {
	switch op.kind {
	case opCreate, opSet:
		existing, _ := c.stagedGetLocked(o, op.path)
		doc, err := resolveDocument(existing, op.data, now)
		if err != nil {
			return err
		}
		o[op.path] = &doc
	case opUpdate:
		existing, ok := c.stagedGetLocked(o, op.path)
		if !ok {
			return driver.ErrNotFound
		}
		doc, err := mergeDocument(existing, op.data, now)
		if err != nil {
			return err
		}
		o[op.path] = &doc
	case opDelete:
		o[op.path] = nil
	}
	return nil
}

// commitLocked writes the overlay into committed state, bumps revisions,
// and queues listener notifications. Queuing happens under the lock so
// notification order matches commit order; delivery happens on each
// listener's own goroutine.
func (c *Conn) commitLocked(o overlay) {
	touched := make(map[string]bool, len(o))
	for path, doc := range o {
		collection, id := splitPath(path)
		touched[collection] = true
		if doc == nil {
			delete(c.collections[collection], id)
			continue
		}
		col := c.collections[collection]
		if col == nil {
			col = make(map[string]record)
			c.collections[collection] = col
		}
		col[id] = record{rev: col[id].rev + 1, data: *doc}
	}
	c.notifyLocked(o, touched)
}

// apply stages ops as one atomic batch and commits.
func (c *Conn) apply(ctx context.Context, ops []stagedOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	now := time.Now().UTC()
	o := make(overlay, len(ops))
	for _, op := range ops {
		if err := c.stageLocked(o, op, now); err != nil {
			return err
		}
	}
	c.commitLocked(o)
	return nil
}
