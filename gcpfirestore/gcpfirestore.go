// Package gcpfirestore provides a Cloud Firestore driver for the prism
// store.
//
// The mapping is direct: paths address documents and collections exactly as
// Firestore does, sentinels translate to Firestore field transforms, and
// live listeners ride the native snapshot streams, so all five sentinels
// and every query operator are supported. Transactions delegate to
// Firestore's own optimistic retry loop.
package gcpfirestore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jacentio/prism/driver"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("prism: gcpfirestore: connection closed")

// Conn is a Cloud Firestore backend connection. Safe for concurrent use.
type Conn struct {
	client *firestore.Client

	mu     sync.Mutex
	closed bool
}

var _ driver.Conn = (*Conn)(nil)

// New creates a connection over an existing Firestore client.
func New(client *firestore.Client) *Conn {
	return &Conn{client: client}
}

// Open connects to the project's Firestore database with default
// credentials.
func Open(ctx context.Context, projectID string, opts ...option.ClientOption) (*Conn, error) {
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, err
	}
	return New(client), nil
}

func (c *Conn) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Add stores data in the collection under a Firestore-assigned id.
func (c *Conn) Add(ctx context.Context, collection string, data driver.Document) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	payload, err := translateDocument(data)
	if err != nil {
		return "", err
	}
	ref, _, err := c.client.Collection(collection).Add(ctx, payload)
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

// Get returns the document at path, or (nil, nil) when absent.
func (c *Conn) Get(ctx context.Context, path string) (driver.Document, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	snap, err := c.client.Doc(path).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap.Data(), nil
}

// Set writes the full document at path, creating or replacing it.
func (c *Conn) Set(ctx context.Context, path string, data driver.Document) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	payload, err := translateDocument(data)
	if err != nil {
		return err
	}
	_, err = c.client.Doc(path).Set(ctx, payload)
	return err
}

// Update merges data into the existing document at path. Fails with
// ErrNotFound if the document does not exist.
func (c *Conn) Update(ctx context.Context, path string, data driver.Document) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	updates, err := translateUpdates(data)
	if err != nil {
		return err
	}
	_, err = c.client.Doc(path).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return driver.ErrNotFound
	}
	return err
}

// Delete removes the document at path. Firestore deletes are idempotent.
func (c *Conn) Delete(ctx context.Context, path string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	_, err := c.client.Doc(path).Delete(ctx)
	return err
}

// List executes q against the collection.
func (c *Conn) List(ctx context.Context, collection string, q driver.Query) ([]driver.Snapshot, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	iter := c.buildQuery(collection, q).Documents(ctx)
	defer iter.Stop()

	var snaps []driver.Snapshot
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, driver.Snapshot{ID: doc.Ref.ID, Data: doc.Data()})
	}
	return snaps, nil
}

// buildQuery translates the query descriptor onto the Firestore query API.
// Operator strings coincide with Firestore's, so filters map one to one.
// When a cursor carries a tie-breaking id the document id becomes an
// explicit secondary sort key so StartAfter can pin the exact position.
func (c *Conn) buildQuery(collection string, q driver.Query) firestore.Query {
	fq := c.client.Collection(collection).Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, string(f.Op), f.Value)
	}

	dir := firestore.Asc
	if q.Desc {
		dir = firestore.Desc
	}

	switch {
	case q.OrderBy == "":
		fq = fq.OrderBy(firestore.DocumentID, dir)
		if q.HasStartAfter {
			fq = fq.StartAfter(q.StartAfter)
		}
	case q.HasStartAfter && q.StartAfterID != "":
		fq = fq.OrderBy(q.OrderBy, dir).OrderBy(firestore.DocumentID, dir)
		fq = fq.StartAfter(q.StartAfter, q.StartAfterID)
	default:
		fq = fq.OrderBy(q.OrderBy, dir)
		if q.HasStartAfter {
			fq = fq.StartAfter(q.StartAfter)
		}
	}

	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

// Close tears down the client, which also terminates every snapshot
// stream.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.client.Close()
}

// translateDocument maps sentinel markers to Firestore's write-time field
// transform values for use in full-document writes.
func translateDocument(data driver.Document) (map[string]any, error) {
	out := make(map[string]any, len(data))
	for k, v := range data {
		tv, err := translateValue(k, v)
		if err != nil {
			return nil, err
		}
		out[k] = tv
	}
	return out, nil
}

// translateUpdates maps a merge payload to Firestore update entries. Field
// names go through FieldPath so keys containing dots stay literal.
func translateUpdates(data driver.Document) ([]firestore.Update, error) {
	updates := make([]firestore.Update, 0, len(data))
	for k, v := range data {
		tv, err := translateValue(k, v)
		if err != nil {
			return nil, err
		}
		updates = append(updates, firestore.Update{
			FieldPath: firestore.FieldPath{k},
			Value:     tv,
		})
	}
	return updates, nil
}

func translateValue(field string, v any) (any, error) {
	s, ok := driver.AsSentinel(v)
	if !ok {
		return v, nil
	}
	switch s.Kind {
	case driver.SentinelIncrement:
		return firestore.Increment(s.Delta), nil
	case driver.SentinelServerTimestamp:
		return firestore.ServerTimestamp, nil
	case driver.SentinelDelete:
		return firestore.Delete, nil
	case driver.SentinelArrayUnion:
		return firestore.ArrayUnion(s.Elems...), nil
	case driver.SentinelArrayRemove:
		return firestore.ArrayRemove(s.Elems...), nil
	default:
		return nil, fmt.Errorf("field %q: unknown sentinel: %w", field, driver.ErrUnsupported)
	}
}
