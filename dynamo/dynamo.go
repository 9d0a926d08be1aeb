// Package dynamo provides a DynamoDB driver for the prism store.
//
// Documents live in one table under a composite key: the partition key is
// the collection path plus a shard suffix, the sort key the document id.
// User fields are top-level attributes; the pk, sk, id, and rev attributes
// are managed by the driver and never surfaced. Every write rotates rev,
// which is what transactions condition on and listeners poll for.
//
// DynamoDB has no push notification primitive, so listeners poll at the
// configured interval. Transactions are optimistic: reads record revisions
// and the commit condition-checks them, retrying the callback on conflict.
package dynamo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/prism/driver"
)

// Conn is a DynamoDB backend connection. Safe for concurrent use.
type Conn struct {
	client *dynamodb.Client
	config Config

	mu       sync.Mutex
	closed   bool
	nextID   uint64
	watchers map[uint64]*watcher
}

var _ driver.Conn = (*Conn)(nil)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("prism: dynamo: connection closed")

// New creates a connection over an existing DynamoDB client.
func New(client *dynamodb.Client, config Config) *Conn {
	config.validate()
	return &Conn{
		client:   client,
		config:   config,
		watchers: make(map[uint64]*watcher),
	}
}

// Open loads the default AWS configuration and connects.
func Open(ctx context.Context, config Config) (*Conn, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return New(dynamodb.NewFromConfig(cfg), config), nil
}

func (c *Conn) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Add stores data in the collection under a fresh uuid.
func (c *Conn) Add(ctx context.Context, collection string, data driver.Document) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	resolved, err := resolveSet(data, time.Now().UTC())
	if err != nil {
		return "", err
	}
	item, err := c.encodeItem(collection, id, uuid.NewString(), resolved)
	if err != nil {
		return "", err
	}
	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.config.Table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Get returns the document at path, or (nil, nil) when absent.
func (c *Conn) Get(ctx context.Context, path string) (driver.Document, error) {
	snap, _, err := c.getItem(ctx, path, false)
	if err != nil {
		return nil, err
	}
	return snap.Data, nil
}

// getItem reads one document with its revision; a nil Data means absent.
func (c *Conn) getItem(ctx context.Context, path string, consistent bool) (driver.Snapshot, string, error) {
	if err := c.checkOpen(); err != nil {
		return driver.Snapshot{}, "", err
	}
	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.config.Table),
		Key:            c.keyFor(path),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return driver.Snapshot{}, "", err
	}
	if result.Item == nil {
		return driver.Snapshot{}, "", nil
	}
	return decodeItem(result.Item)
}

// Set writes the full document at path, creating or replacing it.
func (c *Conn) Set(ctx context.Context, path string, data driver.Document) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	collection, id := splitPath(path)
	resolved, err := resolveSet(data, time.Now().UTC())
	if err != nil {
		return err
	}
	item, err := c.encodeItem(collection, id, uuid.NewString(), resolved)
	if err != nil {
		return err
	}
	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.config.Table),
		Item:      item,
	})
	return err
}

// Update merges data into the existing document at path. Fails with
// ErrNotFound if the document does not exist.
func (c *Conn) Update(ctx context.Context, path string, data driver.Document) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	upd, err := buildUpdate(data, uuid.NewString(), time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = c.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.config.Table),
		Key:                       c.keyFor(path),
		UpdateExpression:          aws.String(upd.Expr),
		ConditionExpression:       aws.String("attribute_exists(id)"),
		ExpressionAttributeNames:  upd.Names,
		ExpressionAttributeValues: upd.Values,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return driver.ErrNotFound
		}
		return err
	}
	return nil
}

// Delete removes the document at path, if present.
func (c *Conn) Delete(ctx context.Context, path string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.config.Table),
		Key:       c.keyFor(path),
	})
	return err
}

// Close cancels every listener and rejects further operations. It does not
// tear down the underlying AWS client, which has no close semantics.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	watchers := make([]*watcher, 0, len(c.watchers))
	for _, w := range c.watchers {
		watchers = append(watchers, w)
	}
	c.watchers = nil
	c.mu.Unlock()

	for _, w := range watchers {
		w.stop()
	}
	return nil
}
