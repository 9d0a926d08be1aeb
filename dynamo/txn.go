package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/prism/driver"
)

// itemKind classifies staged transaction items for cancellation-reason
// mapping: a failed read check is a conflict worth retrying, a failed
// exists-condition on an unread update is a missing document.
type itemKind int

const (
	kindReadCheck itemKind = iota
	kindCreate
	kindUpdate        // attribute_exists only
	kindGuardedWrite  // carries a rev condition from a prior read
)

// txn stages writes for one TransactWriteItems call. Reads go straight to
// the table (strongly consistent) and record the observed revision; the
// commit condition-checks every recorded revision, so the transaction only
// lands if nothing it read moved underneath it.
type txn struct {
	conn *Conn
	ctx  context.Context
	now  time.Time

	reads   map[string]string // path -> observed rev, "" when absent
	written map[string]bool
	items   []types.TransactWriteItem
	kinds   []itemKind
}

var _ driver.Txn = (*txn)(nil)

// RunTransaction executes fn against a fresh staging handle and commits its
// writes atomically, condition-checked against every revision fn read. A
// commit cancelled by a conflicting concurrent write re-runs fn, up to
// TxAttempts times, then fails with ErrConflict.
func (c *Conn) RunTransaction(ctx context.Context, fn func(driver.Txn) error) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < c.config.TxAttempts; attempt++ {
		t := &txn{
			conn:    c,
			ctx:     ctx,
			now:     time.Now().UTC(),
			reads:   make(map[string]string),
			written: make(map[string]bool),
		}
		if err := fn(t); err != nil {
			return err
		}

		retry, err := t.commit()
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", driver.ErrConflict, lastErr)
}

// Get reads the document at path with strong consistency and records its
// revision for the commit check.
func (t *txn) Get(path string) (driver.Document, error) {
	snap, rev, err := t.conn.getItem(t.ctx, path, true)
	if err != nil {
		return nil, err
	}
	t.reads[path] = rev
	return snap.Data, nil
}

// GetAll reads every path in one consistent snapshot via TransactGetItems,
// chunked at the service limit, recording each revision.
func (t *txn) GetAll(paths []string) ([]driver.Document, error) {
	if err := t.conn.checkOpen(); err != nil {
		return nil, err
	}
	docs := make([]driver.Document, len(paths))
	const chunk = 100
	for start := 0; start < len(paths); start += chunk {
		end := start + chunk
		if end > len(paths) {
			end = len(paths)
		}
		gets := make([]types.TransactGetItem, 0, end-start)
		for _, p := range paths[start:end] {
			gets = append(gets, types.TransactGetItem{
				Get: &types.Get{
					TableName: aws.String(t.conn.config.Table),
					Key:       t.conn.keyFor(p),
				},
			})
		}
		result, err := t.conn.client.TransactGetItems(t.ctx, &dynamodb.TransactGetItemsInput{
			TransactItems: gets,
		})
		if err != nil {
			return nil, err
		}
		for i, resp := range result.Responses {
			path := paths[start+i]
			if resp.Item == nil {
				t.reads[path] = ""
				continue
			}
			snap, rev, err := decodeItem(resp.Item)
			if err != nil {
				return nil, err
			}
			t.reads[path] = rev
			docs[start+i] = snap.Data
		}
	}
	return docs, nil
}

// Create stages an insert under a fresh uuid, returned before commit.
func (t *txn) Create(collection string, data driver.Document) (string, error) {
	id := uuid.NewString()
	path := collection + "/" + id
	resolved, err := resolveSet(data, t.now)
	if err != nil {
		return "", err
	}
	item, err := t.conn.encodeItem(collection, id, uuid.NewString(), resolved)
	if err != nil {
		return "", err
	}
	if err := t.stage(path, kindCreate, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(t.conn.config.Table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		},
	}); err != nil {
		return "", err
	}
	return id, nil
}

// Set stages a full overwrite at path, guarded by the revision observed if
// the path was read in this transaction.
func (t *txn) Set(path string, data driver.Document) error {
	collection, id := splitPath(path)
	resolved, err := resolveSet(data, t.now)
	if err != nil {
		return err
	}
	item, err := t.conn.encodeItem(collection, id, uuid.NewString(), resolved)
	if err != nil {
		return err
	}
	put := &types.Put{
		TableName: aws.String(t.conn.config.Table),
		Item:      item,
	}
	if cond, names, values, guarded := t.readGuard(path); guarded {
		put.ConditionExpression = aws.String(cond)
		put.ExpressionAttributeNames = names
		put.ExpressionAttributeValues = values
	}
	return t.stage(path, kindGuardedWrite, types.TransactWriteItem{Put: put})
}

// Update stages a merge into the document at path. The commit fails with
// ErrNotFound if the document does not exist.
func (t *txn) Update(path string, data driver.Document) error {
	upd, err := buildUpdate(data, uuid.NewString(), t.now)
	if err != nil {
		return err
	}
	update := &types.Update{
		TableName:                 aws.String(t.conn.config.Table),
		Key:                       t.conn.keyFor(path),
		UpdateExpression:          aws.String(upd.Expr),
		ConditionExpression:       aws.String("attribute_exists(id)"),
		ExpressionAttributeNames:  upd.Names,
		ExpressionAttributeValues: upd.Values,
	}
	kind := kindUpdate
	if rev, read := t.reads[path]; read && rev != "" {
		update.ConditionExpression = aws.String("attribute_exists(id) AND #rev = :oldrev")
		upd.Values[":oldrev"] = &types.AttributeValueMemberS{Value: rev}
		kind = kindGuardedWrite
	}
	return t.stage(path, kind, types.TransactWriteItem{Update: update})
}

// Delete stages a removal at path, guarded by the revision observed if the
// path was read in this transaction.
func (t *txn) Delete(path string) error {
	del := &types.Delete{
		TableName: aws.String(t.conn.config.Table),
		Key:       t.conn.keyFor(path),
	}
	if cond, names, values, guarded := t.readGuard(path); guarded {
		del.ConditionExpression = aws.String(cond)
		del.ExpressionAttributeNames = names
		del.ExpressionAttributeValues = values
	}
	return t.stage(path, kindGuardedWrite, types.TransactWriteItem{Delete: del})
}

// readGuard builds the condition pinning a write to the revision this
// transaction observed at path. Unread paths get no guard.
func (t *txn) readGuard(path string) (cond string, names map[string]string, values map[string]types.AttributeValue, guarded bool) {
	rev, read := t.reads[path]
	if !read {
		return "", nil, nil, false
	}
	if rev == "" {
		return "attribute_not_exists(id)", nil, nil, true
	}
	return "#rev = :oldrev",
		map[string]string{"#rev": attrRev},
		map[string]types.AttributeValue{":oldrev": &types.AttributeValueMemberS{Value: rev}},
		true
}

// stage appends one write item. DynamoDB rejects two operations on the
// same item in one transaction, so a duplicate path fails here instead of
// at commit.
func (t *txn) stage(path string, kind itemKind, item types.TransactWriteItem) error {
	if t.written[path] {
		return fmt.Errorf("prism: dynamo: transaction already writes %q", path)
	}
	t.written[path] = true
	t.items = append(t.items, item)
	t.kinds = append(t.kinds, kind)
	return nil
}

// commit assembles the read condition checks and staged writes into one
// TransactWriteItems call. The boolean reports whether the failure is a
// revision conflict worth retrying.
func (t *txn) commit() (retry bool, err error) {
	if len(t.items) == 0 {
		// Read-only transactions have nothing to commit; the strongly
		// consistent reads already observed a coherent snapshot.
		return false, nil
	}

	items := make([]types.TransactWriteItem, 0, len(t.items)+len(t.reads))
	kinds := make([]itemKind, 0, cap(items))
	for path, rev := range t.reads {
		if t.written[path] {
			continue // the write itself carries the guard
		}
		check := &types.ConditionCheck{
			TableName: aws.String(t.conn.config.Table),
			Key:       t.conn.keyFor(path),
		}
		if rev == "" {
			check.ConditionExpression = aws.String("attribute_not_exists(id)")
		} else {
			check.ConditionExpression = aws.String("#rev = :rev")
			check.ExpressionAttributeNames = map[string]string{"#rev": attrRev}
			check.ExpressionAttributeValues = map[string]types.AttributeValue{
				":rev": &types.AttributeValueMemberS{Value: rev},
			}
		}
		items = append(items, types.TransactWriteItem{ConditionCheck: check})
		kinds = append(kinds, kindReadCheck)
	}
	items = append(items, t.items...)
	kinds = append(kinds, t.kinds...)

	_, err = t.conn.client.TransactWriteItems(t.ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err == nil {
		return false, nil
	}
	return mapCancellation(err, kinds)
}

// mapCancellation distinguishes retryable conflicts from hard failures in
// a cancelled transaction. A failed condition on an unguarded update means
// the document is missing; everything else condition-related is contention.
func mapCancellation(err error, kinds []itemKind) (retry bool, mapped error) {
	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		var conflict *types.TransactionConflictException
		if errors.As(err, &conflict) {
			return true, err
		}
		return false, err
	}
	for i, reason := range txErr.CancellationReasons {
		if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
			continue
		}
		if i < len(kinds) && kinds[i] == kindUpdate {
			return false, driver.ErrNotFound
		}
		// Read check, guarded write, or duplicate create id: contention.
		return true, err
	}
	return true, err
}
