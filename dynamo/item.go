package dynamo

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/prism/driver"
	"github.com/jacentio/prism/internal/shard"
)

// Managed attributes of the single-table layout. They address and version
// the item and are stripped from user data on the way out.
const (
	attrPK  = "pk"  // "<collection>#<shard>"
	attrSK  = "sk"  // document id
	attrID  = "id"  // document id again, for attribute_exists conditions
	attrRev = "rev" // fresh uuid per write, drives change detection
)

// managedAttrs are never surfaced in documents and never written from user
// data.
var managedAttrs = map[string]bool{
	attrPK:  true,
	attrSK:  true,
	attrID:  true,
	attrRev: true,
}

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// splitPath separates a document path into its collection and id.
func splitPath(path string) (collection, id string) {
	i := strings.LastIndexByte(path, '/')
	return path[:i], path[i+1:]
}

// keyFor computes the table key of the document at path.
func (c *Conn) keyFor(path string) PK {
	collection, id := splitPath(path)
	return PK{
		attrPK: &types.AttributeValueMemberS{Value: shard.CollectionPK(collection, id, c.config.NumShards)},
		attrSK: &types.AttributeValueMemberS{Value: id},
	}
}

// encodeItem marshals a document into a full table item for the given
// location, stamping the managed attributes. Sentinel values must already
// be resolved or rejected by the caller.
func (c *Conn) encodeItem(collection, id, rev string, data driver.Document) (map[string]types.AttributeValue, error) {
	item := make(map[string]types.AttributeValue, len(data)+4)
	for k, v := range data {
		if managedAttrs[k] {
			continue
		}
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", k, err)
		}
		item[k] = av
	}
	item[attrPK] = &types.AttributeValueMemberS{Value: shard.CollectionPK(collection, id, c.config.NumShards)}
	item[attrSK] = &types.AttributeValueMemberS{Value: id}
	item[attrID] = &types.AttributeValueMemberS{Value: id}
	item[attrRev] = &types.AttributeValueMemberS{Value: rev}
	return item, nil
}

// decodeItem unmarshals a table item into a snapshot plus its revision,
// dropping managed attributes.
func decodeItem(item map[string]types.AttributeValue) (snap driver.Snapshot, rev string, err error) {
	data := make(driver.Document, len(item))
	for k, av := range item {
		if managedAttrs[k] {
			continue
		}
		var v any
		if err := attributevalue.Unmarshal(av, &v); err != nil {
			return driver.Snapshot{}, "", fmt.Errorf("unmarshal field %q: %w", k, err)
		}
		data[k] = v
	}
	if v, ok := item[attrSK].(*types.AttributeValueMemberS); ok {
		snap.ID = v.Value
	}
	if v, ok := item[attrRev].(*types.AttributeValueMemberS); ok {
		rev = v.Value
	}
	snap.Data = data
	return snap, rev, nil
}

// resolveSet resolves the sentinels a full overwrite can express and
// rejects the rest. Server timestamps become the commit wall time; deleted
// fields are simply omitted from the new document. Increment and the array
// transforms need a prior value, which an overwrite does not have.
func resolveSet(data driver.Document, now time.Time) (driver.Document, error) {
	out := make(driver.Document, len(data))
	for k, v := range data {
		s, ok := driver.AsSentinel(v)
		if !ok {
			out[k] = v
			continue
		}
		switch s.Kind {
		case driver.SentinelServerTimestamp:
			out[k] = now
		case driver.SentinelDelete:
			// An overwrite without the field already deletes it.
		default:
			return nil, fmt.Errorf("set field %q: %w", k, driver.ErrUnsupported)
		}
	}
	return out, nil
}
