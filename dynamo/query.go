package dynamo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/prism/driver"
	"github.com/jacentio/prism/internal/shard"
)

// snapRev couples a query result row with its revision, so listeners can
// diff consecutive polls without comparing document data.
type snapRev struct {
	snap driver.Snapshot
	rev  string
}

// List executes q against the collection.
func (c *Conn) List(ctx context.Context, collection string, q driver.Query) ([]driver.Snapshot, error) {
	rows, err := c.listSnaps(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	snaps := make([]driver.Snapshot, len(rows))
	for i, r := range rows {
		snaps[i] = r.snap
	}
	return snaps, nil
}

// listSnaps queries every shard of the collection in parallel, pushing the
// filters down as native filter expressions, then sorts, cursors, and
// limits the merged rows client-side. DynamoDB cannot order across
// partitions, so ordering always happens here; pushing the limit down
// would under-fetch shards.
func (c *Conn) listSnaps(ctx context.Context, collection string, q driver.Query) ([]snapRev, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	filter, err := buildFilter(q.Filters)
	if err != nil {
		return nil, err
	}

	pks := shard.AllPKs(collection, c.config.NumShards)
	perShard := make([][]snapRev, len(pks))
	errs := make([]error, len(pks))
	var wg sync.WaitGroup
	for i, pk := range pks {
		wg.Add(1)
		go func(i int, pk string) {
			defer wg.Done()
			perShard[i], errs[i] = c.queryShard(ctx, pk, filter)
		}(i, pk)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", pks[i], err)
		}
	}

	var rows []snapRev
	for _, sr := range perShard {
		rows = append(rows, sr...)
	}
	sortRows(rows, q)
	rows = applyCursor(rows, q)
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

// queryShard pages through one partition.
func (c *Conn) queryShard(ctx context.Context, pk string, filter filterExpr) ([]snapRev, error) {
	names := map[string]string{}
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: pk},
	}
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(c.config.Table),
		KeyConditionExpression:    aws.String("pk = :pk"),
		ExpressionAttributeValues: values,
	}
	if filter.Expr != "" {
		input.FilterExpression = aws.String(filter.Expr)
		for k, v := range filter.Names {
			names[k] = v
		}
		for k, v := range filter.Values {
			values[k] = v
		}
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}

	var rows []snapRev
	paginator := dynamodb.NewQueryPaginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			snap, rev, err := decodeItem(raw)
			if err != nil {
				return nil, err
			}
			rows = append(rows, snapRev{snap: snap, rev: rev})
		}
	}
	return rows, nil
}

// sortRows orders by the sort field then id, reversing both under Desc so
// the order stays total.
func sortRows(rows []snapRev, q driver.Query) {
	sort.Slice(rows, func(i, j int) bool {
		c := compareRows(rows[i], rows[j], q.OrderBy)
		if q.Desc {
			return c > 0
		}
		return c < 0
	})
}

func compareRows(a, b snapRev, orderBy string) int {
	if orderBy != "" {
		if c := compareValues(a.snap.Data[orderBy], b.snap.Data[orderBy]); c != 0 {
			return c
		}
	}
	return strings.Compare(a.snap.ID, b.snap.ID)
}

// applyCursor drops every row at or before the cursor position.
func applyCursor(rows []snapRev, q driver.Query) []snapRev {
	if !q.HasStartAfter {
		return rows
	}
	for i, r := range rows {
		if afterCursor(r, q) {
			return rows[i:]
		}
	}
	return nil
}

// afterCursor reports whether r sorts strictly after the cursor. Rows that
// tie on the sort value pass only when they sort after the cursor id, when
// one is known.
func afterCursor(r snapRev, q driver.Query) bool {
	v := any(r.snap.ID)
	if q.OrderBy != "" {
		v = r.snap.Data[q.OrderBy]
	}
	c := compareValues(v, q.StartAfter)
	if q.Desc {
		c = -c
	}
	if c != 0 {
		return c > 0
	}
	if q.StartAfterID == "" {
		return false
	}
	cid := strings.Compare(r.snap.ID, q.StartAfterID)
	if q.Desc {
		cid = -cid
	}
	return cid > 0
}

// valueRank orders values of different types deterministically:
// nil < bool < number < time < string < everything else.
func valueRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int, int64, float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	}
	return 5
}

// compareValues orders a against b: negative, zero, or positive. Values of
// different ranks order by rank alone. Attribute decoding yields float64
// for every number, but literal cursor values may still be int or int64.
func compareValues(a, b any) int {
	ra, rb := valueRank(a), valueRank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 1:
		av, bv := a.(bool), b.(bool)
		switch {
		case av == bv:
			return 0
		case bv:
			return -1
		default:
			return 1
		}
	case 2:
		an := asFloat(a)
		bn := asFloat(b)
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	case 3:
		at, bt := a.(time.Time), b.(time.Time)
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	case 4:
		return strings.Compare(a.(string), b.(string))
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
