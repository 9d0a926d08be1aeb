package dynamo

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/prism/driver"
)

// updateExpr is a built merge expression ready for an UpdateItem call or a
// transactional Update item.
type updateExpr struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// buildUpdate translates a merge payload into an update expression in the
// #attrN/:valN aliasing style, so reserved words in field names never
// collide with the grammar. Plain values become SET clauses; sentinels
// translate to their expression forms:
//
//	increment        SET #a = if_not_exists(#a, :zero) + :delta
//	server timestamp SET #a = :now (commit wall time)
//	delete field     REMOVE #a
//
// Array union/remove have no DynamoDB expression equivalent and fail with
// ErrUnsupported. Every update also rotates the rev attribute, which is how
// listeners detect the write. Fields are processed in sorted order so the
// expression is deterministic.
func buildUpdate(data driver.Document, rev string, now time.Time) (updateExpr, error) {
	fields := make([]string, 0, len(data))
	for k := range data {
		if managedAttrs[k] {
			continue
		}
		fields = append(fields, k)
	}
	sort.Strings(fields)

	names := map[string]string{"#rev": attrRev}
	values := map[string]types.AttributeValue{
		":rev": &types.AttributeValueMemberS{Value: rev},
	}
	setClauses := []string{"#rev = :rev"}
	var removeClauses []string

	for i, k := range fields {
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		names[nameKey] = k

		v := data[k]
		s, isSentinel := driver.AsSentinel(v)
		if !isSentinel {
			av, err := attributevalue.Marshal(v)
			if err != nil {
				return updateExpr{}, fmt.Errorf("marshal field %q: %w", k, err)
			}
			values[valueKey] = av
			setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
			continue
		}

		switch s.Kind {
		case driver.SentinelIncrement:
			zeroKey := fmt.Sprintf(":zero%d", i)
			values[valueKey] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", s.Delta)}
			values[zeroKey] = &types.AttributeValueMemberN{Value: "0"}
			setClauses = append(setClauses,
				fmt.Sprintf("%s = if_not_exists(%s, %s) + %s", nameKey, nameKey, zeroKey, valueKey))
		case driver.SentinelServerTimestamp:
			av, err := attributevalue.Marshal(now)
			if err != nil {
				return updateExpr{}, fmt.Errorf("marshal timestamp for %q: %w", k, err)
			}
			values[valueKey] = av
			setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
		case driver.SentinelDelete:
			removeClauses = append(removeClauses, nameKey)
		default:
			return updateExpr{}, fmt.Errorf("update field %q: %w", k, driver.ErrUnsupported)
		}
	}

	expr := "SET " + strings.Join(setClauses, ", ")
	if len(removeClauses) > 0 {
		expr += " REMOVE " + strings.Join(removeClauses, ", ")
	}
	return updateExpr{Expr: expr, Names: names, Values: values}, nil
}

// filterExpr is a built query filter expression, empty when the query has
// no filters.
type filterExpr struct {
	Expr   string
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// buildFilter translates query predicates into a native DynamoDB filter
// expression. Scalar comparisons map directly, "in" becomes an IN list and
// "array-contains" becomes contains(). Predicates combine conjunctively.
func buildFilter(filters []driver.Filter) (filterExpr, error) {
	if len(filters) == 0 {
		return filterExpr{}, nil
	}

	names := make(map[string]string, len(filters))
	values := make(map[string]types.AttributeValue)
	clauses := make([]string, 0, len(filters))

	for i, f := range filters {
		nameKey := fmt.Sprintf("#f%d", i)
		valueKey := fmt.Sprintf(":f%d", i)
		names[nameKey] = f.Field

		switch f.Op {
		case driver.OpEqual, driver.OpNotEqual,
			driver.OpLess, driver.OpLessOrEqual,
			driver.OpGreater, driver.OpGreaterOrEqual:
			av, err := attributevalue.Marshal(f.Value)
			if err != nil {
				return filterExpr{}, fmt.Errorf("marshal filter %q: %w", f.Field, err)
			}
			values[valueKey] = av
			op := string(f.Op)
			switch f.Op {
			case driver.OpEqual:
				op = "="
			case driver.OpNotEqual:
				op = "<>"
			}
			clauses = append(clauses, fmt.Sprintf("%s %s %s", nameKey, op, valueKey))
		case driver.OpIn:
			elems, ok := f.Value.([]any)
			if !ok || len(elems) == 0 {
				return filterExpr{}, fmt.Errorf("filter %q: in operator needs a non-empty []any: %w",
					f.Field, driver.ErrUnsupported)
			}
			elemKeys := make([]string, len(elems))
			for j, e := range elems {
				av, err := attributevalue.Marshal(e)
				if err != nil {
					return filterExpr{}, fmt.Errorf("marshal filter %q: %w", f.Field, err)
				}
				key := fmt.Sprintf(":f%d_%d", i, j)
				values[key] = av
				elemKeys[j] = key
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", nameKey, strings.Join(elemKeys, ", ")))
		case driver.OpArrayContains:
			av, err := attributevalue.Marshal(f.Value)
			if err != nil {
				return filterExpr{}, fmt.Errorf("marshal filter %q: %w", f.Field, err)
			}
			values[valueKey] = av
			clauses = append(clauses, fmt.Sprintf("contains(%s, %s)", nameKey, valueKey))
		default:
			return filterExpr{}, fmt.Errorf("filter %q: operator %q: %w", f.Field, f.Op, driver.ErrUnsupported)
		}
	}

	return filterExpr{
		Expr:   strings.Join(clauses, " AND "),
		Names:  names,
		Values: values,
	}, nil
}
