// Package dynamotest provides an in-memory DynamoDB client for tests.
//
// It understands the subset of the expression language the store emits:
// attribute_exists, attribute_not_exists, = and > comparisons joined by AND
// and OR, SET updates with optional "+" increments, and single equality key
// conditions on a table or index.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MaxTransactItems mirrors the service limit.
const MaxTransactItems = 100

type item = map[string]types.AttributeValue

type table struct {
	hash, rng string
	items     map[string]item
}

// Client is a fake DynamoDB client. The zero value is not usable; call New.
type Client struct {
	mu     sync.Mutex
	tables map[string]*table

	// PageSize limits query pages when positive.
	PageSize int

	// Err, when set, is returned by every call.
	Err error

	// Transactions counts successful TransactWriteItems calls.
	Transactions int
}

// New returns an empty client.
func New() *Client {
	return &Client{tables: make(map[string]*table)}
}

// CreateTable registers a table keyed by hash and, optionally, rng.
func (c *Client) CreateTable(name, hash, rng string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[name] = &table{hash: hash, rng: rng, items: make(map[string]item)}
}

// Items returns a copy of every item in a table, ordered by key.
func (c *Client) Items(name string) []map[string]types.AttributeValue {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		return nil
	}
	var out []map[string]types.AttributeValue
	for _, k := range t.keys() {
		out = append(out, clone(t.items[k]))
	}
	return out
}

// Put stores an item directly, bypassing conditions.
func (c *Client) Put(name string, it map[string]types.AttributeValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.tables[name]
	t.items[t.keyOf(it)] = clone(it)
}

func (t *table) keyOf(it item) string {
	k := render(it[t.hash])
	if t.rng != "" {
		k += "|" + render(it[t.rng])
	}
	return k
}

func (t *table) keys() []string {
	keys := make([]string, 0, len(t.items))
	for k := range t.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *Client) table(name *string) (*table, error) {
	t, ok := c.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table " + aws.ToString(name))}
	}
	return t, nil
}

// GetItem implements the store client.
func (c *Client) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	it, ok := t.items[t.keyOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: clone(it)}, nil
}

// Query implements the store client.
func (c *Client) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	e := &env{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}

	var matched []item
	for _, k := range t.keys() {
		it := t.items[k]
		ok, err := e.eval(aws.ToString(in.KeyConditionExpression), it)
		if err != nil {
			return nil, err
		}
		if ok && in.FilterExpression != nil {
			if ok, err = e.eval(*in.FilterExpression, it); err != nil {
				return nil, err
			}
		}
		if ok {
			matched = append(matched, clone(it))
		}
	}

	start := 0
	if n, ok := in.ExclusiveStartKey["_offset"].(*types.AttributeValueMemberN); ok {
		start, _ = strconv.Atoi(n.Value)
	}
	if start > len(matched) {
		start = len(matched)
	}
	out := &dynamodb.QueryOutput{Items: matched[start:]}
	limit := c.PageSize
	if in.Limit != nil && (limit == 0 || int(*in.Limit) < limit) {
		limit = int(*in.Limit)
	}
	if limit > 0 && len(out.Items) > limit {
		out.Items = out.Items[:limit]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			"_offset": &types.AttributeValueMemberN{Value: strconv.Itoa(start + limit)},
		}
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

// UpdateItem implements the store client. Like DynamoDB it creates the item
// when it is missing and the condition allows.
func (c *Client) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	t, err := c.table(in.TableName)
	if err != nil {
		return nil, err
	}
	e := &env{names: in.ExpressionAttributeNames, values: in.ExpressionAttributeValues}
	k := t.keyOf(in.Key)
	cur := t.items[k]
	if ok, err := e.check(in.ConditionExpression, cur); err != nil {
		return nil, err
	} else if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
	}
	next, err := e.update(aws.ToString(in.UpdateExpression), cur, in.Key)
	if err != nil {
		return nil, err
	}
	t.items[k] = next
	return &dynamodb.UpdateItemOutput{}, nil
}

// TransactWriteItems implements the store client. Conditions are checked
// for every item before anything is applied.
func (c *Client) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	if len(in.TransactItems) > MaxTransactItems {
		return nil, validation("too many items: %d", len(in.TransactItems))
	}

	type op struct {
		t     *table
		key   string
		apply func() error
	}
	var ops []op
	seen := make(map[string]bool)
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false

	for i, ti := range in.TransactItems {
		var (
			tableName *string
			key       item
			cond      *string
			e         *env
			apply     func(t *table, k string) error
		)
		switch {
		case ti.Put != nil:
			p := ti.Put
			tableName, cond = p.TableName, p.ConditionExpression
			e = &env{names: p.ExpressionAttributeNames, values: p.ExpressionAttributeValues}
			key = p.Item
			apply = func(t *table, k string) error { t.items[k] = clone(p.Item); return nil }
		case ti.Delete != nil:
			d := ti.Delete
			tableName, cond, key = d.TableName, d.ConditionExpression, d.Key
			e = &env{names: d.ExpressionAttributeNames, values: d.ExpressionAttributeValues}
			apply = func(t *table, k string) error { delete(t.items, k); return nil }
		case ti.Update != nil:
			u := ti.Update
			tableName, cond, key = u.TableName, u.ConditionExpression, u.Key
			e = &env{names: u.ExpressionAttributeNames, values: u.ExpressionAttributeValues}
			apply = func(t *table, k string) error {
				next, err := e.update(aws.ToString(u.UpdateExpression), t.items[k], u.Key)
				if err != nil {
					return err
				}
				t.items[k] = next
				return nil
			}
		case ti.ConditionCheck != nil:
			cc := ti.ConditionCheck
			tableName, cond, key = cc.TableName, cc.ConditionExpression, cc.Key
			e = &env{names: cc.ExpressionAttributeNames, values: cc.ExpressionAttributeValues}
			apply = func(*table, string) error { return nil }
		default:
			return nil, validation("empty transact item %d", i)
		}

		t, err := c.table(tableName)
		if err != nil {
			return nil, err
		}
		k := t.keyOf(key)
		id := aws.ToString(tableName) + "/" + k
		if seen[id] {
			return nil, validation("transaction touches %s more than once", id)
		}
		seen[id] = true

		ok, err := e.check(cond, t.items[k])
		if err != nil {
			return nil, err
		}
		reasons[i].Code = aws.String("None")
		if !ok {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			failed = true
		}
		ops = append(ops, op{t: t, key: k, apply: func() error { return apply(t, k) }})
	}

	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	for _, o := range ops {
		if err := o.apply(); err != nil {
			return nil, err
		}
	}
	c.Transactions++
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func validation(format string, args ...any) error {
	return &smithyValidation{msg: fmt.Sprintf(format, args...)}
}

// smithyValidation stands in for the service's ValidationException, which
// the SDK surfaces as a generic API error.
type smithyValidation struct{ msg string }

func (e *smithyValidation) Error() string        { return "ValidationException: " + e.msg }
func (e *smithyValidation) ErrorCode() string    { return "ValidationException" }
func (e *smithyValidation) ErrorMessage() string { return e.msg }

// IsValidation reports whether err is a validation failure from the fake.
func IsValidation(err error) bool {
	var v *smithyValidation
	return errors.As(err, &v)
}

func clone(it item) item {
	if it == nil {
		return nil
	}
	out := make(item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

func render(v types.AttributeValue) string {
	switch v := v.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(v.Value)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%T", v)
	}
}
