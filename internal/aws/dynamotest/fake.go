// Package dynamotest provides an in-memory stand-in for the DynamoDB client.
//
// It understands the small expression dialect the stores use:
//
//	conditions: attribute_not_exists(a), attribute_exists(a), a = :v, a <> :v joined by AND
//	updates:    SET a = :v, b = b + :w, c = c - :w  and  ADD n :inc
//
// Attribute operands may be document paths such as #inv.#stock or #variants[2].sku.
//
// Anything else returns an error so a store change that needs more is noticed in tests.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

// Fake is a concurrency-safe in-memory DynamoDB.
type Fake struct {
	mu     sync.Mutex
	keys   map[string]string // table -> partition key attribute
	tables map[string]map[string]item

	// FailOn, when set, is consulted before every operation. A non-nil
	// return is handed back to the caller unchanged.
	FailOn func(op, table string) error

	Calls map[string]int
}

// New returns a Fake with the given table -> key attribute layout.
func New(tables map[string]string) *Fake {
	f := &Fake{
		keys:   map[string]string{},
		tables: map[string]map[string]item{},
		Calls:  map[string]int{},
	}
	for t, k := range tables {
		f.keys[t] = k
		f.tables[t] = map[string]item{}
	}
	return f
}

// Seed marshals v and stores it in table, bypassing conditions.
func (f *Fake) Seed(table string, v interface{}) error {
	m, err := attributevalue.MarshalMap(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, err := f.pkOf(table, m)
	if err != nil {
		return err
	}
	f.tables[table][pk] = m
	return nil
}

// Load unmarshals the item stored under key into out. It reports false when absent.
func (f *Fake) Load(table, key string, out interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.tables[table][key]
	if !ok {
		return false, nil
	}
	return true, attributevalue.UnmarshalMap(it, out)
}

// Len returns the number of items in table.
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func (f *Fake) before(op, table string) error {
	f.Calls[op+":"+table]++
	if f.FailOn != nil {
		return f.FailOn(op, table)
	}
	return nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := *in.TableName
	if err := f.before("GetItem", table); err != nil {
		return nil, err
	}
	pk, err := f.pkOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	it, ok := f.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(it)}, nil
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := *in.TableName
	if err := f.before("PutItem", table); err != nil {
		return nil, err
	}
	pk, err := f.pkOf(table, in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(f.tables[table][pk], in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: str("The conditional request failed")}
	}
	f.tables[table][pk] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := *in.TableName
	if err := f.before("UpdateItem", table); err != nil {
		return nil, err
	}
	next, pk, err := f.applyUpdate(table, in.Key, in.UpdateExpression, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	f.tables[table][pk] = next
	return &dyn.UpdateItemOutput{Attributes: clone(next)}, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.before("TransactWriteItems", ""); err != nil {
		return nil, err
	}

	type write struct {
		table, pk string
		it        item
	}
	writes := make([]write, 0, len(in.TransactItems))
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false

	for i, ti := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: str("None")}
		switch {
		case ti.Put != nil:
			p := ti.Put
			table := *p.TableName
			if err := f.before("TransactPut", table); err != nil {
				return nil, err
			}
			pk, err := f.pkOf(table, p.Item)
			if err != nil {
				return nil, err
			}
			ok, err := evalCondition(f.tables[table][pk], p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				failed = true
				reasons[i] = types.CancellationReason{Code: str("ConditionalCheckFailed")}
				continue
			}
			writes = append(writes, write{table, pk, clone(p.Item)})
		case ti.Update != nil:
			u := ti.Update
			table := *u.TableName
			if err := f.before("TransactUpdate", table); err != nil {
				return nil, err
			}
			next, pk, err := f.applyUpdate(table, u.Key, u.UpdateExpression, u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				failed = true
				reasons[i] = types.CancellationReason{Code: str("ConditionalCheckFailed")}
				continue
			}
			if err != nil {
				return nil, err
			}
			writes = append(writes, write{table, pk, next})
		default:
			return nil, errors.New("dynamotest: unsupported transact item")
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             str("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		f.tables[w.table][w.pk] = w.it
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) pkOf(table string, m item) (string, error) {
	keyAttr, ok := f.keys[table]
	if !ok {
		return "", fmt.Errorf("dynamotest: unknown table %q", table)
	}
	v, ok := m[keyAttr]
	if !ok {
		return "", fmt.Errorf("dynamotest: item for %q lacks key %q", table, keyAttr)
	}
	switch tv := v.(type) {
	case *types.AttributeValueMemberS:
		return tv.Value, nil
	case *types.AttributeValueMemberN:
		return tv.Value, nil
	}
	return "", fmt.Errorf("dynamotest: unsupported key type %T", v)
}

func (f *Fake) applyUpdate(table string, key item, updateExpr, condExpr *string, names map[string]string, values item) (item, string, error) {
	pk, err := f.pkOf(table, key)
	if err != nil {
		return nil, "", err
	}
	current := f.tables[table][pk]
	ok, err := evalCondition(current, condExpr, names, values)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", &types.ConditionalCheckFailedException{Message: str("The conditional request failed")}
	}

	next := clone(current)
	if next == nil {
		next = clone(key)
	}
	if updateExpr == nil {
		return next, pk, nil
	}
	for _, clause := range splitClauses(*updateExpr) {
		switch clause.verb {
		case "SET":
			for _, assign := range strings.Split(clause.body, ",") {
				parts := strings.SplitN(assign, "=", 2)
				if len(parts) != 2 {
					return nil, "", fmt.Errorf("dynamotest: bad SET %q", assign)
				}
				target, err := parsePath(parts[0], names)
				if err != nil {
					return nil, "", err
				}
				// operands read the item as it was before the update
				v, err := evalOperand(current, strings.TrimSpace(parts[1]), names, values)
				if err != nil {
					return nil, "", err
				}
				if next, err = setPath(next, target, v); err != nil {
					return nil, "", err
				}
			}
		case "ADD":
			for _, add := range strings.Split(clause.body, ",") {
				fields := strings.Fields(add)
				if len(fields) != 2 {
					return nil, "", fmt.Errorf("dynamotest: bad ADD %q", add)
				}
				target, err := parsePath(fields[0], names)
				if err != nil {
					return nil, "", err
				}
				inc, ok := values[fields[1]].(*types.AttributeValueMemberN)
				if !ok {
					return nil, "", fmt.Errorf("dynamotest: ADD needs a number for %q", fields[1])
				}
				base := &types.AttributeValueMemberN{Value: "0"}
				if cur, ok := getPath(next, target).(*types.AttributeValueMemberN); ok {
					base = cur
				}
				sum, err := arith(base, inc, '+')
				if err != nil {
					return nil, "", err
				}
				if next, err = setPath(next, target, sum); err != nil {
					return nil, "", err
				}
			}
		default:
			return nil, "", fmt.Errorf("dynamotest: unsupported update verb %q", clause.verb)
		}
	}
	return next, pk, nil
}

// evalOperand resolves ":v", "path", "x + y" or "x - y".
func evalOperand(current item, expr string, names map[string]string, values item) (types.AttributeValue, error) {
	for _, op := range []byte{'+', '-'} {
		if i := strings.IndexByte(expr, op); i > 0 {
			a, err := evalOperand(current, strings.TrimSpace(expr[:i]), names, values)
			if err != nil {
				return nil, err
			}
			b, err := evalOperand(current, strings.TrimSpace(expr[i+1:]), names, values)
			if err != nil {
				return nil, err
			}
			return arith(a, b, op)
		}
	}
	if strings.HasPrefix(expr, ":") {
		v, ok := values[expr]
		if !ok {
			return nil, fmt.Errorf("dynamotest: missing value %q", expr)
		}
		return v, nil
	}
	path, err := parsePath(expr, names)
	if err != nil {
		return nil, err
	}
	v := getPath(current, path)
	if v == nil {
		return nil, fmt.Errorf("dynamotest: operand %q does not exist", expr)
	}
	return v, nil
}

func arith(a, b types.AttributeValue, op byte) (types.AttributeValue, error) {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if !aok || !bok {
		return nil, fmt.Errorf("dynamotest: %c needs numbers, got %T and %T", op, a, b)
	}
	x, _ := strconv.ParseFloat(an.Value, 64)
	y, _ := strconv.ParseFloat(bn.Value, 64)
	if op == '-' {
		y = -y
	}
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(x+y, 'f', -1, 64)}, nil
}

// pathElem is one step of a document path: a map key, or a list index when index >= 0.
type pathElem struct {
	key   string
	index int
}

var segmentRe = regexp.MustCompile(`^(#?\w+)((?:\[\d+\])*)$`)
var indexRe = regexp.MustCompile(`\[(\d+)\]`)

func parsePath(expr string, names map[string]string) ([]pathElem, error) {
	expr = strings.TrimSpace(expr)
	var out []pathElem
	for _, seg := range strings.Split(expr, ".") {
		m := segmentRe.FindStringSubmatch(seg)
		if m == nil {
			return nil, fmt.Errorf("dynamotest: unsupported path %q", expr)
		}
		out = append(out, pathElem{key: resolveName(m[1], names), index: -1})
		for _, idx := range indexRe.FindAllStringSubmatch(m[2], -1) {
			i, _ := strconv.Atoi(idx[1])
			out = append(out, pathElem{index: i})
		}
	}
	return out, nil
}

func getPath(it item, path []pathElem) types.AttributeValue {
	var cur types.AttributeValue = &types.AttributeValueMemberM{Value: it}
	for _, e := range path {
		switch c := cur.(type) {
		case *types.AttributeValueMemberM:
			if e.index >= 0 {
				return nil
			}
			cur = c.Value[e.key]
		case *types.AttributeValueMemberL:
			if e.index < 0 || e.index >= len(c.Value) {
				return nil
			}
			cur = c.Value[e.index]
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}

// setPath returns it with v stored at path. Containers on the way are copied
// so the stored item is never changed in place.
func setPath(it item, path []pathElem, v types.AttributeValue) (item, error) {
	out, err := setIn(&types.AttributeValueMemberM{Value: it}, path, v)
	if err != nil {
		return nil, err
	}
	return out.(*types.AttributeValueMemberM).Value, nil
}

func setIn(cur types.AttributeValue, path []pathElem, v types.AttributeValue) (types.AttributeValue, error) {
	if len(path) == 0 {
		return v, nil
	}
	e := path[0]
	switch c := cur.(type) {
	case *types.AttributeValueMemberM:
		if e.index >= 0 {
			break
		}
		m := clone(c.Value)
		if m == nil {
			m = item{}
		}
		child, ok := m[e.key]
		if !ok && len(path) > 1 {
			return nil, fmt.Errorf("dynamotest: document path %q does not exist", e.key)
		}
		nv, err := setIn(child, path[1:], v)
		if err != nil {
			return nil, err
		}
		m[e.key] = nv
		return &types.AttributeValueMemberM{Value: m}, nil
	case *types.AttributeValueMemberL:
		if e.index < 0 || e.index >= len(c.Value) {
			break
		}
		l := append([]types.AttributeValue(nil), c.Value...)
		nv, err := setIn(l[e.index], path[1:], v)
		if err != nil {
			return nil, err
		}
		l[e.index] = nv
		return &types.AttributeValueMemberL{Value: l}, nil
	}
	return nil, fmt.Errorf("dynamotest: invalid document path at %+v", e)
}

type clause struct{ verb, body string }

var verbRe = regexp.MustCompile(`\b(SET|ADD|REMOVE)\s`)

func splitClauses(expr string) []clause {
	idx := verbRe.FindAllStringIndex(expr, -1)
	out := make([]clause, 0, len(idx))
	for i, loc := range idx {
		end := len(expr)
		if i+1 < len(idx) {
			end = idx[i+1][0]
		}
		out = append(out, clause{
			verb: strings.TrimSpace(expr[loc[0]:loc[1]]),
			body: strings.TrimSpace(expr[loc[1]:end]),
		})
	}
	return out
}

var fnRe = regexp.MustCompile(`^(attribute_not_exists|attribute_exists)\(\s*([#\w.\[\]]+)\s*\)$`)

func evalCondition(current item, expr *string, names map[string]string, values item) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, term := range strings.Split(*expr, " AND ") {
		term = strings.TrimSpace(term)
		if m := fnRe.FindStringSubmatch(term); m != nil {
			path, err := parsePath(m[2], names)
			if err != nil {
				return false, err
			}
			exists := getPath(current, path) != nil
			if (m[1] == "attribute_exists") != exists {
				return false, nil
			}
			continue
		}
		op := "="
		if strings.Contains(term, "<>") {
			op = "<>"
		}
		parts := strings.SplitN(term, op, 2)
		if len(parts) != 2 {
			return false, fmt.Errorf("dynamotest: unsupported condition %q", term)
		}
		want, ok := values[strings.TrimSpace(parts[1])]
		if !ok {
			return false, fmt.Errorf("dynamotest: missing value for %q", term)
		}
		path, err := parsePath(parts[0], names)
		if err != nil {
			return false, err
		}
		got := getPath(current, path)
		equal := got != nil && reflect.DeepEqual(got, want)
		if (op == "=") != equal {
			return false, nil
		}
	}
	return true, nil
}

func resolveName(n string, names map[string]string) string {
	if strings.HasPrefix(n, "#") {
		if v, ok := names[n]; ok {
			return v
		}
	}
	return n
}

func clone(m item) item {
	if m == nil {
		return nil
	}
	out := make(item, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func str(s string) *string { return &s }
