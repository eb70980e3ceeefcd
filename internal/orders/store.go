package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-order-reconciler/internal/aws"
)

var (
	// ErrVersionConflict means the order changed since it was read.
	ErrVersionConflict = errors.New("order version conflict")
	// ErrOrderExists means an order with the same order number is already stored.
	ErrOrderExists = errors.New("order number already exists")
	// ErrIdempotencyKeyExists means the request's idempotency key was used before.
	ErrIdempotencyKeyExists = errors.New("idempotency key already exists")
)

// sequenceKey is the order_number of the counter item that hands out numeric ids.
const sequenceKey = "#SEQ"

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// NextID atomically increments the order sequence and returns the new value.
func (s *Store) NextID(ctx context.Context) (int64, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_number": &types.AttributeValueMemberS{Value: sequenceKey},
		},
		UpdateExpression:          awsString("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("next order id: %w", err)
	}
	n, ok := out.Attributes["seq"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("next order id: sequence missing from response")
	}
	id, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("next order id: %w", err)
	}
	return id, nil
}

// Create stores a new order. It fails with ErrOrderExists if the order number is taken.
func (s *Store) Create(ctx context.Context, order Order) (Order, error) {
	order = s.stamp(order)
	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return Order{}, fmt.Errorf("marshal order item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_number)"),
	})
	if err != nil {
		if isConditionalFailure(err) {
			return Order{}, ErrOrderExists
		}
		return Order{}, fmt.Errorf("put order: %w", err)
	}
	return order, nil
}

// CreateWithIdempotencyTransaction atomically creates:
//   - idempotency record in idempotencyTable (with ConditionExpression attribute_not_exists(idempotency_key))
//   - order record in orders table (with ConditionExpression attribute_not_exists(order_number))
//
// idempotencyItem must marshal to a map containing idempotency_key.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, order Order, ttlWindow time.Duration) (Order, error) {
	idempMap, err := attributevalue.MarshalMap(idempotencyItem)
	if err != nil {
		return Order{}, fmt.Errorf("marshal idempotency item: %w", err)
	}
	if _, ok := idempMap["expires_at"]; !ok && ttlWindow > 0 {
		expires := s.nowFunc().Add(ttlWindow).Unix()
		idempMap["expires_at"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expires, 10)}
	}

	order = s.stamp(order)
	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return Order{}, fmt.Errorf("marshal order item: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           &idempotencyTable,
					Item:                idempMap,
					ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tableName,
					Item:                orderMap,
					ConditionExpression: awsString("attribute_not_exists(order_number)"),
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			reasons := tce.CancellationReasons
			if len(reasons) > 0 && reasonCode(reasons[0]) == "ConditionalCheckFailed" {
				return Order{}, ErrIdempotencyKeyExists
			}
			if len(reasons) > 1 && reasonCode(reasons[1]) == "ConditionalCheckFailed" {
				return Order{}, ErrOrderExists
			}
			return Order{}, fmt.Errorf("transaction canceled: %w", err)
		}
		return Order{}, fmt.Errorf("transact write: %w", err)
	}
	return order, nil
}

// Get fetches an order by order number. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderNumber string) (*Order, error) {
	if orderNumber == "" || orderNumber == sequenceKey {
		return nil, nil
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            map[string]types.AttributeValue{"order_number": &types.AttributeValueMemberS{Value: orderNumber}},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// Replace writes order back if its stored version still equals order.Version.
// The returned order carries the incremented version. Returns ErrVersionConflict
// if another writer got there first.
func (s *Store) Replace(ctx context.Context, order Order) (Order, error) {
	expected := order.Version
	order.Version++
	order.UpdatedAt = s.nowFunc().UTC()

	item, err := attributevalue.MarshalMap(order)
	if err != nil {
		return Order{}, fmt.Errorf("marshal order item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      awsString("#v = :expected"),
		ExpressionAttributeNames: map[string]string{"#v": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	})
	if err != nil {
		if isConditionalFailure(err) {
			return Order{}, ErrVersionConflict
		}
		return Order{}, fmt.Errorf("replace order: %w", err)
	}
	return order, nil
}

func (s *Store) stamp(order Order) Order {
	now := s.nowFunc().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Version == 0 {
		order.Version = 1
	}
	return order
}

func isConditionalFailure(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func reasonCode(r types.CancellationReason) string {
	if r.Code == nil {
		return ""
	}
	return *r.Code
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
