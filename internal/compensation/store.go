package compensation

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
	// ErrExists is returned by Create when the action id is already recorded.
	ErrExists = errors.New("compensation already recorded")
	// ErrVersionConflict means the record changed since it was read.
	ErrVersionConflict = errors.New("compensation version conflict")
)

// Store encapsulates operations on the compensations table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName, nowFunc: time.Now}
}

// Create stores rec as pending with version 1.
func (s *Store) Create(ctx context.Context, rec Record) (Record, error) {
	now := s.nowFunc().UTC()
	rec.Status = StatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Version = 1

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshal compensation: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(action_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return Record{}, ErrExists
		}
		return Record{}, fmt.Errorf("put compensation: %w", err)
	}
	return rec, nil
}

// Get fetches a record by action id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, actionID string) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            map[string]types.AttributeValue{"action_id": &types.AttributeValueMemberS{Value: actionID}},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get compensation: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal compensation: %w", err)
	}
	return &rec, nil
}

// Update writes next if the stored version still equals expected.
func (s *Store) Update(ctx context.Context, next Record, expected int64) error {
	put, err := s.conditionalPut(next, expected)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                 put.TableName,
		Item:                      put.Item,
		ConditionExpression:       put.ConditionExpression,
		ExpressionAttributeNames:  put.ExpressionAttributeNames,
		ExpressionAttributeValues: put.ExpressionAttributeValues,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrVersionConflict
		}
		return fmt.Errorf("update compensation: %w", err)
	}
	return nil
}

// TransactItem returns the version-conditioned write of next for use inside
// a caller's TransactWriteItems, so an action and its record commit together.
func (s *Store) TransactItem(next Record, expected int64) (types.TransactWriteItem, error) {
	put, err := s.conditionalPut(next, expected)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{Put: put}, nil
}

func (s *Store) conditionalPut(next Record, expected int64) (*types.Put, error) {
	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return nil, fmt.Errorf("marshal compensation: %w", err)
	}
	return &types.Put{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      awsString("#v = :expected"),
		ExpressionAttributeNames: map[string]string{"#v": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		},
	}, nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
