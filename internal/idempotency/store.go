package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/imrishuroy/go-order-reconciler/internal/aws"
)

// Store encapsulates idempotency operations against DynamoDB.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	ttlWindow time.Duration // default TTL window when creating entries
	nowFunc   func() time.Time
}

// NewStore returns a configured Store.
// tableName: DynamoDB table name for idempotency entries.
// ttlWindow: default TTL window (e.g., 48*time.Hour)
func NewStore(client aws.DynamoDBAPI, tableName string, ttlWindow time.Duration) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		ttlWindow: ttlWindow,
		nowFunc:   time.Now,
	}
}

// ErrConditionFailed indicates a conditional write failed, e.g. marking a
// record that is no longer IN_PROGRESS.
var ErrConditionFailed = errors.New("conditional check failed")

// TableName is the table records are written to; the orders store needs it
// to put a record in the same transaction as the order.
func (s *Store) TableName() string { return s.tableName }

// TTL is the window after which DynamoDB expires records.
func (s *Store) TTL() time.Duration { return s.ttlWindow }

// NewRecord returns an IN_PROGRESS record for key claiming orderNumber. It
// is written by the caller together with the order.
func (s *Store) NewRecord(key, orderNumber string) Record {
	now := s.nowFunc().UTC()
	return Record{
		IdempotencyKey: key,
		Status:         StatusInProgress,
		OrderNumber:    orderNumber,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttlWindow).Unix(),
	}
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	input := &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: awsBool(true),
	}
	out, err := s.client.GetItem(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// MarkDone sets status to DONE and stores the response to replay for
// duplicates. Only an IN_PROGRESS record can be marked.
func (s *Store) MarkDone(ctx context.Context, key, responseBody string, responseStatus int) error {
	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    awsString("SET #s = :done, response_body = :rb, response_status = :rs, updated_at = :ua"),
		ConditionExpression: awsString("#s = :inprogress"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":done":       &types.AttributeValueMemberS{Value: StatusDone},
			":inprogress": &types.AttributeValueMemberS{Value: StatusInProgress},
			":rb":         &types.AttributeValueMemberS{Value: responseBody},
			":rs":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", responseStatus)},
			":ua":         &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		if isConditionalFailure(err) {
			return ErrConditionFailed
		}
		return fmt.Errorf("update item (mark done): %w", err)
	}
	return nil
}

func isConditionalFailure(err error) bool {
	var sc smithy.APIError
	return errors.As(err, &sc) && sc.ErrorCode() == "ConditionalCheckFailedException"
}

// Helper
func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
