package customers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/imrishuroy/go-order-reconciler/internal/aws"
)

var (
	// ErrNotFound is returned when no customer has the given email.
	ErrNotFound = errors.New("customer not found")
	// ErrContention is returned when optimistic retries are exhausted.
	ErrContention = errors.New("customer update contention")
)

const maxAttempts = 5

// Store is the customer directory backed by the customers table. Email is the
// partition key, so the table itself enforces one customer per email.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
	newID     func() string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

// Upsert creates the customer for p.Email or merges p into the existing
// record. Creation is a conditional put, so concurrent first orders for the
// same email converge on one record.
func (s *Store) Upsert(ctx context.Context, p Profile) (Customer, bool, error) {
	p.Email = NormalizeEmail(p.Email)
	if p.Email == "" {
		return Customer{}, false, errors.New("upsert customer: email required")
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		existing, err := s.Get(ctx, p.Email)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Customer{}, false, err
		}

		if existing == nil {
			c := s.newCustomer(p)
			err := s.put(ctx, c, 0)
			if err == nil {
				return c, true, nil
			}
			if errors.Is(err, errConditionFailed) {
				continue
			}
			return Customer{}, false, err
		}

		c := *existing
		if !c.merge(p) {
			return c, false, nil
		}
		c.Version = existing.Version + 1
		c.UpdatedAt = s.nowFunc().UTC()
		err = s.put(ctx, c, existing.Version)
		if err == nil {
			return c, false, nil
		}
		if !errors.Is(err, errConditionFailed) {
			return Customer{}, false, err
		}
	}
	return Customer{}, false, fmt.Errorf("upsert customer %s: %w", p.Email, ErrContention)
}

// CreditPayment records a successful payment in the customer's aggregate
// stats. Crediting the same paymentID twice is a no-op.
func (s *Store) CreditPayment(ctx context.Context, email, paymentID string, amount int64, at time.Time) (bool, error) {
	email = NormalizeEmail(email)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		existing, err := s.Get(ctx, email)
		if err != nil {
			return false, err
		}
		c := *existing
		if !c.credit(paymentID, amount, at) {
			return false, nil
		}
		c.Version = existing.Version + 1
		c.UpdatedAt = s.nowFunc().UTC()
		err = s.put(ctx, c, existing.Version)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, errConditionFailed) {
			return false, err
		}
	}
	return false, fmt.Errorf("credit customer %s: %w", email, ErrContention)
}

// Get fetches a customer by email. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, email string) (*Customer, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            map[string]types.AttributeValue{"email": &types.AttributeValueMemberS{Value: NormalizeEmail(email)}},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var c Customer
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal customer: %w", err)
	}
	return &c, nil
}

var errConditionFailed = errors.New("condition failed")

// put writes c. expected == 0 means the email must not exist yet; otherwise
// the stored version must equal expected.
func (s *Store) put(ctx context.Context, c Customer, expected int64) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal customer: %w", err)
	}
	in := &dyn.PutItemInput{TableName: &s.tableName, Item: item}
	if expected == 0 {
		in.ConditionExpression = awsString("attribute_not_exists(email)")
	} else {
		in.ConditionExpression = awsString("#v = :expected")
		in.ExpressionAttributeNames = map[string]string{"#v": "version"}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		}
	}
	if _, err := s.client.PutItem(ctx, in); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return errConditionFailed
		}
		return fmt.Errorf("put customer: %w", err)
	}
	return nil
}

func (s *Store) newCustomer(p Profile) Customer {
	now := s.nowFunc().UTC()
	c := Customer{
		Email:          p.Email,
		CustomerID:     s.newID(),
		Name:           p.Name,
		PrimaryPhone:   p.Phone,
		SecondaryPhone: p.SecondaryPhone,
		Preferences: Preferences{
			Language: DefaultLanguage,
			Channel:  DefaultChannel,
		},
		Flags:     Flags{Active: true},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if p.Language != "" {
		c.Preferences.Language = p.Language
	}
	if p.MarketingOptIn != nil {
		c.Preferences.MarketingOptIn = *p.MarketingOptIn
	}
	if p.Address != nil {
		c.mergeAddress(*p.Address)
	}
	return c
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
