package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-order-reconciler/internal/aws"
	"github.com/imrishuroy/go-order-reconciler/internal/compensation"
)

// ErrProductChanged means the product no longer matches the state a
// restock was planned from.
var ErrProductChanged = errors.New("product changed since read")

// Store reads and writes products in the catalog's products table.
type Store struct {
	client        aws.DynamoDBAPI
	tableName     string
	compensations *compensation.Store
}

func NewStore(client aws.DynamoDBAPI, tableName string, compensations *compensation.Store) *Store {
	return &Store{client: client, tableName: tableName, compensations: compensations}
}

// Get fetches a product by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            map[string]types.AttributeValue{"product_id": &types.AttributeValueMemberS{Value: productID}},
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, fmt.Errorf("unmarshal product: %w", err)
	}
	return &p, nil
}

// ApplyRestock increments stock as planned in r and writes the compensation
// record done in one transaction. Either both land or neither does, so a
// restoration is applied at most once however often it is retried.
func (s *Store) ApplyRestock(ctx context.Context, r Restock, done compensation.Record, expectedRecordVersion int64) error {
	recItem, err := s.compensations.TransactItem(done, expectedRecordVersion)
	if err != nil {
		return err
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{{Update: s.restockUpdate(r)}, recItem},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			reasons := tce.CancellationReasons
			if len(reasons) > 0 && reasonCode(reasons[0]) == "ConditionalCheckFailed" {
				return ErrProductChanged
			}
			if len(reasons) > 1 && reasonCode(reasons[1]) == "ConditionalCheckFailed" {
				return compensation.ErrVersionConflict
			}
			return fmt.Errorf("transaction canceled: %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// restockUpdate touches only the stock counter and, when out of stock, the
// status. Everything else on the item belongs to the catalog.
func (s *Store) restockUpdate(r Restock) *types.Update {
	qty := &types.AttributeValueMemberN{Value: strconv.Itoa(r.Quantity)}
	names := map[string]string{"#status": "status"}
	values := map[string]types.AttributeValue{":oos": &types.AttributeValueMemberS{Value: StatusOutOfStock}}
	cond := []string{"attribute_exists(product_id)"}
	var set []string

	switch {
	case r.Variant >= 0:
		names["#variants"], names["#stock"] = "variants", "stock"
		values[":q"] = qty
		path := fmt.Sprintf("#variants[%d]", r.Variant)
		set = append(set, fmt.Sprintf("%s.#stock = %s.#stock + :q", path, path))
		if r.VariantID != "" {
			names["#vid"] = "variant_id"
			values[":vid"] = &types.AttributeValueMemberS{Value: r.VariantID}
			cond = append(cond, path+".#vid = :vid")
		} else {
			names["#sku"] = "sku"
			values[":sku"] = &types.AttributeValueMemberS{Value: r.SKU}
			cond = append(cond, path+".#sku = :sku")
		}
	case r.NoBase:
		names["#inv"] = "inventory"
		values[":inv"] = &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{"stock": qty}}
		set = append(set, "#inv = :inv")
		cond = append(cond, "attribute_not_exists(#inv)")
	default:
		names["#inv"], names["#stock"] = "inventory", "stock"
		values[":q"] = qty
		set = append(set, "#inv.#stock = #inv.#stock + :q")
		cond = append(cond, "attribute_exists(#inv.#stock)")
	}

	if r.Activate {
		values[":active"] = &types.AttributeValueMemberS{Value: StatusActive}
		set = append(set, "#status = :active")
		cond = append(cond, "#status = :oos")
	} else {
		cond = append(cond, "#status <> :oos")
	}
	return &types.Update{
		TableName:                 &s.tableName,
		Key:                       map[string]types.AttributeValue{"product_id": &types.AttributeValueMemberS{Value: r.ProductID}},
		UpdateExpression:          awsString("SET " + strings.Join(set, ", ")),
		ConditionExpression:       awsString(strings.Join(cond, " AND ")),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
}

func reasonCode(r types.CancellationReason) string {
	if r.Code == nil {
		return ""
	}
	return *r.Code
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
