package dynamotest

import (
	"context"
	"errors"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type variant struct {
	SKU   string `dynamodbav:"sku"`
	Stock int    `dynamodbav:"stock"`
}

type product struct {
	ID       string    `dynamodbav:"id"`
	Title    string    `dynamodbav:"title"`
	Variants []variant `dynamodbav:"variants"`
}

func s(v string) *types.AttributeValueMemberS { return &types.AttributeValueMemberS{Value: v} }

func n(v string) *types.AttributeValueMemberN { return &types.AttributeValueMemberN{Value: v} }

func TestUpdateItem_NestedPathArithmetic(t *testing.T) {
	f := New(map[string]string{"products": "id"})
	seeded := product{ID: "p1", Title: "Tee", Variants: []variant{{SKU: "S", Stock: 1}, {SKU: "M", Stock: 4}}}
	if err := f.Seed("products", seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := f.UpdateItem(context.Background(), &dyn.UpdateItemInput{
		TableName:                 str("products"),
		Key:                       item{"id": s("p1")},
		UpdateExpression:          str("SET #v[1].#st = #v[1].#st + :q"),
		ConditionExpression:       str("attribute_exists(#v[1].#st) AND #v[1].sku = :sku"),
		ExpressionAttributeNames:  map[string]string{"#v": "variants", "#st": "stock"},
		ExpressionAttributeValues: item{":q": n("3"), ":sku": s("M")},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	var got product
	if _, err := f.Load("products", "p1", &got); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Title != "Tee" || got.Variants[0].Stock != 1 || got.Variants[1].Stock != 7 {
		t.Fatalf("unexpected item %+v", got)
	}
}

func TestUpdateItem_NestedConditionFailureLeavesItem(t *testing.T) {
	f := New(map[string]string{"products": "id"})
	if err := f.Seed("products", product{ID: "p1", Variants: []variant{{SKU: "S", Stock: 1}}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := f.UpdateItem(context.Background(), &dyn.UpdateItemInput{
		TableName:                 str("products"),
		Key:                       item{"id": s("p1")},
		UpdateExpression:          str("SET variants[0].stock = :zero"),
		ConditionExpression:       str("variants[0].sku = :sku"),
		ExpressionAttributeValues: item{":zero": n("0"), ":sku": s("XL")},
	})
	var ccf *types.ConditionalCheckFailedException
	if !errors.As(err, &ccf) {
		t.Fatalf("expected conditional failure, got %v", err)
	}
	var got product
	f.Load("products", "p1", &got)
	if got.Variants[0].Stock != 1 {
		t.Fatalf("item changed: %+v", got)
	}
}

func TestTransactWriteItems_FailedUpdateDoesNotLeak(t *testing.T) {
	f := New(map[string]string{"products": "id"})
	if err := f.Seed("products", product{ID: "p1", Variants: []variant{{SKU: "S", Stock: 1}}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := f.TransactWriteItems(context.Background(), &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:                 str("products"),
				Key:                       item{"id": s("p1")},
				UpdateExpression:          str("SET variants[0].stock = variants[0].stock + :q"),
				ExpressionAttributeValues: item{":q": n("2")},
			}},
			{Put: &types.Put{
				TableName:           str("products"),
				Item:                item{"id": s("p1")},
				ConditionExpression: str("attribute_not_exists(id)"),
			}},
		},
	})
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		t.Fatalf("expected cancelled transaction, got %v", err)
	}
	var got product
	f.Load("products", "p1", &got)
	if got.Variants[0].Stock != 1 {
		t.Fatalf("nested write leaked from a cancelled transaction: %+v", got)
	}
}

func TestUpdateItem_MissingPathIsAnError(t *testing.T) {
	f := New(map[string]string{"products": "id"})
	if err := f.Seed("products", product{ID: "p1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := f.UpdateItem(context.Background(), &dyn.UpdateItemInput{
		TableName:                 str("products"),
		Key:                       item{"id": s("p1")},
		UpdateExpression:          str("SET inventory.stock = inventory.stock + :q"),
		ExpressionAttributeValues: item{":q": n("1")},
	})
	if err == nil {
		t.Fatal("expected an error for a missing document path")
	}
}
