package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/imrishuroy/go-order-reconciler/internal/aws/dynamotest"
)

func newTestStore(t *testing.T) (*Store, *dynamotest.Fake) {
	t.Helper()
	mock := dynamotest.New(map[string]string{"idempotency-table": "idempotency_key"})
	s := NewStore(mock, "idempotency-table", 48*time.Hour)
	s.nowFunc = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestNewRecord(t *testing.T) {
	s, _ := newTestStore(t)

	rec := s.NewRecord("key-1", "ORD1")
	if rec.Status != StatusInProgress || rec.OrderNumber != "ORD1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	want := time.Date(2026, 5, 3, 12, 0, 0, 0, time.UTC).Unix()
	if rec.ExpiresAt != want {
		t.Fatalf("expected expiry %d, got %d", want, rec.ExpiresAt)
	}
}

func TestGet_MarkDone(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()
	key := "test-key-1"

	rec, err := s.Get(ctx, key)
	if err != nil || rec != nil {
		t.Fatalf("expected no record, got %+v (%v)", rec, err)
	}

	if err := mock.Seed("idempotency-table", s.NewRecord(key, "ORD1")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.MarkDone(ctx, key, `{"ok":true}`, 201); err != nil {
		t.Fatalf("MarkDone error: %v", err)
	}
	rec, err = s.Get(ctx, key)
	if err != nil || rec == nil {
		t.Fatalf("Get: %+v %v", rec, err)
	}
	if rec.Status != StatusDone || rec.ResponseBody != `{"ok":true}` || rec.ResponseStatus != 201 {
		t.Fatalf("unexpected record after MarkDone: %+v", rec)
	}

	// A finished record is not marked again.
	if err := s.MarkDone(ctx, key, `{}`, 200); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}
}

func TestMarkDone_MissingRecord(t *testing.T) {
	s, mock := newTestStore(t)

	if err := s.MarkDone(context.Background(), "missing", `{}`, 201); !errors.Is(err, ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}
	if mock.Len("idempotency-table") != 0 {
		t.Fatal("MarkDone must not create records")
	}
}
