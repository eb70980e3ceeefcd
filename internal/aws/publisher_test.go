package aws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func TestPublishJSON_SetsEventTypeAndAttributes(t *testing.T) {
	q := &fakeSQS{}
	p := NewPublisher(q, "https://sqs.local/events")

	err := p.PublishJSON(context.Background(), "order.created", map[string]string{"order_number": "ORD-1"}, map[string]string{"order_number": "ORD-1"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(q.inputs) != 1 {
		t.Fatalf("expected one send, got %d", len(q.inputs))
	}
	in := q.inputs[0]
	if *in.QueueUrl != "https://sqs.local/events" {
		t.Fatalf("unexpected queue %s", *in.QueueUrl)
	}
	if got := *in.MessageAttributes["event_type"].StringValue; got != "order.created" {
		t.Fatalf("unexpected event_type %q", got)
	}
	if got := *in.MessageAttributes["order_number"].StringValue; got != "ORD-1" {
		t.Fatalf("unexpected order_number %q", got)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(*in.MessageBody), &body); err != nil || body["order_number"] != "ORD-1" {
		t.Fatalf("unexpected body %s (%v)", *in.MessageBody, err)
	}
}

func TestSendMessage_NoQueueIsNoop(t *testing.T) {
	q := &fakeSQS{}
	if err := NewPublisher(q, "").SendMessage(context.Background(), "{}", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var nilPublisher *Publisher
	if err := nilPublisher.SendMessage(context.Background(), "{}", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.inputs) != 0 {
		t.Fatalf("expected no sends, got %d", len(q.inputs))
	}
}

func TestSendMessage_BreakerOpensAfterFailures(t *testing.T) {
	q := &fakeSQS{err: errors.New("throttled")}
	p := NewPublisher(q, "https://sqs.local/events")

	for i := 0; i < 5; i++ {
		if err := p.SendMessage(context.Background(), "{}", nil); err == nil || errors.Is(err, ErrPublisherUnavailable) {
			t.Fatalf("send %d: expected the SQS error, got %v", i, err)
		}
	}
	err := p.SendMessage(context.Background(), "{}", nil)
	if !errors.Is(err, ErrPublisherUnavailable) {
		t.Fatalf("expected ErrPublisherUnavailable, got %v", err)
	}
	if len(q.inputs) != 5 {
		t.Fatalf("open breaker must not call SQS, got %d calls", len(q.inputs))
	}
}

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestMetricEmitter_Count(t *testing.T) {
	cw := &fakeCloudWatch{}
	m := NewMetricEmitter(cw, "OrderReconciler")
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m.nowFunc = func() time.Time { return now }

	if err := m.Count(context.Background(), "CompensationRetry", 1, map[string]string{"Outcome": "succeeded"}); err != nil {
		t.Fatalf("count: %v", err)
	}
	in := cw.inputs[0]
	if *in.Namespace != "OrderReconciler" || len(in.MetricData) != 1 {
		t.Fatalf("unexpected input %+v", in)
	}
	d := in.MetricData[0]
	if *d.MetricName != "CompensationRetry" || *d.Value != 1 || !d.Timestamp.Equal(now) {
		t.Fatalf("unexpected datum %+v", d)
	}
	if len(d.Dimensions) != 1 || *d.Dimensions[0].Name != "Outcome" || *d.Dimensions[0].Value != "succeeded" {
		t.Fatalf("unexpected dimensions %+v", d.Dimensions)
	}

	var nilEmitter *MetricEmitter
	if err := nilEmitter.Count(context.Background(), "x", 1, nil); err != nil {
		t.Fatalf("nil emitter: %v", err)
	}
}
