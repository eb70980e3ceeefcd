package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/sony/gobreaker"
)

// ErrPublisherUnavailable is returned while the circuit around SQS is open.
var ErrPublisherUnavailable = errors.New("publisher unavailable")

// Publisher wraps an SQS client and a queue URL. Sends go through a circuit
// breaker so a failing queue does not add latency to every request.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
	cb       *gobreaker.CircuitBreaker
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "sqs:" + queueURL,
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// SendMessage sends messageBody to the queue. attributes are sent as String MessageAttributes.
func (p *Publisher) SendMessage(ctx context.Context, messageBody string, attributes map[string]string) error {
	if p == nil || p.QueueURL == "" {
		return nil
	}
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &messageBody,
	}
	if len(attributes) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range attributes {
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    awsString("String"),
				StringValue: awsString(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}

	_, err := p.cb.Execute(func() (interface{}, error) {
		return p.SQS.SendMessage(ctx, input)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("send message: %w", ErrPublisherUnavailable)
	}
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// PublishJSON marshals v and sends it with an event_type attribute.
func (p *Publisher) PublishJSON(ctx context.Context, eventType string, v interface{}, attributes map[string]string) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	attrs := map[string]string{"event_type": eventType}
	for k, v := range attributes {
		attrs[k] = v
	}
	return p.SendMessage(ctx, string(body), attrs)
}

func awsString(s string) *string { return &s }
