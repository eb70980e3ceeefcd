package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/imrishuroy/go-order-reconciler/internal/compensation"
	"github.com/sirupsen/logrus"
)

// Retrier re-applies a recorded compensating action.
type Retrier interface {
	Retry(ctx context.Context, actionID string) (compensation.Record, error)
}

// Counter records a count metric.
type Counter interface {
	Count(ctx context.Context, name string, value float64, dims map[string]string) error
}

// Processor consumes the compensation retry queue.
type Processor struct {
	runner  Retrier
	metrics Counter
	log     logrus.FieldLogger
}

func NewProcessor(runner Retrier, metrics Counter, log logrus.FieldLogger) *Processor {
	return &Processor{runner: runner, metrics: metrics, log: log}
}

// Handle processes a batch and reports the messages SQS should redeliver.
// After too many receives SQS moves a message to the DLQ.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, msg := range ev.Records {
		out, kind, err := p.processMessage(ctx, msg)
		p.count(ctx, out, kind)
		if out == outcomeFailed {
			p.log.WithError(err).WithField("message_id", msg.MessageId).Warn("compensation retry failed")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, msg events.SQSMessage) (outcome, string, error) {
	kind := ""
	if attr, ok := msg.MessageAttributes["kind"]; ok && attr.StringValue != nil {
		kind = *attr.StringValue
	}

	var body compensation.RetryMessage
	if err := json.Unmarshal([]byte(msg.Body), &body); err != nil {
		p.log.WithField("body", msg.Body).Error("invalid compensation message dropped")
		return outcomeDropped, kind, fmt.Errorf("invalid message body: %w", err)
	}
	if body.ActionID == "" {
		p.log.WithField("body", msg.Body).Error("compensation message without action_id dropped")
		return outcomeDropped, kind, errors.New("missing action_id")
	}

	log := p.log.WithField("action_id", body.ActionID)
	rec, err := p.runner.Retry(ctx, body.ActionID)
	if rec.Kind != "" {
		kind = string(rec.Kind)
	}
	switch {
	case err == nil:
		log.WithField("status", rec.Status).Info("compensation retry processed")
		return outcomeSucceeded, kind, nil
	case errors.Is(err, compensation.ErrPermanent), errors.Is(err, compensation.ErrUnknownAction):
		log.WithError(err).Error("compensation cannot be applied, dropping")
		return outcomeDropped, kind, err
	default:
		return outcomeFailed, kind, err
	}
}

func (p *Processor) count(ctx context.Context, out outcome, kind string) {
	if p.metrics == nil {
		return
	}
	dims := map[string]string{"Outcome": string(out)}
	if kind != "" {
		dims["Kind"] = kind
	}
	if err := p.metrics.Count(ctx, metricCompensationRetry, 1, dims); err != nil {
		p.log.WithError(err).Warn("emit metric")
	}
}
