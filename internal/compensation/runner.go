package compensation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-order-reconciler/internal/metrics"
	"github.com/sirupsen/logrus"
)

// ErrUnknownAction is returned by Retry for an action id with no record.
var ErrUnknownAction = errors.New("unknown compensation action")

// Handler applies one kind of action. A handler may commit rec.Succeeded
// together with its own write; the runner treats that as success.
type Handler func(ctx context.Context, rec Record) error

// Queue receives failed actions for later retry.
type Queue interface {
	SendMessage(ctx context.Context, body string, attributes map[string]string) error
}

// RetryMessage is the body of a compensation queue message.
type RetryMessage struct {
	ActionID string `json:"action_id"`
}

type Runner struct {
	store    *Store
	queue    Queue
	handlers map[Kind]Handler
	log      logrus.FieldLogger
	nowFunc  func() time.Time
}

func NewRunner(store *Store, queue Queue, log logrus.FieldLogger) *Runner {
	return &Runner{
		store:    store,
		queue:    queue,
		handlers: map[Kind]Handler{},
		log:      log,
		nowFunc:  time.Now,
	}
}

// Handle registers h for kind, replacing any previous handler.
func (r *Runner) Handle(kind Kind, h Handler) {
	r.handlers[kind] = h
}

// Run records rec and applies it once. An action id that already succeeded
// is not applied again. A retriable failure is recorded and queued, and the
// handler's error is returned so the caller can report it.
func (r *Runner) Run(ctx context.Context, rec Record) (Record, error) {
	stored, err := r.store.Create(ctx, rec)
	switch {
	case errors.Is(err, ErrExists):
		existing, err := r.store.Get(ctx, rec.ActionID)
		if err != nil {
			return rec, err
		}
		if existing == nil {
			return rec, fmt.Errorf("compensation %s vanished after create conflict", rec.ActionID)
		}
		if existing.Status == StatusSucceeded {
			return *existing, nil
		}
		stored = *existing
	case err != nil:
		return rec, err
	}

	out, err := r.execute(ctx, stored)
	if err != nil && out.Status == StatusFailed && !errors.Is(err, ErrPermanent) {
		r.enqueue(ctx, out)
	}
	return out, err
}

// Retry re-applies a recorded action. Succeeded records are left alone.
func (r *Runner) Retry(ctx context.Context, actionID string) (Record, error) {
	rec, err := r.store.Get(ctx, actionID)
	if err != nil {
		return Record{}, err
	}
	if rec == nil {
		return Record{}, fmt.Errorf("%s: %w", actionID, ErrUnknownAction)
	}
	if rec.Status == StatusSucceeded {
		return *rec, nil
	}
	return r.execute(ctx, *rec)
}

func (r *Runner) execute(ctx context.Context, rec Record) (Record, error) {
	log := r.log.WithFields(logrus.Fields{
		"action_id":    rec.ActionID,
		"kind":         rec.Kind,
		"order_number": rec.OrderNumber,
		"attempt":      rec.Attempts + 1,
	})

	var herr error
	if h, ok := r.handlers[rec.Kind]; ok {
		herr = h(ctx, rec)
	} else {
		herr = fmt.Errorf("no handler for %s: %w", rec.Kind, ErrPermanent)
	}

	if herr == nil {
		done, err := r.finish(ctx, rec)
		if err != nil {
			log.WithError(err).Error("compensation applied but record not updated")
			metrics.Compensations.WithLabelValues(string(rec.Kind), "unrecorded").Inc()
			return done, err
		}
		metrics.Compensations.WithLabelValues(string(rec.Kind), "succeeded").Inc()
		log.Info("compensation succeeded")
		return done, nil
	}

	failed := rec.failed(r.nowFunc(), herr)
	if err := r.store.Update(ctx, failed, rec.Version); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			if current, gerr := r.store.Get(ctx, rec.ActionID); gerr == nil && current != nil && current.Status == StatusSucceeded {
				return *current, nil
			}
		}
		log.WithError(err).Error("record compensation failure")
	}
	metrics.Compensations.WithLabelValues(string(rec.Kind), "failed").Inc()
	log.WithError(herr).Warn("compensation failed")
	return failed, herr
}

// finish marks rec succeeded unless the handler already did.
func (r *Runner) finish(ctx context.Context, rec Record) (Record, error) {
	done := rec.Succeeded(r.nowFunc())
	err := r.store.Update(ctx, done, rec.Version)
	if err == nil {
		return done, nil
	}
	if !errors.Is(err, ErrVersionConflict) {
		return rec, err
	}
	current, gerr := r.store.Get(ctx, rec.ActionID)
	if gerr != nil {
		return rec, gerr
	}
	if current != nil && current.Status == StatusSucceeded {
		return *current, nil
	}
	return rec, err
}

func (r *Runner) enqueue(ctx context.Context, rec Record) {
	if r.queue == nil {
		return
	}
	body, err := json.Marshal(RetryMessage{ActionID: rec.ActionID})
	if err != nil {
		r.log.WithError(err).Error("marshal compensation retry")
		return
	}
	attrs := map[string]string{"kind": string(rec.Kind), "order_number": rec.OrderNumber}
	if err := r.queue.SendMessage(ctx, string(body), attrs); err != nil {
		r.log.WithError(err).WithField("action_id", rec.ActionID).Error("enqueue compensation retry")
	}
}
