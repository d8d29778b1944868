// Package queue routes submitted jobs to exactly one worker.
package queue

import (
	"context"
	"errors"

	"github.com/yokitheyo/diagramq/internal/model"
)

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueClosed = errors.New("job queue is closed")
)

type Queue interface {
	Enqueue(ctx context.Context, job model.Job) error
	// Dequeue blocks until a job is available, the queue is closed or ctx
	// is done.
	Dequeue(ctx context.Context) (*Delivery, error)
	Ping(ctx context.Context) error
	Close() error
}

// Delivery is one hand-off of a job to a consumer. A delivery that is never
// acknowledged may be handed out again after a consumer restart.
type Delivery struct {
	Job  model.Job
	ack  func(ctx context.Context) error
	nack func(ctx context.Context) error
}

func (d *Delivery) Ack(ctx context.Context) error {
	if d.ack == nil {
		return nil
	}
	return d.ack(ctx)
}

// Nack gives the job back to the queue so another Dequeue can pick it up.
func (d *Delivery) Nack(ctx context.Context) error {
	if d.nack == nil {
		return nil
	}
	return d.nack(ctx)
}
