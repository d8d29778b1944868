package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/yokitheyo/diagramq/internal/model"
	"github.com/yokitheyo/diagramq/internal/queue"
	"github.com/yokitheyo/diagramq/internal/store"
)

const dequeueRetryDelay = time.Second

type Processor interface {
	Process(ctx context.Context, job model.Job) error
}

// Dispatcher runs a fixed pool of goroutines that pull jobs off the queue
// and hand each one to the Processor.
type Dispatcher struct {
	queue   queue.Queue
	proc    Processor
	workers int
	backoff time.Duration
	logger  *slog.Logger

	wg        sync.WaitGroup
	startOnce sync.Once
	stop      context.CancelFunc
	abort     context.CancelFunc
}

func NewDispatcher(q queue.Queue, proc Processor, workers int, logger *slog.Logger) (*Dispatcher, error) {
	if q == nil {
		return nil, ErrQueueNil
	}
	if proc == nil {
		return nil, errors.New("processor is nil")
	}
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		queue:   q,
		proc:    proc,
		workers: workers,
		backoff: dequeueRetryDelay,
		logger:  logger,
	}, nil
}

// Start launches the pool. Jobs run on a context detached from ctx so that
// cancelling ctx only stops dequeuing; in-flight jobs are ended by Shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		dequeueCtx, stop := context.WithCancel(ctx)
		jobCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
		d.stop, d.abort = stop, abort

		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.loop(dequeueCtx, jobCtx, i)
		}
		d.logger.Info("dispatcher started", "workers", d.workers)
	})
}

func (d *Dispatcher) loop(dequeueCtx, jobCtx context.Context, n int) {
	defer d.wg.Done()
	log := d.logger.With("worker", n)

	for {
		delivery, err := d.queue.Dequeue(dequeueCtx)
		if err != nil {
			if dequeueCtx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			log.Error("dequeue failed", "error", err)
			select {
			case <-dequeueCtx.Done():
				return
			case <-time.After(dequeueRetryDelay):
			}
			continue
		}

		err = d.proc.Process(jobCtx, delivery.Job)
		if errors.Is(err, store.ErrUnavailable) {
			log.Warn("task store unavailable, requeueing job", "task_id", delivery.Job.TaskID, "error", err)
			d.requeue(jobCtx, log, delivery)
			continue
		}
		if err != nil {
			log.Error("job failed", "task_id", delivery.Job.TaskID, "error", err)
		}
		if err := delivery.Ack(context.WithoutCancel(jobCtx)); err != nil {
			log.Warn("ack failed, job may be redelivered", "task_id", delivery.Job.TaskID, "error", err)
		}
	}
}

// requeue hands the job back after a backoff. A job that cannot be handed
// back stays unacknowledged, so a Redis queue recovers it on restart.
func (d *Dispatcher) requeue(ctx context.Context, log *slog.Logger, delivery *queue.Delivery) {
	select {
	case <-ctx.Done():
	case <-time.After(d.backoff):
	}
	if err := delivery.Nack(context.WithoutCancel(ctx)); err != nil {
		log.Error("requeue failed", "task_id", delivery.Job.TaskID, "error", err)
	}
}

// Shutdown closes the queue and waits for the pool to drain. If ctx ends
// first, in-flight jobs are cancelled and ctx.Err() is returned once every
// goroutine has exited.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if err := d.queue.Close(); err != nil {
		d.logger.Warn("closing queue", "error", err)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelAll()
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn("shutdown deadline reached, cancelling in-flight jobs")
		d.cancelAll()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) cancelAll() {
	if d.stop != nil {
		d.stop()
	}
	if d.abort != nil {
		d.abort()
	}
}
