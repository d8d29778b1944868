// Package taskmgr accepts diagram requests and hands them to the job queue.
package taskmgr

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yokitheyo/diagramq/internal/model"
	"github.com/yokitheyo/diagramq/internal/queue"
	"github.com/yokitheyo/diagramq/internal/store"
)

type TaskManager struct {
	store  store.Store
	queue  queue.Queue
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewTaskManager(st store.Store, q queue.Queue, logger *slog.Logger) *TaskManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TaskManager{
		store:  st,
		queue:  q,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Submit creates a PENDING task and enqueues its job. The task is returned
// as soon as it is queued; it does not wait for a worker.
//
// If the job cannot be enqueued the task is failed on the spot and returned
// together with an error wrapping ErrEnqueue.
func (tm *TaskManager) Submit(ctx context.Context, text, mode string) (model.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Task{}, ErrEmptyInput
	}
	m, err := model.ParseMode(mode)
	if err != nil {
		return model.Task{}, fmt.Errorf("%w: %v", ErrInvalidMode, err)
	}

	now := tm.now()
	task := model.NewTask(tm.newID(), model.Input{Text: text, Mode: m}, now)
	if err := tm.store.Create(ctx, task); err != nil {
		return model.Task{}, fmt.Errorf("create task: %w", err)
	}

	log := tm.logger.With("task_id", task.ID)
	job := model.Job{TaskID: task.ID, Input: task.Input, EnqueuedAt: now}
	if err := tm.queue.Enqueue(ctx, job); err != nil {
		log.Error("enqueue failed", "error", err)
		failed, abandonErr := tm.store.Update(context.WithoutCancel(ctx), task.ID, func(t model.Task) (model.Task, error) {
			return t.Abandon("enqueue failed: "+err.Error(), tm.now())
		})
		if abandonErr != nil {
			log.Error("could not fail unqueued task", "error", abandonErr)
			return task, fmt.Errorf("%w: %w", ErrEnqueue, err)
		}
		return failed, fmt.Errorf("%w: %w", ErrEnqueue, err)
	}

	log.Info("task submitted", "mode", m, "input_chars", len(text))
	return task, nil
}

func (tm *TaskManager) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	task, err := tm.store.Get(ctx, taskID)
	if err != nil {
		return model.Task{}, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return task, nil
}

// Health reports whether both the task store and the job queue answer.
func (tm *TaskManager) Health(ctx context.Context) error {
	if err := tm.store.Ping(ctx); err != nil {
		return fmt.Errorf("task store: %w", err)
	}
	if err := tm.queue.Ping(ctx); err != nil {
		return fmt.Errorf("job queue: %w", err)
	}
	return nil
}

var (
	ErrEmptyInput   = fmt.Errorf("input text is empty")
	ErrInvalidMode  = fmt.Errorf("invalid mode")
	ErrEnqueue      = fmt.Errorf("could not enqueue task")
	ErrTaskNotFound = store.ErrNotFound
)
