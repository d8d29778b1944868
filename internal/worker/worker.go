// Package worker executes generation jobs and records their progress.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yokitheyo/diagramq/internal/engine"
	"github.com/yokitheyo/diagramq/internal/extract"
	"github.com/yokitheyo/diagramq/internal/model"
	"github.com/yokitheyo/diagramq/internal/store"
)

type Config struct {
	Policy      ProgressPolicy
	Language    string
	MaxTokens   int
	Temperature float64
}

// Worker runs one job at a time per call to Process. It holds no per-job
// state, so a single Worker may serve every goroutine of a Dispatcher.
type Worker struct {
	store    store.Store
	engine   engine.Engine
	adapter  engine.Adapter
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	newOwner func() string
}

func New(st store.Store, eng engine.Engine, adapter engine.Adapter, cfg Config, logger *slog.Logger) (*Worker, error) {
	if st == nil {
		return nil, ErrStoreNil
	}
	if eng == nil {
		return nil, ErrEngineNil
	}
	if adapter == nil {
		return nil, ErrAdapterNil
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Language == "" {
		cfg.Language = extract.DefaultLanguage
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Worker{
		store:    st,
		engine:   eng,
		adapter:  adapter,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		newOwner: uuid.NewString,
	}, nil
}

// Process claims the job's task, streams generation into it and commits a
// terminal state. Generation faults end as FAILURE and are not returned;
// an error means the task record itself could not be written.
func (w *Worker) Process(ctx context.Context, job model.Job) error {
	owner := w.newOwner()
	log := w.logger.With("task_id", job.TaskID, "owner", owner)

	task, err := w.store.Update(ctx, job.TaskID, func(t model.Task) (model.Task, error) {
		claimed, err := t.Claim(owner, w.now())
		if err != nil {
			return t, err
		}
		claimed.Engine = w.adapter.Family()
		return claimed, nil
	})
	if errors.Is(err, model.ErrTerminal) {
		log.Info("task already finished, dropping redelivered job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim task %s: %w", job.TaskID, err)
	}
	if task.Attempt > 1 {
		log.Warn("task redelivered, restarting generation", "attempt", task.Attempt)
	}
	log.Info("task started", "mode", job.Input.Mode, "engine", task.Engine)

	if !w.engine.Ready(ctx) {
		log.Error("engine not ready")
		return w.fail(ctx, log, job.TaskID, owner, engine.ErrUnavailable.Error())
	}

	raw, err := w.generate(ctx, job, owner, task.Percent)

	// terminal writes must land even when the job context is being torn down
	commitCtx := context.WithoutCancel(ctx)
	var writeErr *progressWriteError
	switch {
	case err != nil && ctx.Err() != nil:
		return w.fail(commitCtx, log, job.TaskID, owner, "generation cancelled: "+ctx.Err().Error())
	case errors.As(err, &writeErr):
		log.Error("progress write failed, abandoning job", "error", writeErr.err)
		if !errors.Is(writeErr.err, model.ErrNotOwner) {
			_ = w.fail(commitCtx, log, job.TaskID, owner, writeErr.Error())
		}
		return fmt.Errorf("task %s: %w", job.TaskID, writeErr)
	case err != nil:
		log.Warn("generation failed", "error", err)
		return w.fail(commitCtx, log, job.TaskID, owner, err.Error())
	}

	diagram := extract.Extract(w.adapter.Clean(raw), w.cfg.Language)
	_, err = w.store.Update(commitCtx, job.TaskID, func(t model.Task) (model.Task, error) {
		return t.Finish(owner, model.StatusSuccess, diagram, w.now())
	})
	if err != nil {
		return fmt.Errorf("commit result of task %s: %w", job.TaskID, err)
	}
	log.Info("task completed", "raw_chars", len(raw), "diagram_chars", len(diagram))
	return nil
}

// generate runs the engine in its own goroutine and drains its fragments,
// writing a PROGRESS snapshot every Policy.Every fragments. baseline is the
// task's current percent, which later snapshots never go below.
func (w *Worker) generate(ctx context.Context, job model.Job, owner string, baseline int) (string, error) {
	messages := buildMessages(job.Input)
	req := engine.Request{
		Prompt:      w.adapter.Render(messages),
		Messages:    messages,
		MaxTokens:   w.cfg.MaxTokens,
		Temperature: w.cfg.Temperature,
	}

	stream := newFragmentStream()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stream.Close(w.engine.Generate(gctx, req, stream.Push))
		return nil
	})

	var acc strings.Builder
	g.Go(func() error {
		count, last := 0, baseline
		for {
			fragment, err := stream.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}

			acc.WriteString(fragment)
			count++
			if !w.cfg.Policy.Due(count) {
				continue
			}

			percent := max(w.cfg.Policy.Percent(count), last)
			progress := model.Progress{
				Percent: percent,
				Message: fmt.Sprintf("generating... (%d fragments)", count),
				Partial: acc.String(),
			}
			_, err = w.store.Update(gctx, job.TaskID, func(t model.Task) (model.Task, error) {
				return t.Advance(owner, progress, w.now())
			})
			if err != nil {
				return &progressWriteError{err: err}
			}
			last = percent
		}
	})

	err := g.Wait()
	return acc.String(), err
}

func (w *Worker) fail(ctx context.Context, log *slog.Logger, id, owner, reason string) error {
	_, err := w.store.Update(ctx, id, func(t model.Task) (model.Task, error) {
		return t.Finish(owner, model.StatusFailure, reason, w.now())
	})
	if err != nil {
		log.Error("could not record failure", "reason", reason, "error", err)
		return fmt.Errorf("record failure of task %s: %w", id, err)
	}
	log.Info("task failed", "reason", reason)
	return nil
}
