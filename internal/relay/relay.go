// Package relay streams task state to a waiting client.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/yokitheyo/diagramq/internal/model"
	"github.com/yokitheyo/diagramq/internal/store"
)

var ErrStoreUnavailable = errors.New("relay gave up on task store")

const (
	DefaultInterval      = 500 * time.Millisecond
	DefaultMaxFailures   = 10
	DefaultNotFoundLimit = 3

	waitingMessage = "waiting for a worker"
)

// Snapshot is what a client sees of a task at one point in time.
type Snapshot struct {
	TaskID        string           `json:"task_id"`
	Status        model.TaskStatus `json:"status"`
	Percent       int              `json:"percent"`
	Message       string           `json:"message"`
	PartialResult string           `json:"partial_result"`
	Result        *string          `json:"result"`
}

func FromTask(t model.Task) Snapshot {
	if t.Status == model.StatusPending {
		return waiting(t.ID)
	}
	return Snapshot{
		TaskID:        t.ID,
		Status:        t.Status,
		Percent:       t.Percent,
		Message:       t.Message,
		PartialResult: t.PartialResult,
		Result:        t.Result,
	}
}

func (s Snapshot) Terminal() bool {
	return s.Status.IsTerminal()
}

func (s Snapshot) equal(o Snapshot) bool {
	if s.TaskID != o.TaskID || s.Status != o.Status || s.Percent != o.Percent ||
		s.Message != o.Message || s.PartialResult != o.PartialResult {
		return false
	}
	if s.Result == nil || o.Result == nil {
		return s.Result == o.Result
	}
	return *s.Result == *o.Result
}

func waiting(id string) Snapshot {
	return Snapshot{TaskID: id, Status: model.StatusPending, Message: waitingMessage}
}

func fault(id string, percent int, reason string) Snapshot {
	return Snapshot{TaskID: id, Status: model.StatusFailure, Percent: percent, Message: reason}
}

type Config struct {
	Interval      time.Duration
	MaxFailures   int
	NotFoundLimit int
}

// Relay polls the store for one task per Run call. It only reads: a client
// going away never affects the task.
type Relay struct {
	store  store.Reader
	cfg    Config
	logger *slog.Logger
}

func New(r store.Reader, cfg Config, logger *slog.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.NotFoundLimit <= 0 {
		cfg.NotFoundLimit = DefaultNotFoundLimit
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Relay{store: r, cfg: cfg, logger: logger}
}

// Run sends a snapshot whenever the task changes and returns nil after the
// terminal one. It also returns nil when ctx is done or send fails, both of
// which mean the client is gone.
func (r *Relay) Run(ctx context.Context, taskID string, send func(Snapshot) error) error {
	log := r.logger.With("task_id", taskID)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	var (
		last     Snapshot
		sent     bool
		failures int
		missing  int
	)
	forward := func(s Snapshot) bool {
		if sent && s.equal(last) {
			return true
		}
		if err := send(s); err != nil {
			log.Debug("client gone, stopping relay", "error", err)
			return false
		}
		last, sent = s, true
		return true
	}

	for {
		task, err := r.store.Get(ctx, taskID)
		if ctx.Err() != nil {
			return nil
		}

		switch {
		case errors.Is(err, store.ErrNotFound):
			failures = 0
			missing++
			if missing >= r.cfg.NotFoundLimit {
				forward(fault(taskID, 0, store.ErrNotFound.Error()))
				return store.ErrNotFound
			}
			if !forward(waiting(taskID)) {
				return nil
			}

		case err != nil:
			missing = 0
			failures++
			log.Warn("polling task failed", "error", err, "failures", failures)
			if failures >= r.cfg.MaxFailures {
				forward(fault(taskID, last.Percent, store.ErrUnavailable.Error()))
				return fmt.Errorf("%w after %d attempts: %w", ErrStoreUnavailable, failures, err)
			}
			if !sent && !forward(waiting(taskID)) {
				return nil
			}

		default:
			failures, missing = 0, 0
			snap := FromTask(task)
			if !forward(snap) {
				return nil
			}
			if snap.Terminal() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
