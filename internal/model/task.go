package model

import (
	"fmt"
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusPending  TaskStatus = "PENDING"
	StatusStarted  TaskStatus = "STARTED"
	StatusProgress TaskStatus = "PROGRESS"
	StatusSuccess  TaskStatus = "SUCCESS"
	StatusFailure  TaskStatus = "FAILURE"
)

// IsTerminal reports whether no further transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// IsRunning reports whether a worker currently owns the task.
func (s TaskStatus) IsRunning() bool {
	return s == StatusStarted || s == StatusProgress
}

type Mode string

const (
	ModeGenerate Mode = "generate"
	ModeFix      Mode = "fix"
)

// ParseMode maps a request mode to a Mode. Empty means generate.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeGenerate:
		return ModeGenerate, nil
	case ModeFix:
		return ModeFix, nil
	default:
		return "", fmt.Errorf("unknown mode %q", raw)
	}
}

type Input struct {
	Text string `json:"text"`
	Mode Mode   `json:"mode"`
}

type Task struct {
	ID            string     `json:"id"`
	Input         Input      `json:"input"`
	Status        TaskStatus `json:"status"`
	Percent       int        `json:"percent"`
	Message       string     `json:"message,omitempty"`
	PartialResult string     `json:"partial_result,omitempty"`
	Result        *string    `json:"result,omitempty"`
	Engine        string     `json:"engine,omitempty"`
	Owner         string     `json:"owner,omitempty"`
	Attempt       int        `json:"attempt"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// NewTask returns a PENDING task for the given input.
func NewTask(id string, input Input, now time.Time) Task {
	return Task{
		ID:        id,
		Input:     input,
		Status:    StatusPending,
		Message:   "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Job is the queue payload routed to a worker.
type Job struct {
	TaskID     string    `json:"task_id"`
	Input      Input     `json:"input"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Progress is one snapshot written by the owning worker.
type Progress struct {
	Percent int
	Message string
	Partial string
}
