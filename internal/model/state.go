package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTerminal          = fmt.Errorf("%w: task already finished", ErrInvalidTransition)
	ErrNotOwner          = fmt.Errorf("%w: task owned by another worker", ErrInvalidTransition)
	ErrPercentRegressed  = fmt.Errorf("%w: percent must not decrease", ErrInvalidTransition)
	ErrInvalidProgress   = errors.New("percent out of range")
)

// Claim hands the task to owner and moves a PENDING task to STARTED.
// A running task may be re-claimed by a new owner after a redelivery. It
// keeps its status and percent so readers never see either go backwards.
func (t Task) Claim(owner string, now time.Time) (Task, error) {
	if t.Status.IsTerminal() {
		return t, ErrTerminal
	}
	if owner == "" {
		return t, fmt.Errorf("%w: empty owner", ErrInvalidTransition)
	}
	if t.Status != StatusPending && !t.Status.IsRunning() {
		return t, fmt.Errorf("%w: cannot claim task in status %s", ErrInvalidTransition, t.Status)
	}

	if t.Status == StatusPending {
		t.Status = StatusStarted
	}
	t.Owner = owner
	t.Attempt++
	t.Message = "preparing prompt"
	t.PartialResult = ""
	t.UpdatedAt = now
	return t, nil
}

// Advance records a PROGRESS snapshot from the owning worker.
func (t Task) Advance(owner string, p Progress, now time.Time) (Task, error) {
	if err := t.checkOwned(owner); err != nil {
		return t, err
	}
	if p.Percent < 0 || p.Percent >= 100 {
		return t, fmt.Errorf("%w: %d", ErrInvalidProgress, p.Percent)
	}
	if p.Percent < t.Percent {
		return t, fmt.Errorf("%w: %d < %d", ErrPercentRegressed, p.Percent, t.Percent)
	}

	t.Status = StatusProgress
	t.Percent = p.Percent
	if p.Message != "" {
		t.Message = p.Message
	}
	t.PartialResult = p.Partial
	t.UpdatedAt = now
	return t, nil
}

// Finish moves the task to SUCCESS or FAILURE and sets its result.
func (t Task) Finish(owner string, status TaskStatus, result string, now time.Time) (Task, error) {
	if err := t.checkOwned(owner); err != nil {
		return t, err
	}
	if !status.IsTerminal() {
		return t, fmt.Errorf("%w: %s is not a terminal status", ErrInvalidTransition, status)
	}
	return t.finish(status, result, now), nil
}

// Abandon fails a task that never reached a worker.
func (t Task) Abandon(reason string, now time.Time) (Task, error) {
	if t.Status.IsTerminal() {
		return t, ErrTerminal
	}
	if t.Status != StatusPending {
		return t, fmt.Errorf("%w: cannot abandon task in status %s", ErrInvalidTransition, t.Status)
	}
	return t.finish(StatusFailure, reason, now), nil
}

func (t Task) finish(status TaskStatus, result string, now time.Time) Task {
	t.Status = status
	if status == StatusSuccess {
		t.Percent = 100
		t.Message = "completed"
	} else {
		t.Message = "failed"
	}
	t.Result = &result
	t.UpdatedAt = now
	t.FinishedAt = &now
	return t
}

func (t Task) checkOwned(owner string) error {
	if t.Status.IsTerminal() {
		return ErrTerminal
	}
	if !t.Status.IsRunning() {
		return fmt.Errorf("%w: task in status %s has not been claimed", ErrInvalidTransition, t.Status)
	}
	if t.Owner != owner {
		return ErrNotOwner
	}
	return nil
}
