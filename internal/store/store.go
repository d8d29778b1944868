// Package store keeps task records shared by the gateway, workers and relays.
//
// Writes go through Update, which applies a state machine transition to the
// current record under single-key isolation. Records in a terminal status are
// never handed to the transition: the store rejects the write itself.
package store

import (
	"context"
	"errors"

	"github.com/yokitheyo/diagramq/internal/model"
)

var (
	ErrNotFound    = errors.New("task not found")
	ErrExists      = errors.New("task already exists")
	ErrUnavailable = errors.New("task store unavailable")
)

// MutateFunc computes the next version of a task from the current one.
type MutateFunc func(model.Task) (model.Task, error)

type Store interface {
	Create(ctx context.Context, task model.Task) error
	Get(ctx context.Context, id string) (model.Task, error)
	Update(ctx context.Context, id string, fn MutateFunc) (model.Task, error)
	Ping(ctx context.Context) error
}

// Reader is the read side used by relays and result lookups.
type Reader interface {
	Get(ctx context.Context, id string) (model.Task, error)
}

func guardTerminal(current model.Task, fn MutateFunc) (model.Task, error) {
	if current.Status.IsTerminal() {
		return current, model.ErrTerminal
	}
	next, err := fn(current)
	if err != nil {
		return current, err
	}
	if next.ID != current.ID {
		return current, errors.New("mutation changed task id")
	}
	return next, nil
}
