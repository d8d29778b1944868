// Package engine describes the generation engine the worker drives and
// ships the prompt adapters and HTTP client used in production.
package engine

import (
	"context"
	"errors"
	"fmt"
)

var ErrUnavailable = errors.New("generation engine unavailable")

// Message represents a chat message.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Request is one generation call. Prompt is the adapter-rendered form of
// Messages; engines that apply their own chat template may use Messages.
type Request struct {
	Prompt      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Engine produces text as a finite stream of fragments. Generate calls emit
// for every fragment in order and returns when generation ends; a non-nil
// error means generation faulted. If emit returns an error Generate stops
// and returns it.
type Engine interface {
	Ready(ctx context.Context) bool
	Generate(ctx context.Context, req Request, emit func(fragment string) error) error
}

// GenerationError is a fault reported by the engine itself.
type GenerationError struct {
	Engine  string
	Message string
}

func (e GenerationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Engine, e.Message)
}
