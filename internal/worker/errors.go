package worker

import "errors"

var (
	ErrStoreNil   = errors.New("task store is nil")
	ErrEngineNil  = errors.New("generation engine is nil")
	ErrAdapterNil = errors.New("prompt adapter is nil")
	ErrQueueNil   = errors.New("job queue is nil")
)

// progressWriteError marks a failure to persist task state mid-generation.
// It is fatal to the job.
type progressWriteError struct {
	err error
}

func (e *progressWriteError) Error() string {
	return "write progress: " + e.err.Error()
}

func (e *progressWriteError) Unwrap() error {
	return e.err
}
