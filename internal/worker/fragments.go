package worker

import (
	"context"
	"errors"
	"io"
	"sync"
)

var errStreamClosed = errors.New("fragment stream closed")

// fragmentStream is an unbounded single-producer/single-consumer queue of
// generated fragments. The producer never blocks on a slow consumer.
type fragmentStream struct {
	mu     sync.Mutex
	buf    []string
	closed bool
	err    error
	ready  chan struct{}
}

func newFragmentStream() *fragmentStream {
	return &fragmentStream{ready: make(chan struct{}, 1)}
}

func (s *fragmentStream) Push(fragment string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errStreamClosed
	}
	s.buf = append(s.buf, fragment)
	s.mu.Unlock()

	s.notify()
	return nil
}

// Close ends the stream. A nil err means generation finished normally.
// Only the first call has an effect.
func (s *fragmentStream) Close(err error) {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.err = err
	}
	s.mu.Unlock()

	s.notify()
}

// Next returns the next fragment, io.EOF after a clean close, or the error
// the stream was closed with once all buffered fragments are consumed.
func (s *fragmentStream) Next(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			fragment := s.buf[0]
			s.buf[0] = ""
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return fragment, nil
		}
		if s.closed {
			err := s.err
			s.mu.Unlock()
			if err == nil {
				return "", io.EOF
			}
			return "", err
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.ready:
		}
	}
}

func (s *fragmentStream) notify() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
