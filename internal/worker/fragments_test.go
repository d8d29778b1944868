package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentStream_DeliversInOrderThenEOF(t *testing.T) {
	s := newFragmentStream()
	ctx := context.Background()

	go func() {
		for _, f := range []string{"a", "b", "c"} {
			_ = s.Push(f)
		}
		s.Close(nil)
	}()

	var got []string
	for {
		f, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, f)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestFragmentStream_BufferedFragmentsBeforeFault(t *testing.T) {
	s := newFragmentStream()
	fault := errors.New("device lost")

	require.NoError(t, s.Push("a"))
	s.Close(fault)
	s.Close(nil)

	assert.ErrorIs(t, s.Push("late"), errStreamClosed)

	f, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", f)

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, fault)
}

func TestFragmentStream_ProducerNeverBlocks(t *testing.T) {
	s := newFragmentStream()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			_ = s.Push("x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer blocked without a consumer")
	}
}

func TestFragmentStream_NextHonoursContext(t *testing.T) {
	s := newFragmentStream()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProgressPolicy(t *testing.T) {
	p := DefaultPolicy("gemma")
	require.NoError(t, p.Validate())

	assert.False(t, p.Due(0))
	assert.False(t, p.Due(4))
	assert.True(t, p.Due(5))

	assert.Equal(t, 10, p.Percent(0))
	assert.Equal(t, 13, p.Percent(9))
	assert.Equal(t, 95, p.Percent(10000))

	prev := 0
	for n := 0; n < 1000; n++ {
		got := p.Percent(n)
		assert.GreaterOrEqual(t, got, prev)
		assert.Less(t, got, 100)
		prev = got
	}

	llama := DefaultPolicy("llama32")
	assert.Equal(t, 8, llama.Every)
	assert.Equal(t, 98, llama.Percent(10000))

	assert.Equal(t, DefaultPolicy("gemma"), DefaultPolicy("unknown"))

	assert.Error(t, ProgressPolicy{Every: 1, Divisor: 1, Ceiling: 100}.Validate())
	assert.Error(t, ProgressPolicy{Every: 0, Divisor: 1, Ceiling: 90}.Validate())
	assert.Error(t, ProgressPolicy{Every: 1, Divisor: 0, Ceiling: 90}.Validate())
	assert.Error(t, ProgressPolicy{Every: 1, Divisor: 1, Floor: 95, Ceiling: 90}.Validate())
}
