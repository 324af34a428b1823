package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueue_RunsSubmittedTasks(t *testing.T) {
	q := NewQueue(Config{Size: 16, Workers: 3, TaskTimeout: time.Second}, testLogger())
	q.Start()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		ok := q.Submit(Task{Name: "count", Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}})
		require.True(t, ok)
	}
	q.Stop()

	assert.Equal(t, int32(10), ran.Load())
	assert.Equal(t, int64(10), q.Stats().Completed)
}

func TestQueue_DropsOldestWhenFull(t *testing.T) {
	q := NewQueue(Config{Size: 2, Workers: 1, TaskTimeout: time.Second}, testLogger())

	var (
		mu  sync.Mutex
		ran []string
	)
	record := func(name string) Task {
		return Task{Name: name, Run: func(ctx context.Context) error {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			return nil
		}}
	}

	// Workers are not running yet, so the third submit overflows.
	q.Submit(record("a"))
	q.Submit(record("b"))
	q.Submit(record("c"))
	assert.Equal(t, int64(1), q.Stats().Dropped)

	q.Start()
	q.Stop()

	assert.Equal(t, []string{"b", "c"}, ran)
}

func TestQueue_FailuresAreCountedNotPropagated(t *testing.T) {
	q := NewQueue(Config{Size: 4, Workers: 1, TaskTimeout: time.Second}, testLogger())
	q.Start()

	q.Submit(Task{Name: "fails", Run: func(ctx context.Context) error { return errors.New("store unavailable") }})
	q.Submit(Task{Name: "panics", Run: func(ctx context.Context) error { panic("bad task") }})
	q.Submit(Task{Name: "works", Run: func(ctx context.Context) error { return nil }})
	q.Stop()

	stats := q.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestQueue_TaskContextHasTimeout(t *testing.T) {
	q := NewQueue(Config{Size: 1, Workers: 1, TaskTimeout: 20 * time.Millisecond}, testLogger())
	q.Start()

	var gotErr atomic.Value
	q.Submit(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		gotErr.Store(ctx.Err())
		return ctx.Err()
	}})
	q.Stop()

	assert.Equal(t, context.DeadlineExceeded, gotErr.Load())
}

func TestQueue_SubmitAfterStopIsRejected(t *testing.T) {
	q := NewQueue(DefaultConfig(), testLogger())
	q.Start()
	q.Stop()

	ok := q.Submit(Task{Name: "late", Run: func(ctx context.Context) error { return nil }})
	assert.False(t, ok)
	assert.Equal(t, int64(1), q.Stats().Dropped)

	select {
	case <-q.Done():
	default:
		t.Fatal("Done() not closed after Stop()")
	}

	// second Stop is a no-op
	q.Stop()
}
