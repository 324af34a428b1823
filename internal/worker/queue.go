// Package worker runs best-effort side effects (counter bumps, session
// touches) off the request path.
//
// QUEUE SEMANTICS:
//   - Submit never blocks. When the buffer is full the oldest queued task is
//     discarded to make room, so under sustained overload the queue holds the
//     most recent work.
//   - A fixed number of workers drain the buffer. Each task runs with its own
//     timeout and a context detached from the request that produced it.
//   - A failing task is logged and forgotten. Nothing is retried.
//   - Stop refuses new work, lets the workers finish what is already queued,
//     then returns.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type Config struct {
	Size        int
	Workers     int
	TaskTimeout time.Duration
}

// DefaultConfig matches the QUEUE_SIZE / QUEUE_WORKERS defaults.
func DefaultConfig() Config {
	return Config{Size: 1024, Workers: 4, TaskTimeout: 5 * time.Second}
}

// Queue is a bounded drop-oldest task queue.
type Queue struct {
	config Config
	logger *slog.Logger
	tasks  chan Task
	done   chan struct{}
	wg     sync.WaitGroup

	// mu serializes producers against Stop so nothing is sent on a closed channel.
	mu      sync.RWMutex
	stopped bool

	startOnce sync.Once
	stopOnce  sync.Once

	dropped   atomic.Int64
	failed    atomic.Int64
	completed atomic.Int64
}

// NewQueue creates a queue. Call Start before submitting work.
func NewQueue(cfg Config, logger *slog.Logger) *Queue {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}
	return &Queue{
		config: cfg,
		logger: logger,
		tasks:  make(chan Task, cfg.Size),
		done:   make(chan struct{}),
	}
}

// Start launches the workers.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		q.logger.Info("starting background queue",
			slog.Int("size", q.config.Size),
			slog.Int("workers", q.config.Workers),
		)
		for i := 0; i < q.config.Workers; i++ {
			q.wg.Add(1)
			go q.work()
		}
	})
}

// Submit enqueues t without blocking. It reports false if t was rejected
// because the queue is stopped.
func (q *Queue) Submit(t Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		q.dropped.Add(1)
		q.logger.Warn("background task rejected after stop", slog.String("task", t.Name))
		return false
	}

	for {
		select {
		case q.tasks <- t:
			return true
		default:
		}

		// Full. Evict the oldest task and try again.
		select {
		case old := <-q.tasks:
			q.dropped.Add(1)
			q.logger.Warn("background queue full, dropping oldest task",
				slog.String("dropped", old.Name),
			)
		default:
			// A worker emptied a slot between the two selects.
		}
	}
}

// Stop drains queued tasks and waits for the workers to exit.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		close(q.tasks)
		q.mu.Unlock()

		q.logger.Info("stopping background queue", slog.Int("pending", len(q.tasks)))
		q.wg.Wait()
		close(q.done)

		q.logger.Info("background queue stopped",
			slog.Int64("completed", q.completed.Load()),
			slog.Int64("failed", q.failed.Load()),
			slog.Int64("dropped", q.dropped.Load()),
		)
	})
}

// Done is closed once Stop has drained the queue.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Stats is a point-in-time view of the queue counters.
type Stats struct {
	Pending   int
	Completed int64
	Failed    int64
	Dropped   int64
}

func (q *Queue) Stats() Stats {
	return Stats{
		Pending:   len(q.tasks),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
	}
}

func (q *Queue) work() {
	defer q.wg.Done()
	for t := range q.tasks {
		q.run(t)
	}
}

func (q *Queue) run(t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), q.config.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.logger.Error("background task panicked",
				slog.String("task", t.Name),
				slog.Any("panic", r),
			)
		}
	}()

	if err := t.Run(ctx); err != nil {
		q.failed.Add(1)
		q.logger.Error("background task failed",
			slog.String("task", t.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	q.completed.Add(1)
}
