// Package counter keeps approximate per-entity tallies such as thread views
// and reply counts.
//
// Increments are fire-and-forget: they are handed to the background queue
// and the caller never learns whether they landed. A crash between enqueue
// and write, or a full queue, loses the increment. Reads fan out one lookup
// per id and report 0 for ids that have never been counted.
package counter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sakif/threadboard/internal/fanout"
	"github.com/sakif/threadboard/internal/model"
	"github.com/sakif/threadboard/internal/repository"
	"github.com/sakif/threadboard/internal/worker"
)

// Submitter accepts background tasks. *worker.Queue implements it.
type Submitter interface {
	Submit(t worker.Task) bool
}

type Store struct {
	repo   repository.CounterRepository
	queue  Submitter
	logger *slog.Logger
}

func NewStore(repo repository.CounterRepository, queue Submitter, logger *slog.Logger) *Store {
	return &Store{repo: repo, queue: queue, logger: logger}
}

// Increment schedules a +1 for id on counter and returns immediately.
func (s *Store) Increment(counter model.Counter, id int64) {
	s.Add(counter, id, 1)
}

// Add schedules a +delta for id on counter and returns immediately.
func (s *Store) Add(counter model.Counter, id int64, delta int64) {
	if !counter.Valid() {
		s.logger.Error("ignoring increment of unknown counter", slog.String("counter", string(counter)))
		return
	}

	s.queue.Submit(worker.Task{
		Name: "counter:" + string(counter) + ":" + strconv.FormatInt(id, 10),
		Run: func(ctx context.Context) error {
			return s.repo.IncrementCounter(ctx, counter, id, delta)
		},
	})
}

// Read returns the value of one counter, 0 when absent.
func (s *Store) Read(ctx context.Context, counter model.Counter, id int64) (int64, error) {
	v, _, err := s.repo.GetCounter(ctx, counter, id)
	if err != nil {
		return 0, fmt.Errorf("counter: reading %s for %d: %w", counter, id, err)
	}
	return v, nil
}

// ReadMany returns a value for every id in ids. Ids without a counter row map
// to 0; the result never lacks a requested key.
func (s *Store) ReadMany(ctx context.Context, counter model.Counter, ids []int64) (map[int64]int64, error) {
	found, err := fanout.FetchMany(ctx, ids, func(ctx context.Context, id int64) (int64, bool, error) {
		return s.repo.GetCounter(ctx, counter, id)
	})
	if err != nil {
		return nil, fmt.Errorf("counter: reading %s for %d ids: %w", counter, len(ids), err)
	}

	out := make(map[int64]int64, len(ids))
	for _, id := range ids {
		out[id] = found[id]
	}
	return out, nil
}
