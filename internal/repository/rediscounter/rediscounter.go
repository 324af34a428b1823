// Package rediscounter keeps view and reply counters in Redis instead of the
// primary store. INCRBY is atomic on the server, so concurrent increments
// from several processes never lose updates.
package rediscounter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/threadboard/internal/model"
	"github.com/sakif/threadboard/internal/repository"
)

var _ repository.CounterRepository = (*Counters)(nil)

type Options struct {
	Addr     string
	Password string
	DB       int
}

type Counters struct {
	client *redis.Client
}

// New dials Redis and pings it once so a bad address fails at startup.
func New(ctx context.Context, opts Options) (*Counters, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("rediscounter: ping %s: %w", opts.Addr, err)
	}
	return &Counters{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Counters {
	return &Counters{client: client}
}

// Key is the Redis key holding one counter value, e.g. "counter:thread_views:42".
func Key(counter model.Counter, id int64) string {
	return "counter:" + string(counter) + ":" + strconv.FormatInt(id, 10)
}

func (c *Counters) IncrementCounter(ctx context.Context, counter model.Counter, id int64, delta int64) error {
	if !counter.Valid() {
		return fmt.Errorf("rediscounter: unknown counter %q", counter)
	}
	if err := c.client.IncrBy(ctx, Key(counter, id), delta).Err(); err != nil {
		return fmt.Errorf("rediscounter: incrementing %s for %d: %w", counter, id, err)
	}
	return nil
}

func (c *Counters) GetCounter(ctx context.Context, counter model.Counter, id int64) (int64, bool, error) {
	if !counter.Valid() {
		return 0, false, fmt.Errorf("rediscounter: unknown counter %q", counter)
	}
	v, err := c.client.Get(ctx, Key(counter, id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("rediscounter: reading %s for %d: %w", counter, id, err)
	}
	return v, true, nil
}

func (c *Counters) Close() error {
	return c.client.Close()
}
