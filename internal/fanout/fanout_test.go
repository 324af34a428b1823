package fanout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/threadboard/internal/apperror"
)

func TestFetchMany_EmptyKeysMakesNoCalls(t *testing.T) {
	var calls atomic.Int32
	got, err := FetchMany(context.Background(), nil, func(ctx context.Context, k int64) (string, bool, error) {
		calls.Add(1)
		return "", true, nil
	})

	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Zero(t, calls.Load())
}

func TestFetchMany_AbsentKeysAreOmitted(t *testing.T) {
	rows := map[int64]string{1: "one"}

	got, err := FetchMany(context.Background(), []int64{1, 2}, func(ctx context.Context, k int64) (string, bool, error) {
		v, ok := rows[k]
		return v, ok, nil
	})

	require.NoError(t, err)
	assert.Equal(t, map[int64]string{1: "one"}, got)
}

func TestFetchMany_DeduplicatesKeys(t *testing.T) {
	var calls atomic.Int32
	got, err := FetchMany(context.Background(), []int64{5, 5, 6, 5}, func(ctx context.Context, k int64) (int64, bool, error) {
		calls.Add(1)
		return k * 10, true, nil
	})

	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{5: 50, 6: 60}, got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchMany_FailsWholeCallOnError(t *testing.T) {
	storeErr := errors.New("read timeout")

	got, err := FetchMany(context.Background(), []int64{1, 2, 3}, func(ctx context.Context, k int64) (int64, bool, error) {
		if k == 2 {
			return 0, false, storeErr
		}
		return k, true, nil
	})

	assert.Nil(t, got)
	assert.ErrorIs(t, err, storeErr)
}

func TestFetchMany_RunsLookupsConcurrently(t *testing.T) {
	const n = 10
	var (
		wg      sync.WaitGroup
		release = make(chan struct{})
	)
	wg.Add(n)

	go func() {
		// every lookup must be in flight before any of them returns
		wg.Wait()
		close(release)
	}()

	keys := make([]int, n)
	for i := range keys {
		keys[i] = i
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := FetchMany(ctx, keys, func(ctx context.Context, k int) (int, bool, error) {
		wg.Done()
		select {
		case <-release:
			return k, true, nil
		case <-ctx.Done():
			return 0, false, ctx.Err()
		}
	})

	require.NoError(t, err)
	assert.Len(t, got, n)
}

func TestOptional(t *testing.T) {
	get := func(ctx context.Context, k string) (int, error) {
		switch k {
		case "present":
			return 1, nil
		case "missing":
			return 0, apperror.NotFound("thing", k)
		default:
			return 0, errors.New("boom")
		}
	}
	lookup := Optional(get)

	v, found, err := lookup(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, v)

	_, found, err = lookup(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = lookup(context.Background(), "broken")
	assert.EqualError(t, err, "boom")
}

func TestValues_KeepsKeyOrder(t *testing.T) {
	m := map[int]string{3: "c", 1: "a"}
	assert.Equal(t, []string{"c", "a"}, Values(m, []int{3, 2, 1}))
}
