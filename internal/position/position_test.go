package position

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/model"
	"github.com/sakif/threadboard/internal/repository/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =========================================================================
// PAGE MATH
// =========================================================================

func TestPageForPosition(t *testing.T) {
	tests := []struct {
		pos  int64
		want int64
	}{
		{-5, 1}, {0, 1}, {1, 1}, {20, 1}, {21, 2}, {40, 2}, {41, 3}, {400, 20}, {401, 21},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PageForPosition(tt.pos), "PageForPosition(%d)", tt.pos)
	}
}

func TestPageForPosition_MonotonicAndAgreesWithCount(t *testing.T) {
	prev := PageForPosition(1)
	assert.Equal(t, int64(1), prev)
	for n := int64(1); n <= 500; n++ {
		page := PageForPosition(n)
		assert.GreaterOrEqual(t, page, prev)
		assert.Equal(t, page, PagesForCount(n))
		prev = page
	}
}

func TestPagesForCount_MinimumOne(t *testing.T) {
	assert.Equal(t, int64(1), PagesForCount(0))
	assert.Equal(t, int64(2), PagesForCount(25))
}

func TestPageBounds(t *testing.T) {
	low, high := PageBounds(1)
	assert.Equal(t, int64(1), low)
	assert.Equal(t, int64(20), high)

	low, high = PageBounds(2)
	assert.Equal(t, int64(21), low)
	assert.Equal(t, int64(40), high)

	low, _ = PageBounds(0)
	assert.Equal(t, int64(1), low)
}

// =========================================================================
// APPEND
// =========================================================================

func TestAppendPost_SequentialIsGapFree(t *testing.T) {
	store := memory.New()
	a := NewAssigner(store, store, testLogger())
	ctx := context.Background()

	const n = 26
	for i := int64(1); i <= n; i++ {
		pos, err := a.AppendPost(ctx, &model.Post{ID: 1000 + i, ThreadID: 7})
		require.NoError(t, err)
		assert.Equal(t, i, pos)
	}

	got, err := a.PositionsInRange(ctx, 7, 1, n)
	require.NoError(t, err)
	require.Len(t, got, n)
	for i := int64(1); i <= n; i++ {
		assert.Equal(t, 1000+i, got[i], "position %d", i)
	}

	count, err := a.Count(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(n), count)

	page2, err := a.Page(ctx, 7, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 6)
	for pos := range page2 {
		assert.True(t, pos >= 21 && pos <= 26, "unexpected position %d on page 2", pos)
	}

	// the post rows exist
	p, err := store.GetPost(ctx, 1026)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.ThreadID)
}

func TestAppendPost_ConcurrentAppendersGetDistinctPositions(t *testing.T) {
	store := memory.New()
	a := NewAssigner(store, store, testLogger()).WithMaxAttempts(64)
	ctx := context.Background()

	const writers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		positions []int64
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(postID int64) {
			defer wg.Done()
			pos, err := a.AppendPost(ctx, &model.Post{ID: postID, ThreadID: 9})
			if err != nil {
				t.Errorf("AppendPost() error = %v", err)
				return
			}
			mu.Lock()
			positions = append(positions, pos)
			mu.Unlock()
		}(int64(i + 1))
	}
	wg.Wait()

	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	want := make([]int64, writers)
	for i := range want {
		want[i] = int64(i + 1)
	}
	assert.Equal(t, want, positions)
}

// stuckPositions always reports a max of zero and loses every claim.
type stuckPositions struct {
	claims int
}

func (s *stuckPositions) MaxPosition(ctx context.Context, threadID int64) (int64, error) {
	return 0, nil
}

func (s *stuckPositions) ClaimPosition(ctx context.Context, threadID, position, postID int64) (bool, error) {
	s.claims++
	return false, nil
}

func (s *stuckPositions) PositionsInRange(ctx context.Context, threadID, low, high int64) ([]model.PostPosition, error) {
	return nil, nil
}

func TestAppendPost_GivesUpWithConflict(t *testing.T) {
	positions := &stuckPositions{}
	a := NewAssigner(positions, memory.New(), testLogger()).WithMaxAttempts(3)

	_, err := a.AppendPost(context.Background(), &model.Post{ID: 1, ThreadID: 1})

	assert.True(t, errors.Is(err, apperror.ErrConflict), "error = %v", err)
	assert.Equal(t, 3, positions.claims)
}

// lossyPosts fails every post write.
type lossyPosts struct{}

func (l *lossyPosts) GetPost(ctx context.Context, id int64) (*model.Post, error) {
	return nil, apperror.NotFound("post", "lost")
}

func (l *lossyPosts) CreatePost(ctx context.Context, post *model.Post) error {
	return errors.New("write timeout")
}

func TestAppendPost_PostWriteFailureLeavesDanglingSlot(t *testing.T) {
	store := memory.New()
	a := NewAssigner(store, &lossyPosts{}, testLogger())
	ctx := context.Background()

	_, err := a.AppendPost(ctx, &model.Post{ID: 50, ThreadID: 3})
	require.Error(t, err)

	// The slot stays claimed, so the next append moves on.
	pos, err := NewAssigner(store, store, testLogger()).AppendPost(ctx, &model.Post{ID: 51, ThreadID: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos)

	_, err = store.GetPost(ctx, 50)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestPositionsInRange_EmptyWindow(t *testing.T) {
	store := memory.New()
	a := NewAssigner(store, store, testLogger())

	got, err := a.PositionsInRange(context.Background(), 1, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
