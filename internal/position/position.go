// Package position gives posts their 1-based ordinal inside a thread.
//
// The position table is the only ordering authority: a post row never
// records where it sits. Appending claims the next free slot with a
// conditional insert, so two concurrent appenders can never share a
// position. The loser re-reads the maximum and tries the next slot.
//
// Claiming the slot and writing the post row are still two independent
// writes. If the second one fails the slot points at a post that does not
// exist, and readers treat it like any other missing row.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/model"
	"github.com/sakif/threadboard/internal/repository"
)

// PageSize is the number of posts on one thread page.
const PageSize = 20

// DefaultMaxAttempts bounds how many slots one append will try before
// giving up with a conflict.
const DefaultMaxAttempts = 16

// PageForPosition returns the page a position is rendered on.
// Positions below 1 are treated as 1.
func PageForPosition(pos int64) int64 {
	return (max(1, pos)-1)/PageSize + 1
}

// PagesForCount returns how many pages count items need. The result is at
// least 1, so an empty listing still has a first page.
func PagesForCount(count int64) int64 {
	return PageForPosition(count)
}

// PageBounds returns the inclusive position window for page.
func PageBounds(page int64) (low, high int64) {
	page = max(1, page)
	low = (page-1)*PageSize + 1
	return low, low + PageSize - 1
}

// Assigner appends posts to threads and reads position windows back.
type Assigner struct {
	positions   repository.PositionRepository
	posts       repository.PostRepository
	logger      *slog.Logger
	maxAttempts int
}

func NewAssigner(positions repository.PositionRepository, posts repository.PostRepository, logger *slog.Logger) *Assigner {
	return &Assigner{
		positions:   positions,
		posts:       posts,
		logger:      logger,
		maxAttempts: DefaultMaxAttempts,
	}
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func (a *Assigner) WithMaxAttempts(n int) *Assigner {
	if n > 0 {
		a.maxAttempts = n
	}
	return a
}

// AppendPost claims the next position in post.ThreadID, then writes the post
// row. It returns the claimed position.
func (a *Assigner) AppendPost(ctx context.Context, post *model.Post) (int64, error) {
	pos, err := a.claim(ctx, post.ThreadID, post.ID)
	if err != nil {
		return 0, err
	}

	if err := a.posts.CreatePost(ctx, post); err != nil {
		a.logger.Error("position claimed but post write failed",
			slog.Int64("threadID", post.ThreadID),
			slog.Int64("position", pos),
			slog.Int64("postID", post.ID),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("position: writing post %d: %w", post.ID, err)
	}

	return pos, nil
}

func (a *Assigner) claim(ctx context.Context, threadID, postID int64) (int64, error) {
	var tried int64
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		top, err := a.positions.MaxPosition(ctx, threadID)
		if err != nil {
			return 0, fmt.Errorf("position: reading max for thread %d: %w", threadID, err)
		}

		// A lagging replica can report a max we already lost on.
		next := max(top, tried) + 1

		won, err := a.positions.ClaimPosition(ctx, threadID, next, postID)
		if err != nil {
			return 0, fmt.Errorf("position: claiming %d in thread %d: %w", next, threadID, err)
		}
		if won {
			if attempt > 1 {
				a.logger.Debug("position claimed after contention",
					slog.Int64("threadID", threadID),
					slog.Int64("position", next),
					slog.Int("attempts", attempt),
				)
			}
			return next, nil
		}
		tried = next
	}

	a.logger.Warn("giving up on position claim",
		slog.Int64("threadID", threadID),
		slog.Int64("postID", postID),
		slog.Int("attempts", a.maxAttempts),
	)
	return 0, apperror.Conflict("thread position", strconv.FormatInt(threadID, 10))
}

// PositionsInRange returns position → post id for low <= position <= high.
func (a *Assigner) PositionsInRange(ctx context.Context, threadID, low, high int64) (map[int64]int64, error) {
	if low < 1 {
		low = 1
	}
	if high < low {
		return map[int64]int64{}, nil
	}

	rows, err := a.positions.PositionsInRange(ctx, threadID, low, high)
	if err != nil {
		return nil, fmt.Errorf("position: reading %d..%d in thread %d: %w", low, high, threadID, err)
	}

	out := make(map[int64]int64, len(rows))
	for _, r := range rows {
		out[r.Position] = r.PostID
	}
	return out, nil
}

// Page returns the position → post id window for one page.
func (a *Assigner) Page(ctx context.Context, threadID, page int64) (map[int64]int64, error) {
	low, high := PageBounds(page)
	return a.PositionsInRange(ctx, threadID, low, high)
}

// Count returns how many positions have been claimed in a thread.
func (a *Assigner) Count(ctx context.Context, threadID int64) (int64, error) {
	n, err := a.positions.MaxPosition(ctx, threadID)
	if err != nil {
		return 0, fmt.Errorf("position: counting thread %d: %w", threadID, err)
	}
	return n, nil
}
