package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/auth"
	"github.com/sakif/threadboard/internal/counter"
	"github.com/sakif/threadboard/internal/model"
	"github.com/sakif/threadboard/internal/position"
	"github.com/sakif/threadboard/internal/repository/memory"
	"github.com/sakif/threadboard/internal/session"
	"github.com/sakif/threadboard/internal/snowflake"
	"github.com/sakif/threadboard/internal/worker"
)

// =========================================================================
// HARNESS
// =========================================================================
//
// Services run against the in-memory store and a real worker queue.
// Background writes (counters, session touches) land once the queue is
// stopped, so tests that read counters call h.drain() first.

type harness struct {
	repo     *memory.Memory
	queue    *worker.Queue
	forum    *ForumService
	accounts *AccountService
	tokens   *auth.TokenService
	sessions *session.Store
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := testLogger()

	repo := memory.New()
	queue := worker.NewQueue(worker.Config{Size: 1024, Workers: 2, TaskTimeout: time.Second}, logger)
	queue.Start()
	t.Cleanup(queue.Stop)

	ids, err := snowflake.New(1)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(strings.Repeat("k", auth.MinSecretLength))
	require.NoError(t, err)

	sessions := session.NewStore(repo, queue, logger)
	forum := NewForumService(
		repo,
		position.NewAssigner(repo, repo, logger),
		counter.NewStore(repo, queue, logger),
		ids,
		logger,
	)
	accounts := NewAccountService(repo, sessions, tokens, auth.NewPasswordServiceForTest(), ids, logger)

	return &harness{
		repo:     repo,
		queue:    queue,
		forum:    forum,
		accounts: accounts,
		tokens:   tokens,
		sessions: sessions,
	}
}

// drain waits for every queued background write to finish.
func (h *harness) drain() {
	h.queue.Stop()
}

func (h *harness) node(t *testing.T, id int64, order int32, title string) {
	t.Helper()
	require.NoError(t, h.repo.CreateNode(context.Background(), &model.Node{ID: id, DisplayOrder: order, Title: title}))
}

func ptr[T any](v T) *T { return &v }

// =========================================================================
// END TO END
// =========================================================================

func TestForum_RegisterPostAndPaginate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.node(t, 1, 0, "General")

	alice, err := h.accounts.Register(ctx, Registration{
		Username:        "Alice",
		Password:        "correct horse",
		PasswordConfirm: "correct horse",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", alice.UsernameNormal)

	thread, err := h.forum.CreateThread(ctx, NewThread{
		NodeID:  1,
		Title:   "Hello",
		Content: "first!",
		UserID:  &alice.ID,
		IP:      "203.0.113.9:5123",
	})
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		res, err := h.forum.Reply(ctx, NewReply{ThreadID: thread.ID, Content: "reply", UserID: &alice.ID})
		require.NoError(t, err)
		assert.Equal(t, int64(i+2), res.Position)
	}
	h.drain()

	replies, err := counter.NewStore(h.repo, h.queue, testLogger()).Read(ctx, model.CounterThreadReplies, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), replies)
	assert.Equal(t, int64(2), position.PagesForCount(replies))

	page, err := h.forum.ViewThread(ctx, thread.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Pages)
	assert.Equal(t, int64(25), page.Replies)
	require.Len(t, page.Posts, 6)
	for i, p := range page.Posts {
		assert.Equal(t, int64(21+i), p.Position)
		require.NotNil(t, p.Author)
		assert.Equal(t, "Alice", p.Author.Username)
	}

	first, err := h.forum.ViewThread(ctx, thread.ID, 1)
	require.NoError(t, err)
	require.Len(t, first.Posts, 20)
	assert.Equal(t, thread.FirstPostID, first.Posts[0].Post.ID)
	assert.Contains(t, first.Posts[0].HTML, "first!")
	require.NotNil(t, first.Posts[0].Ugc.IPID)
	assert.Equal(t, *IPID("203.0.113.9"), *first.Posts[0].Ugc.IPID)
}

// =========================================================================
// NODES
// =========================================================================

func TestListNodes_DisplayOrder(t *testing.T) {
	h := newHarness(t)
	h.node(t, 3, 2, "Off topic")
	h.node(t, 1, 1, "News")
	h.node(t, 2, 1, "General")

	nodes, err := h.forum.ListNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{nodes[0].ID, nodes[1].ID, nodes[2].ID})
}

func TestViewNode_RecentThreadsWithCounters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.node(t, 1, 0, "General")

	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	h.forum.now = func() time.Time { return now }

	older, err := h.forum.CreateThread(ctx, NewThread{NodeID: 1, Title: "Older", Content: "a"})
	require.NoError(t, err)
	newer, err := h.forum.CreateThread(ctx, NewThread{NodeID: 1, Title: "Newer", Content: "b"})
	require.NoError(t, err)

	// a reply bumps the older thread back to the top
	_, err = h.forum.Reply(ctx, NewReply{ThreadID: older.ID, Content: "bump"})
	require.NoError(t, err)

	// outside the lookback window
	now = now.AddDate(1, 0, 0)
	_, err = h.forum.CreateThread(ctx, NewThread{NodeID: 1, Title: "Future", Content: "c"})
	require.NoError(t, err)
	now = now.AddDate(-1, 0, 0)

	h.drain()

	page, err := h.forum.ViewNode(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "General", page.Node.Title)
	require.Len(t, page.Threads, 2)
	assert.Equal(t, older.ID, page.Threads[0].Thread.ID)
	assert.Equal(t, int64(1), page.Threads[0].Replies)
	assert.Equal(t, newer.ID, page.Threads[1].Thread.ID)
	assert.Zero(t, page.Threads[1].Replies)
	assert.Zero(t, page.Threads[1].Views)
	assert.Equal(t, int64(1), page.Threads[1].Pages)
	assert.True(t, strings.HasPrefix(page.Threads[1].Slug, "newer."))
}

func TestViewNode_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.forum.ViewNode(context.Background(), 99)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

// =========================================================================
// THREADS
// =========================================================================

func TestViewThread_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.node(t, 1, 0, "General")

	_, err := h.forum.ViewThread(ctx, 404, 1)
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "unknown thread")

	thread, err := h.forum.CreateThread(ctx, NewThread{NodeID: 1, Title: "t", Content: "c"})
	require.NoError(t, err)

	_, err = h.forum.ViewThread(ctx, thread.ID, 2)
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "page past the end")

	page, err := h.forum.ViewThread(ctx, thread.ID, -3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Page)
	assert.Empty(t, page.Pagination)
}

func TestViewThread_BumpsViewsInBackground(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.node(t, 1, 0, "General")
	thread, err := h.forum.CreateThread(ctx, NewThread{NodeID: 1, Title: "t", Content: "c"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := h.forum.ViewThread(ctx, thread.ID, 1)
		require.NoError(t, err)
	}
	h.drain()

	views, _, err := h.repo.GetCounter(ctx, model.CounterThreadViews, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), views)
}

func TestViewThread_MissingRowsAreSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.node(t, 1, 0, "General")
	thread, err := h.forum.CreateThread(ctx, NewThread{NodeID: 1, Title: "t", Content: "c", UserID: ptr(int64(777))})
	require.NoError(t, err)

	// a position whose post row was never written
	_, err = h.repo.ClaimPosition(ctx, thread.ID, 2, 123456)
	require.NoError(t, err)
	// a post whose content blob is gone
	orphan := &model.Post{ID: 999, ThreadID: thread.ID, CreatedAt: time.Now().UTC(), UgcID: uuid.New()}
	_, err = position.NewAssigner(h.repo, h.repo, testLogger()).AppendPost(ctx, orphan)
	require.NoError(t, err)

	page, err := h.forum.ViewThread(ctx, thread.ID, 1)
	require.NoError(t, err)
	require.Len(t, page.Posts, 2)
	assert.Equal(t, int64(1), page.Posts[0].Position)
	assert.Nil(t, page.Posts[0].Author, "author 777 does not exist")
	assert.Equal(t, int64(3), page.Posts[1].Position)
	assert.Nil(t, page.Posts[1].Ugc)
	assert.Empty(t, page.Posts[1].HTML)
}

func TestCreateThread_Validation(t *testing.T) {
	h := newHarness(t)
	h.node(t, 1, 0, "General")

	tests := []struct {
		name  string
		in    NewThread
		field string
	}{
		{"missing title", NewThread{NodeID: 1, Title: "   ", Content: "x"}, "title"},
		{"long title", NewThread{NodeID: 1, Title: strings.Repeat("a", MaxTitleLength+1), Content: "x"}, "title"},
		{"long subtitle", NewThread{NodeID: 1, Title: "t", Subtitle: strings.Repeat("s", MaxSubtitleLength+1), Content: "x"}, "subtitle"},
		{"missing content", NewThread{NodeID: 1, Title: "t", Content: "\n"}, "content"},
		{"long content", NewThread{NodeID: 1, Title: "t", Content: strings.Repeat("c", MaxContentLength+1)}, "content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.forum.CreateThread(context.Background(), tt.in)
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.ErrorIs(t, err, apperror.ErrValidation)
			assert.Equal(t, tt.field, appErr.Field)
		})
	}
}

func TestCreateThread_UnknownNode(t *testing.T) {
	h := newHarness(t)
	_, err := h.forum.CreateThread(context.Background(), NewThread{NodeID: 5, Title: "t", Content: "c"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCreateThread_Subtitle(t *testing.T) {
	h := newHarness(t)
	h.node(t, 1, 0, "General")

	thread, err := h.forum.CreateThread(context.Background(), NewThread{NodeID: 1, Title: "t", Subtitle: " sub ", Content: "c"})
	require.NoError(t, err)
	require.NotNil(t, thread.Subtitle)
	assert.Equal(t, "sub", *thread.Subtitle)

	thread, err = h.forum.CreateThread(context.Background(), NewThread{NodeID: 1, Title: "t", Content: "c"})
	require.NoError(t, err)
	assert.Nil(t, thread.Subtitle)
}

// =========================================================================
// REPLIES
// =========================================================================

func TestReply_UpdatesLastPost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.node(t, 1, 0, "General")
	thread, err := h.forum.CreateThread(ctx, NewThread{NodeID: 1, Title: "t", Content: "c"})
	require.NoError(t, err)

	res, err := h.forum.Reply(ctx, NewReply{ThreadID: thread.ID, Content: "r", UserID: ptr(int64(42))})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Position)
	assert.Equal(t, int64(1), res.Page)

	got, err := h.repo.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Post.ID, got.LastPostID)
	require.NotNil(t, got.LastPostUserID)
	assert.Equal(t, int64(42), *got.LastPostUserID)
	assert.Equal(t, thread.FirstPostID, got.FirstPostID)
}

func TestReply_UnknownThread(t *testing.T) {
	h := newHarness(t)
	_, err := h.forum.Reply(context.Background(), NewReply{ThreadID: 1, Content: "r"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestReply_ConcurrentRepliesGetDistinctPositions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.node(t, 1, 0, "General")
	thread, err := h.forum.CreateThread(ctx, NewThread{NodeID: 1, Title: "t", Content: "c"})
	require.NoError(t, err)

	const n = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		positions = map[int64]bool{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.forum.Reply(ctx, NewReply{ThreadID: thread.ID, Content: "r"})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			positions[res.Position] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, positions, n)
	for p := int64(2); p <= n+1; p++ {
		assert.True(t, positions[p], "position %d missing", p)
	}
}

// =========================================================================
// IP IDS
// =========================================================================

func TestIPID(t *testing.T) {
	assert.Nil(t, IPID(""))
	assert.Nil(t, IPID("  "))

	a := IPID("198.51.100.7")
	require.NotNil(t, a)
	assert.Equal(t, *a, *IPID("198.51.100.7:443"), "port is ignored")
	assert.Equal(t, *IPID("[2001:db8::1]:80"), *IPID("2001:db8::1"))
	assert.NotEqual(t, *a, *IPID("198.51.100.8"))
	assert.Equal(t, uuid.Version(5), a.Version())
}
