// Package repotest holds the behavior every repository.Store backend must
// share. Backend packages call Run from their own tests.
package repotest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/model"
	"github.com/sakif/threadboard/internal/repository"
)

// Run exercises store. newStore must return an empty store for each call.
func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("Nodes", func(t *testing.T) { testNodes(t, newStore(t)) })
	t.Run("Threads", func(t *testing.T) { testThreads(t, newStore(t)) })
	t.Run("Posts", func(t *testing.T) { testPosts(t, newStore(t)) })
	t.Run("Positions", func(t *testing.T) { testPositions(t, newStore(t)) })
	t.Run("ConcurrentClaims", func(t *testing.T) { testConcurrentClaims(t, newStore(t)) })
	t.Run("Ugc", func(t *testing.T) { testUgc(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("Counters", func(t *testing.T) { testCounters(t, newStore(t)) })
}

func ptr[T any](v T) *T { return &v }

// ms truncates to millisecond precision, the coarsest any backend stores.
func ms(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func testNodes(t *testing.T, s repository.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateNode(ctx, &model.Node{ID: 2, DisplayOrder: 1, Title: "Off topic"}))
	require.NoError(t, s.CreateNode(ctx, &model.Node{ID: 1, DisplayOrder: 0, Title: "General", Description: ptr("Anything goes")}))

	nodes, err := s.ListNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	got, err := s.GetNode(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "General", got.Title)
	require.NotNil(t, got.Description)
	assert.Equal(t, "Anything goes", *got.Description)

	off, err := s.GetNode(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, off.Description)

	_, err = s.GetNode(ctx, 99)
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "GetNode(missing) error = %v", err)
}

func testThreads(t *testing.T, s repository.Store) {
	ctx := context.Background()
	created := ms(time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC))

	thread := &model.Thread{
		ID:              100,
		NodeID:          1,
		BucketID:        202603,
		Title:           "Hello",
		Subtitle:        ptr("first thread"),
		CreatedAt:       created,
		FirstPostID:     1000,
		FirstPostUserID: ptr(int64(7)),
		LastPostID:      1000,
		LastPostUserID:  ptr(int64(7)),
	}
	require.NoError(t, s.CreateThread(ctx, thread))
	require.NoError(t, s.CreateThread(ctx, &model.Thread{ID: 101, NodeID: 1, BucketID: 202603, Title: "Second", CreatedAt: created, FirstPostID: 1001, LastPostID: 1001}))
	require.NoError(t, s.CreateThread(ctx, &model.Thread{ID: 102, NodeID: 1, BucketID: 202602, Title: "Older", CreatedAt: created, FirstPostID: 1002, LastPostID: 1002}))

	got, err := s.GetThread(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Title)
	assert.Equal(t, int32(202603), got.BucketID)
	assert.True(t, created.Equal(got.CreatedAt), "CreatedAt = %v, want %v", got.CreatedAt, created)
	require.NotNil(t, got.FirstPostUserID)
	assert.Equal(t, int64(7), *got.FirstPostUserID)

	ids, err := s.ThreadIDsInBucket(ctx, 1, 202603)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{100, 101}, ids)

	ids, err = s.ThreadIDsInBucket(ctx, 1, 202501)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, s.UpdateThreadLastPost(ctx, 100, 2000, nil))
	got, err = s.GetThread(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), got.LastPostID)
	assert.Nil(t, got.LastPostUserID)
	assert.Equal(t, int64(1000), got.FirstPostID)

	_, err = s.GetThread(ctx, 404)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func testPosts(t *testing.T, s repository.Store) {
	ctx := context.Background()
	ugcID := uuid.New()
	created := ms(time.Now())

	require.NoError(t, s.CreatePost(ctx, &model.Post{ID: 5, ThreadID: 100, CreatedAt: created, UserID: ptr(int64(9)), UgcID: ugcID}))
	require.NoError(t, s.CreatePost(ctx, &model.Post{ID: 6, ThreadID: 100, CreatedAt: created, UgcID: uuid.New()}))

	got, err := s.GetPost(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.ThreadID)
	assert.Equal(t, ugcID, got.UgcID)
	require.NotNil(t, got.UserID)
	assert.Equal(t, int64(9), *got.UserID)

	guest, err := s.GetPost(ctx, 6)
	require.NoError(t, err)
	assert.Nil(t, guest.UserID)

	_, err = s.GetPost(ctx, 7)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func testPositions(t *testing.T, s repository.Store) {
	ctx := context.Background()

	top, err := s.MaxPosition(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, top)

	for pos := int64(1); pos <= 5; pos++ {
		won, err := s.ClaimPosition(ctx, 100, pos, 1000+pos)
		require.NoError(t, err)
		require.True(t, won)
	}

	won, err := s.ClaimPosition(ctx, 100, 3, 9999)
	require.NoError(t, err)
	assert.False(t, won, "claiming a taken slot must lose")

	top, err = s.MaxPosition(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(5), top)

	rows, err := s.PositionsInRange(ctx, 100, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, []model.PostPosition{
		{ThreadID: 100, Position: 2, PostID: 1002},
		{ThreadID: 100, Position: 3, PostID: 1003},
		{ThreadID: 100, Position: 4, PostID: 1004},
	}, rows)

	rows, err = s.PositionsInRange(ctx, 100, 21, 40)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// other threads are untouched
	top, err = s.MaxPosition(ctx, 101)
	require.NoError(t, err)
	assert.Zero(t, top)
}

func testConcurrentClaims(t *testing.T, s repository.Store) {
	ctx := context.Background()
	const contenders = 8

	var (
		wg   sync.WaitGroup
		wins = make(chan int64, contenders)
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(postID int64) {
			defer wg.Done()
			won, err := s.ClaimPosition(ctx, 300, 1, postID)
			if err != nil {
				t.Errorf("ClaimPosition() error = %v", err)
				return
			}
			if won {
				wins <- postID
			}
		}(int64(i + 1))
	}
	wg.Wait()
	close(wins)

	var winners []int64
	for id := range wins {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1, "exactly one contender may win a slot")

	rows, err := s.PositionsInRange(ctx, 300, 1, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, winners[0], rows[0].PostID)
}

func testUgc(t *testing.T, s repository.Store) {
	ctx := context.Background()
	ipID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("203.0.113.9"))
	ugc := &model.Ugc{
		ID:        uuid.New(),
		IPID:      &ipID,
		UserID:    ptr(int64(9)),
		CreatedAt: ms(time.Now()),
		Content:   "**hello** <script>raw</script>",
	}
	require.NoError(t, s.CreateUgc(ctx, ugc))

	got, err := s.GetUgc(ctx, ugc.ID)
	require.NoError(t, err)
	assert.Equal(t, ugc.Content, got.Content, "content is stored raw")
	require.NotNil(t, got.IPID)
	assert.Equal(t, ipID, *got.IPID)

	anon := &model.Ugc{ID: uuid.New(), CreatedAt: ms(time.Now()), Content: "guest"}
	require.NoError(t, s.CreateUgc(ctx, anon))
	got, err = s.GetUgc(ctx, anon.ID)
	require.NoError(t, err)
	assert.Nil(t, got.IPID)
	assert.Nil(t, got.UserID)

	_, err = s.GetUgc(ctx, uuid.New())
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func testUsers(t *testing.T, s repository.Store) {
	ctx := context.Background()
	alice := &model.User{
		ID:              11,
		Username:        "Alice",
		UsernameNormal:  "alice",
		Email:           ptr("alice@example.com"),
		PasswordDigest:  "digest",
		DigestAlgorithm: model.DigestArgon2id,
	}
	require.NoError(t, s.CreateUser(ctx, alice))

	got, err := s.GetUser(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Username)
	assert.Equal(t, model.DigestArgon2id, got.DigestAlgorithm)
	require.NotNil(t, got.Email)

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(11), byName.ID)

	dup := &model.User{ID: 12, Username: "ALICE", UsernameNormal: "alice", PasswordDigest: "x", DigestAlgorithm: model.DigestBcrypt}
	err = s.CreateUser(ctx, dup)
	assert.True(t, errors.Is(err, apperror.ErrConflict), "duplicate username error = %v", err)

	_, err = s.GetUser(ctx, 12)
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "losing registration must not leave a user row")

	_, err = s.GetUserByUsername(ctx, "bob")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func testSessions(t *testing.T, s repository.Store) {
	ctx := context.Background()
	created := ms(time.Now().Add(-time.Hour))
	sess := &model.UserSession{ID: uuid.New(), UserID: 11, CreatedAt: created, LastSeenAt: created}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(11), got.UserID)

	later := ms(time.Now())
	require.NoError(t, s.TouchSession(ctx, sess.ID, later))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, later.Equal(got.LastSeenAt), "LastSeenAt = %v, want %v", got.LastSeenAt, later)
	assert.True(t, created.Equal(got.CreatedAt))

	_, err = s.GetSession(ctx, uuid.New())
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func testCounters(t *testing.T, s repository.Store) {
	ctx := context.Background()

	_, found, err := s.GetCounter(ctx, model.CounterThreadViews, 100)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.IncrementCounter(ctx, model.CounterThreadViews, 100, 1))
	require.NoError(t, s.IncrementCounter(ctx, model.CounterThreadViews, 100, 1))
	require.NoError(t, s.IncrementCounter(ctx, model.CounterThreadReplies, 100, 5))

	views, found, err := s.GetCounter(ctx, model.CounterThreadViews, 100)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2), views)

	replies, _, err := s.GetCounter(ctx, model.CounterThreadReplies, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(5), replies)
}
