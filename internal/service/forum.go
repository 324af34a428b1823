// Package service contains the forum's business logic.
//
// LAYERS:
//
//	Handler (HTTP)      → parses requests, writes JSON
//	Service (this)      → validates input, orchestrates reads and writes
//	Repository (store)  → single-key reads and writes against one backend
//
// THE READ PATH:
// Stores only answer single-key or single-partition questions, so a page is
// assembled in rounds. Each round issues its independent reads together and
// waits for all of them (errgroup). Any failure fails the whole page; there
// is no partial render.
//
//	thread page:  thread → (node, positions, count, counters) → posts → (ugc, authors)
//	node page:    (node, buckets → threads) → (replies, views)
//
// THE WRITE PATH:
// New content is written bottom-up: ugc blob, then position claim + post,
// then the thread row or its last-post fields. A failure part way leaves
// rows that nothing points at yet, never a pointer to a missing row (the one
// exception is a claimed position whose post write failed; see package
// position).
package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/counter"
	"github.com/sakif/threadboard/internal/fanout"
	"github.com/sakif/threadboard/internal/model"
	"github.com/sakif/threadboard/internal/pagination"
	"github.com/sakif/threadboard/internal/position"
	"github.com/sakif/threadboard/internal/render"
	"github.com/sakif/threadboard/internal/repository"
)

const (
	MaxTitleLength    = 150
	MaxSubtitleLength = 150
	MaxContentLength  = 50000

	DefaultBucketLookback = 6
)

// ipNamespace scopes the name-based UUIDs derived from client addresses.
var ipNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("ip.threadboard"))

// IPID maps a client address to a stable opaque id. The address itself is
// never stored. Returns nil for an empty address.
func IPID(addr string) *uuid.UUID {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr == "" {
		return nil
	}
	id := uuid.NewSHA1(ipNamespace, []byte(addr))
	return &id
}

// IDGenerator hands out unique, roughly time-ordered ids.
// *snowflake.Generator implements it.
type IDGenerator interface {
	Next() int64
}

// ForumRepository is the slice of the store the forum reads and writes.
type ForumRepository interface {
	repository.NodeRepository
	repository.ThreadRepository
	repository.PostRepository
	repository.UgcRepository
	repository.UserRepository
}

type ForumService struct {
	repo      ForumRepository
	positions *position.Assigner
	counters  *counter.Store
	ids       IDGenerator
	logger    *slog.Logger
	lookback  int
	now       func() time.Time
}

func NewForumService(
	repo ForumRepository,
	positions *position.Assigner,
	counters *counter.Store,
	ids IDGenerator,
	logger *slog.Logger,
) *ForumService {
	return &ForumService{
		repo:      repo,
		positions: positions,
		counters:  counters,
		ids:       ids,
		logger:    logger,
		lookback:  DefaultBucketLookback,
		now:       time.Now,
	}
}

// WithBucketLookback sets how many monthly buckets a node listing scans.
func (s *ForumService) WithBucketLookback(n int) *ForumService {
	if n > 0 {
		s.lookback = n
	}
	return s
}

// =========================================================================
// VIEW MODELS
// =========================================================================

type ThreadSummary struct {
	Thread  model.Thread `json:"thread"`
	Slug    string       `json:"slug"`
	Replies int64        `json:"replies"`
	Views   int64        `json:"views"`
	Pages   int64        `json:"pages"`
}

type NodePage struct {
	Node    model.Node      `json:"node"`
	Threads []ThreadSummary `json:"threads"`
}

// PostView is one rendered post. Ugc or Author is nil when that row is
// missing; the post is still shown.
type PostView struct {
	Position int64       `json:"position"`
	Post     model.Post  `json:"post"`
	Ugc      *model.Ugc  `json:"ugc,omitempty"`
	HTML     string      `json:"html"`
	Author   *model.User `json:"author,omitempty"`
}

type ThreadPage struct {
	Node       model.Node        `json:"node"`
	Thread     model.Thread      `json:"thread"`
	Slug       string            `json:"slug"`
	Page       int64             `json:"page"`
	Pages      int64             `json:"pages"`
	Replies    int64             `json:"replies"`
	Views      int64             `json:"views"`
	Posts      []PostView        `json:"posts"`
	Pagination []pagination.Item `json:"pagination"`
}

// =========================================================================
// READS
// =========================================================================

// ListNodes returns every node by display order, ties broken by id.
func (s *ForumService) ListNodes(ctx context.Context) ([]model.Node, error) {
	nodes, err := s.repo.ListNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	slices.SortFunc(nodes, func(a, b model.Node) int {
		if c := cmp.Compare(a.DisplayOrder, b.DisplayOrder); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return nodes, nil
}

// ViewNode returns a node and the threads filed under it in the recent
// monthly buckets, most recently active first.
func (s *ForumService) ViewNode(ctx context.Context, nodeID int64) (*NodePage, error) {
	var (
		node    *model.Node
		threads []model.Thread
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		node, err = s.repo.GetNode(gctx, nodeID)
		return err
	})
	g.Go(func() error {
		var err error
		threads, err = s.recentThreads(gctx, nodeID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]int64, len(threads))
	for i, t := range threads {
		ids[i] = t.ID
	}

	var replies, views map[int64]int64
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		replies, err = s.counters.ReadMany(gctx, model.CounterThreadReplies, ids)
		return err
	})
	g.Go(func() error {
		var err error
		views, err = s.counters.ReadMany(gctx, model.CounterThreadViews, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	page := &NodePage{Node: *node, Threads: make([]ThreadSummary, 0, len(threads))}
	for _, t := range threads {
		page.Threads = append(page.Threads, ThreadSummary{
			Thread:  t,
			Slug:    render.ThreadSlug(t.Title, t.ID),
			Replies: replies[t.ID],
			Views:   views[t.ID],
			// the first post is not a reply
			Pages: position.PagesForCount(replies[t.ID] + 1),
		})
	}
	return page, nil
}

func (s *ForumService) recentThreads(ctx context.Context, nodeID int64) ([]model.Thread, error) {
	buckets := model.RecentBuckets(s.now(), s.lookback)

	perBucket, err := fanout.FetchMany(ctx, buckets, func(ctx context.Context, bucket int32) ([]int64, bool, error) {
		ids, err := s.repo.ThreadIDsInBucket(ctx, nodeID, bucket)
		return ids, len(ids) > 0, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing threads of node %d: %w", nodeID, err)
	}

	var ids []int64
	for _, b := range buckets {
		ids = append(ids, perBucket[b]...)
	}

	found, err := fanout.FetchMany(ctx, ids, fanout.Optional(s.repo.GetThread))
	if err != nil {
		return nil, fmt.Errorf("fetching threads of node %d: %w", nodeID, err)
	}

	threads := make([]model.Thread, 0, len(found))
	for _, t := range found {
		threads = append(threads, *t)
	}
	// ids are snowflakes, so the larger last post is the newer one
	slices.SortFunc(threads, func(a, b model.Thread) int {
		if c := cmp.Compare(b.LastPostID, a.LastPostID); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return threads, nil
}

// ViewThread returns one page of a thread with its posts in position order.
// page < 1 is treated as 1; a page past the last one is NotFound. The view
// counter is bumped in the background.
func (s *ForumService) ViewThread(ctx context.Context, threadID, page int64) (*ThreadPage, error) {
	page = max(1, page)

	thread, err := s.repo.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}

	var (
		node           *model.Node
		window         map[int64]int64
		total          int64
		replies, views int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		node, err = s.repo.GetNode(gctx, thread.NodeID)
		return err
	})
	g.Go(func() error {
		var err error
		window, err = s.positions.Page(gctx, threadID, page)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.positions.Count(gctx, threadID)
		return err
	})
	g.Go(func() error {
		var err error
		replies, err = s.counters.Read(gctx, model.CounterThreadReplies, threadID)
		return err
	})
	g.Go(func() error {
		var err error
		views, err = s.counters.Read(gctx, model.CounterThreadViews, threadID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pages := position.PagesForCount(total)
	if page > pages {
		return nil, apperror.NotFound("thread page", strconv.FormatInt(threadID, 10)+"/"+strconv.FormatInt(page, 10))
	}

	posts, err := s.postsAt(ctx, window)
	if err != nil {
		return nil, err
	}

	s.counters.Increment(model.CounterThreadViews, threadID)

	return &ThreadPage{
		Node:       *node,
		Thread:     *thread,
		Slug:       render.ThreadSlug(thread.Title, thread.ID),
		Page:       page,
		Pages:      pages,
		Replies:    replies,
		Views:      views,
		Posts:      posts,
		Pagination: pagination.New(int(page), int(pages), pagination.DefaultRadius).Items(),
	}, nil
}

// postsAt loads the posts a position window points to, then their content
// and authors. Positions whose post is missing are skipped.
func (s *ForumService) postsAt(ctx context.Context, window map[int64]int64) ([]PostView, error) {
	order := make([]int64, 0, len(window))
	for pos := range window {
		order = append(order, pos)
	}
	slices.Sort(order)

	postIDs := make([]int64, len(order))
	for i, pos := range order {
		postIDs[i] = window[pos]
	}

	posts, err := fanout.FetchMany(ctx, postIDs, fanout.Optional(s.repo.GetPost))
	if err != nil {
		return nil, fmt.Errorf("fetching posts: %w", err)
	}

	var (
		ugcIDs  []uuid.UUID
		userIDs []int64
	)
	for _, p := range posts {
		ugcIDs = append(ugcIDs, p.UgcID)
		if p.UserID != nil {
			userIDs = append(userIDs, *p.UserID)
		}
	}

	var (
		ugcs    map[uuid.UUID]*model.Ugc
		authors map[int64]*model.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ugcs, err = fanout.FetchMany(gctx, ugcIDs, fanout.Optional(s.repo.GetUgc))
		return err
	})
	g.Go(func() error {
		var err error
		authors, err = fanout.FetchMany(gctx, userIDs, fanout.Optional(s.repo.GetUser))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetching post content: %w", err)
	}

	views := make([]PostView, 0, len(posts))
	for _, pos := range order {
		p, ok := posts[window[pos]]
		if !ok {
			continue
		}
		v := PostView{Position: pos, Post: *p, Ugc: ugcs[p.UgcID]}
		if v.Ugc != nil {
			v.HTML = render.Markdown(v.Ugc.Content)
		}
		if p.UserID != nil {
			v.Author = authors[*p.UserID]
		}
		views = append(views, v)
	}
	return views, nil
}

// =========================================================================
// WRITES
// =========================================================================

type NewThread struct {
	NodeID   int64
	Title    string
	Subtitle string
	Content  string
	UserID   *int64 // nil for guests
	IP       string
}

type NewReply struct {
	ThreadID int64
	Content  string
	UserID   *int64
	IP       string
}

// PostResult tells the caller where a new post landed.
type PostResult struct {
	Post     model.Post `json:"post"`
	Position int64      `json:"position"`
	Page     int64      `json:"page"`
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return apperror.ValidationFailed("content", "post content is required")
	}
	if len(content) > MaxContentLength {
		return apperror.ValidationFailed("content",
			fmt.Sprintf("post content must be %d bytes or less", MaxContentLength))
	}
	return nil
}

// CreateThread opens a thread in a node with its first post. The thread row
// is written last, so a failed create never lists a thread without a post.
func (s *ForumService) CreateThread(ctx context.Context, in NewThread) (*model.Thread, error) {
	title := strings.TrimSpace(in.Title)
	subtitle := strings.TrimSpace(in.Subtitle)
	switch {
	case title == "":
		return nil, apperror.ValidationFailed("title", "thread title is required")
	case utf8.RuneCountInString(title) > MaxTitleLength:
		return nil, apperror.ValidationFailed("title",
			fmt.Sprintf("thread title must be %d characters or less", MaxTitleLength))
	case utf8.RuneCountInString(subtitle) > MaxSubtitleLength:
		return nil, apperror.ValidationFailed("subtitle",
			fmt.Sprintf("thread subtitle must be %d characters or less", MaxSubtitleLength))
	}
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetNode(ctx, in.NodeID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	threadID := s.ids.Next()

	post, pos, err := s.appendPost(ctx, threadID, in.Content, in.UserID, in.IP, now)
	if err != nil {
		return nil, err
	}

	thread := &model.Thread{
		ID:              threadID,
		NodeID:          in.NodeID,
		BucketID:        model.BucketFor(now),
		Title:           title,
		CreatedAt:       now,
		FirstPostID:     post.ID,
		FirstPostUserID: in.UserID,
		LastPostID:      post.ID,
		LastPostUserID:  in.UserID,
	}
	if subtitle != "" {
		thread.Subtitle = &subtitle
	}
	if err := s.repo.CreateThread(ctx, thread); err != nil {
		s.logger.Error("failed to create thread",
			slog.Int64("threadID", threadID),
			slog.Int64("nodeID", in.NodeID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating thread: %w", err)
	}

	s.logger.Info("thread created",
		slog.Int64("threadID", threadID),
		slog.Int64("nodeID", in.NodeID),
		slog.Int64("position", pos),
	)
	return thread, nil
}

// Reply appends a post to an existing thread.
func (s *ForumService) Reply(ctx context.Context, in NewReply) (*PostResult, error) {
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetThread(ctx, in.ThreadID); err != nil {
		return nil, err
	}

	post, pos, err := s.appendPost(ctx, in.ThreadID, in.Content, in.UserID, in.IP, s.now().UTC())
	if err != nil {
		return nil, err
	}

	// The post is already visible by position; stale last-post fields only
	// affect the node listing order.
	if err := s.repo.UpdateThreadLastPost(ctx, in.ThreadID, post.ID, in.UserID); err != nil {
		s.logger.Warn("failed to update thread last post",
			slog.Int64("threadID", in.ThreadID),
			slog.Int64("postID", post.ID),
			slog.String("error", err.Error()),
		)
	}
	s.counters.Increment(model.CounterThreadReplies, in.ThreadID)

	return &PostResult{Post: *post, Position: pos, Page: position.PageForPosition(pos)}, nil
}

func (s *ForumService) appendPost(ctx context.Context, threadID int64, content string, userID *int64, ip string, now time.Time) (*model.Post, int64, error) {
	ugcID, err := uuid.NewRandom()
	if err != nil {
		return nil, 0, fmt.Errorf("generating ugc id: %w", err)
	}

	ugc := &model.Ugc{
		ID:        ugcID,
		IPID:      IPID(ip),
		UserID:    userID,
		CreatedAt: now,
		Content:   content,
	}
	if err := s.repo.CreateUgc(ctx, ugc); err != nil {
		return nil, 0, fmt.Errorf("storing post content: %w", err)
	}

	post := &model.Post{
		ID:        s.ids.Next(),
		ThreadID:  threadID,
		CreatedAt: now,
		UserID:    userID,
		UgcID:     ugcID,
	}
	pos, err := s.positions.AppendPost(ctx, post)
	if err != nil {
		return nil, 0, err
	}
	return post, pos, nil
}
