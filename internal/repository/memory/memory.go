// Package memory is an in-process Store. It backs tests and single-process
// demos; nothing survives a restart.
//
// Values are copied on the way in and on the way out so callers can never
// mutate stored rows through a returned pointer.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/model"
	"github.com/sakif/threadboard/internal/repository"
)

var _ repository.Store = (*Memory)(nil)

type bucketKey struct {
	nodeID   int64
	bucketID int32
}

type positionKey struct {
	threadID int64
	position int64
}

type counterKey struct {
	counter model.Counter
	id      int64
}

type Memory struct {
	mu sync.RWMutex

	nodes       map[int64]model.Node
	threads     map[int64]model.Thread
	nodeThreads map[bucketKey][]int64
	posts       map[int64]model.Post
	positions   map[positionKey]int64
	maxPosition map[int64]int64
	ugc         map[uuid.UUID]model.Ugc
	users       map[int64]model.User
	usernames   map[string]int64
	sessions    map[uuid.UUID]model.UserSession
	counters    map[counterKey]int64
}

func New() *Memory {
	return &Memory{
		nodes:       make(map[int64]model.Node),
		threads:     make(map[int64]model.Thread),
		nodeThreads: make(map[bucketKey][]int64),
		posts:       make(map[int64]model.Post),
		positions:   make(map[positionKey]int64),
		maxPosition: make(map[int64]int64),
		ugc:         make(map[uuid.UUID]model.Ugc),
		users:       make(map[int64]model.User),
		usernames:   make(map[string]int64),
		sessions:    make(map[uuid.UUID]model.UserSession),
		counters:    make(map[counterKey]int64),
	}
}

func (m *Memory) Close() error {
	return nil
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// =========================================================================
// NODES
// =========================================================================

func (m *Memory) ListNodes(ctx context.Context) ([]model.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nodes := make([]model.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func (m *Memory) GetNode(ctx context.Context, id int64) (*model.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.nodes[id]
	if !ok {
		return nil, apperror.NotFound("node", idString(id))
	}
	return &n, nil
}

func (m *Memory) CreateNode(ctx context.Context, node *model.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nodes[node.ID] = *node
	return nil
}

// =========================================================================
// THREADS
// =========================================================================

func (m *Memory) GetThread(ctx context.Context, id int64) (*model.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.threads[id]
	if !ok {
		return nil, apperror.NotFound("thread", idString(id))
	}
	return &t, nil
}

func (m *Memory) ThreadIDsInBucket(ctx context.Context, nodeID int64, bucketID int32) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.nodeThreads[bucketKey{nodeID, bucketID}]
	out := make([]int64, len(ids))
	copy(out, ids)
	return out, nil
}

func (m *Memory) CreateThread(ctx context.Context, thread *model.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.threads[thread.ID]; !exists {
		key := bucketKey{thread.NodeID, thread.BucketID}
		m.nodeThreads[key] = append(m.nodeThreads[key], thread.ID)
	}
	m.threads[thread.ID] = *thread
	return nil
}

func (m *Memory) UpdateThreadLastPost(ctx context.Context, threadID, postID int64, userID *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.threads[threadID]
	if !ok {
		return apperror.NotFound("thread", idString(threadID))
	}
	t.LastPostID = postID
	t.LastPostUserID = userID
	m.threads[threadID] = t
	return nil
}

// =========================================================================
// POSTS AND POSITIONS
// =========================================================================

func (m *Memory) GetPost(ctx context.Context, id int64) (*model.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.posts[id]
	if !ok {
		return nil, apperror.NotFound("post", idString(id))
	}
	return &p, nil
}

func (m *Memory) CreatePost(ctx context.Context, post *model.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.posts[post.ID] = *post
	return nil
}

func (m *Memory) MaxPosition(ctx context.Context, threadID int64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.maxPosition[threadID], nil
}

func (m *Memory) ClaimPosition(ctx context.Context, threadID, position, postID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := positionKey{threadID, position}
	if _, taken := m.positions[key]; taken {
		return false, nil
	}
	m.positions[key] = postID
	if position > m.maxPosition[threadID] {
		m.maxPosition[threadID] = position
	}
	return true, nil
}

func (m *Memory) PositionsInRange(ctx context.Context, threadID, low, high int64) ([]model.PostPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.PostPosition
	for pos := low; pos <= high && pos <= m.maxPosition[threadID]; pos++ {
		if postID, ok := m.positions[positionKey{threadID, pos}]; ok {
			out = append(out, model.PostPosition{ThreadID: threadID, Position: pos, PostID: postID})
		}
	}
	return out, nil
}

// =========================================================================
// UGC
// =========================================================================

func (m *Memory) GetUgc(ctx context.Context, id uuid.UUID) (*model.Ugc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.ugc[id]
	if !ok {
		return nil, apperror.NotFound("ugc", id.String())
	}
	return &u, nil
}

func (m *Memory) CreateUgc(ctx context.Context, ugc *model.Ugc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ugc[ugc.ID] = *ugc
	return nil
}

// =========================================================================
// USERS AND SESSIONS
// =========================================================================

func (m *Memory) GetUser(ctx context.Context, id int64) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, apperror.NotFound("user", idString(id))
	}
	return &u, nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, usernameNormal string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.usernames[usernameNormal]
	if !ok {
		return nil, apperror.NotFound("user", usernameNormal)
	}
	u := m.users[id]
	return &u, nil
}

func (m *Memory) CreateUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.usernames[user.UsernameNormal]; taken {
		return apperror.Conflict("user", user.UsernameNormal)
	}
	m.usernames[user.UsernameNormal] = user.ID
	m.users[user.ID] = *user
	return nil
}

func (m *Memory) CreateSession(ctx context.Context, session *model.UserSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[session.ID] = *session
	return nil
}

func (m *Memory) GetSession(ctx context.Context, id uuid.UUID) (*model.UserSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, apperror.NotFound("session", id.String())
	}
	return &s, nil
}

func (m *Memory) TouchSession(ctx context.Context, id uuid.UUID, lastSeenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return apperror.NotFound("session", id.String())
	}
	s.LastSeenAt = lastSeenAt
	m.sessions[id] = s
	return nil
}

// =========================================================================
// COUNTERS
// =========================================================================

func (m *Memory) IncrementCounter(ctx context.Context, counter model.Counter, id int64, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[counterKey{counter, id}] += delta
	return nil
}

func (m *Memory) GetCounter(ctx context.Context, counter model.Counter, id int64) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.counters[counterKey{counter, id}]
	return v, ok, nil
}
