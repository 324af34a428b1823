package cassandra

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/model"
)

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// =========================================================================
// NODES
// =========================================================================

func (db *DB) ListNodes(ctx context.Context) ([]model.Node, error) {
	scanner := db.query(ctx, `SELECT id, display_order, title, description FROM nodes`).Iter().Scanner()

	var nodes []model.Node
	for scanner.Next() {
		var n model.Node
		if err := scanner.Scan(&n.ID, &n.DisplayOrder, &n.Title, &n.Description); err != nil {
			return nil, fmt.Errorf("cassandra: scanning node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cassandra: listing nodes: %w", err)
	}
	return nodes, nil
}

func (db *DB) GetNode(ctx context.Context, id int64) (*model.Node, error) {
	n := model.Node{ID: id}
	err := db.query(ctx, `SELECT display_order, title, description FROM nodes WHERE id = ?`, id).
		Scan(&n.DisplayOrder, &n.Title, &n.Description)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, apperror.NotFound("node", idString(id))
		}
		return nil, fmt.Errorf("cassandra: getting node %d: %w", id, err)
	}
	return &n, nil
}

func (db *DB) CreateNode(ctx context.Context, n *model.Node) error {
	err := db.query(ctx,
		`INSERT INTO nodes (id, display_order, title, description) VALUES (?, ?, ?, ?)`,
		n.ID, n.DisplayOrder, n.Title, n.Description).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: inserting node %d: %w", n.ID, err)
	}
	return nil
}

// =========================================================================
// THREADS
// =========================================================================

func (db *DB) GetThread(ctx context.Context, id int64) (*model.Thread, error) {
	t := model.Thread{ID: id}
	err := db.query(ctx,
		`SELECT node_id, bucket_id, title, subtitle, created_at,
		        first_post_id, first_post_user_id, last_post_id, last_post_user_id
		 FROM threads WHERE id = ?`, id).
		Scan(&t.NodeID, &t.BucketID, &t.Title, &t.Subtitle, &t.CreatedAt,
			&t.FirstPostID, &t.FirstPostUserID, &t.LastPostID, &t.LastPostUserID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, apperror.NotFound("thread", idString(id))
		}
		return nil, fmt.Errorf("cassandra: getting thread %d: %w", id, err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (db *DB) ThreadIDsInBucket(ctx context.Context, nodeID int64, bucketID int32) ([]int64, error) {
	scanner := db.query(ctx,
		`SELECT thread_id FROM node_threads WHERE node_id = ? AND bucket_id = ?`,
		nodeID, bucketID).Iter().Scanner()

	var ids []int64
	for scanner.Next() {
		var id int64
		if err := scanner.Scan(&id); err != nil {
			return nil, fmt.Errorf("cassandra: scanning thread id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cassandra: listing threads of node %d bucket %d: %w", nodeID, bucketID, err)
	}
	return ids, nil
}

// CreateThread writes the thread row and its listing entry as two writes.
// A thread row without a listing entry is invisible on the node page but
// still reachable by id.
func (db *DB) CreateThread(ctx context.Context, t *model.Thread) error {
	err := db.query(ctx,
		`INSERT INTO threads (id, node_id, bucket_id, title, subtitle, created_at,
		                      first_post_id, first_post_user_id, last_post_id, last_post_user_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.NodeID, t.BucketID, t.Title, t.Subtitle, t.CreatedAt,
		t.FirstPostID, t.FirstPostUserID, t.LastPostID, t.LastPostUserID).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: inserting thread %d: %w", t.ID, err)
	}

	err = db.query(ctx,
		`INSERT INTO node_threads (node_id, bucket_id, thread_id) VALUES (?, ?, ?)`,
		t.NodeID, t.BucketID, t.ID).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: listing thread %d under node %d: %w", t.ID, t.NodeID, err)
	}
	return nil
}

func (db *DB) UpdateThreadLastPost(ctx context.Context, threadID, postID int64, userID *int64) error {
	applied, err := db.query(ctx,
		`UPDATE threads SET last_post_id = ?, last_post_user_id = ? WHERE id = ? IF EXISTS`,
		postID, userID, threadID).MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("cassandra: updating last post of thread %d: %w", threadID, err)
	}
	if !applied {
		return apperror.NotFound("thread", idString(threadID))
	}
	return nil
}

// =========================================================================
// POSTS
// =========================================================================

func (db *DB) GetPost(ctx context.Context, id int64) (*model.Post, error) {
	var (
		p     = model.Post{ID: id}
		ugcID gocql.UUID
	)
	err := db.query(ctx,
		`SELECT thread_id, created_at, user_id, ugc_id FROM posts WHERE id = ?`, id).
		Scan(&p.ThreadID, &p.CreatedAt, &p.UserID, &ugcID)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, apperror.NotFound("post", idString(id))
		}
		return nil, fmt.Errorf("cassandra: getting post %d: %w", id, err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UgcID = uuid.UUID(ugcID)
	return &p, nil
}

func (db *DB) CreatePost(ctx context.Context, p *model.Post) error {
	err := db.query(ctx,
		`INSERT INTO posts (id, thread_id, created_at, user_id, ugc_id) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.ThreadID, p.CreatedAt, p.UserID, gocql.UUID(p.UgcID)).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: inserting post %d: %w", p.ID, err)
	}
	return nil
}

// =========================================================================
// POSITIONS
// =========================================================================

func (db *DB) MaxPosition(ctx context.Context, threadID int64) (int64, error) {
	var top int64
	err := db.query(ctx,
		`SELECT position FROM post_positions WHERE thread_id = ? ORDER BY position DESC LIMIT 1`,
		threadID).Scan(&top)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("cassandra: reading max position of thread %d: %w", threadID, err)
	}
	return top, nil
}

func (db *DB) ClaimPosition(ctx context.Context, threadID, position, postID int64) (bool, error) {
	applied, err := db.query(ctx,
		`INSERT INTO post_positions (thread_id, position, post_id) VALUES (?, ?, ?) IF NOT EXISTS`,
		threadID, position, postID).MapScanCAS(map[string]any{})
	if err != nil {
		return false, fmt.Errorf("cassandra: claiming position %d of thread %d: %w", position, threadID, err)
	}
	return applied, nil
}

func (db *DB) PositionsInRange(ctx context.Context, threadID, low, high int64) ([]model.PostPosition, error) {
	scanner := db.query(ctx,
		`SELECT position, post_id FROM post_positions
		 WHERE thread_id = ? AND position >= ? AND position <= ?`,
		threadID, low, high).Iter().Scanner()

	var out []model.PostPosition
	for scanner.Next() {
		pp := model.PostPosition{ThreadID: threadID}
		if err := scanner.Scan(&pp.Position, &pp.PostID); err != nil {
			return nil, fmt.Errorf("cassandra: scanning position: %w", err)
		}
		out = append(out, pp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cassandra: reading positions %d..%d of thread %d: %w", low, high, threadID, err)
	}
	return out, nil
}
