package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/model"
)

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// =========================================================================
// NODES
// =========================================================================

func (db *DB) ListNodes(ctx context.Context) ([]model.Node, error) {
	var nodes []model.Node
	err := db.conn.SelectContext(ctx, &nodes,
		`SELECT id, display_order, title, description FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing nodes: %w", err)
	}
	return nodes, nil
}

func (db *DB) GetNode(ctx context.Context, id int64) (*model.Node, error) {
	var n model.Node
	err := db.conn.GetContext(ctx, &n,
		db.q(`SELECT id, display_order, title, description FROM nodes WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("node", idString(id))
		}
		return nil, fmt.Errorf("sqlstore: getting node %d: %w", id, err)
	}
	return &n, nil
}

func (db *DB) CreateNode(ctx context.Context, node *model.Node) error {
	_, err := db.conn.NamedExecContext(ctx,
		`INSERT INTO nodes (id, display_order, title, description)
		 VALUES (:id, :display_order, :title, :description)`, node)
	if err != nil {
		return fmt.Errorf("sqlstore: inserting node %d: %w", node.ID, err)
	}
	return nil
}

// =========================================================================
// THREADS
// =========================================================================

type threadRow struct {
	ID              int64   `db:"id"`
	NodeID          int64   `db:"node_id"`
	BucketID        int32   `db:"bucket_id"`
	Title           string  `db:"title"`
	Subtitle        *string `db:"subtitle"`
	CreatedAt       int64   `db:"created_at"`
	FirstPostID     int64   `db:"first_post_id"`
	FirstPostUserID *int64  `db:"first_post_user_id"`
	LastPostID      int64   `db:"last_post_id"`
	LastPostUserID  *int64  `db:"last_post_user_id"`
}

func (r threadRow) model() *model.Thread {
	return &model.Thread{
		ID:              r.ID,
		NodeID:          r.NodeID,
		BucketID:        r.BucketID,
		Title:           r.Title,
		Subtitle:        r.Subtitle,
		CreatedAt:       fromMillis(r.CreatedAt),
		FirstPostID:     r.FirstPostID,
		FirstPostUserID: r.FirstPostUserID,
		LastPostID:      r.LastPostID,
		LastPostUserID:  r.LastPostUserID,
	}
}

func (db *DB) GetThread(ctx context.Context, id int64) (*model.Thread, error) {
	var row threadRow
	err := db.conn.GetContext(ctx, &row, db.q(
		`SELECT id, node_id, bucket_id, title, subtitle, created_at,
		        first_post_id, first_post_user_id, last_post_id, last_post_user_id
		 FROM threads WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("thread", idString(id))
		}
		return nil, fmt.Errorf("sqlstore: getting thread %d: %w", id, err)
	}
	return row.model(), nil
}

func (db *DB) ThreadIDsInBucket(ctx context.Context, nodeID int64, bucketID int32) ([]int64, error) {
	var ids []int64
	err := db.conn.SelectContext(ctx, &ids,
		db.q(`SELECT id FROM threads WHERE node_id = ? AND bucket_id = ?`), nodeID, bucketID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing threads of node %d bucket %d: %w", nodeID, bucketID, err)
	}
	return ids, nil
}

func (db *DB) CreateThread(ctx context.Context, t *model.Thread) error {
	_, err := db.conn.ExecContext(ctx, db.q(
		`INSERT INTO threads (id, node_id, bucket_id, title, subtitle, created_at,
		                      first_post_id, first_post_user_id, last_post_id, last_post_user_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.NodeID, t.BucketID, t.Title, t.Subtitle, millis(t.CreatedAt),
		t.FirstPostID, t.FirstPostUserID, t.LastPostID, t.LastPostUserID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: inserting thread %d: %w", t.ID, err)
	}
	return nil
}

func (db *DB) UpdateThreadLastPost(ctx context.Context, threadID, postID int64, userID *int64) error {
	res, err := db.conn.ExecContext(ctx,
		db.q(`UPDATE threads SET last_post_id = ?, last_post_user_id = ? WHERE id = ?`),
		postID, userID, threadID)
	if err != nil {
		return fmt.Errorf("sqlstore: updating last post of thread %d: %w", threadID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound("thread", idString(threadID))
	}
	return nil
}

// =========================================================================
// POSTS
// =========================================================================

type postRow struct {
	ID        int64  `db:"id"`
	ThreadID  int64  `db:"thread_id"`
	CreatedAt int64  `db:"created_at"`
	UserID    *int64 `db:"user_id"`
	UgcID     string `db:"ugc_id"`
}

func (db *DB) GetPost(ctx context.Context, id int64) (*model.Post, error) {
	var row postRow
	err := db.conn.GetContext(ctx, &row,
		db.q(`SELECT id, thread_id, created_at, user_id, ugc_id FROM posts WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("post", idString(id))
		}
		return nil, fmt.Errorf("sqlstore: getting post %d: %w", id, err)
	}

	ugcID, err := uuid.Parse(row.UgcID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: post %d has malformed ugc id: %w", id, err)
	}

	return &model.Post{
		ID:        row.ID,
		ThreadID:  row.ThreadID,
		CreatedAt: fromMillis(row.CreatedAt),
		UserID:    row.UserID,
		UgcID:     ugcID,
	}, nil
}

func (db *DB) CreatePost(ctx context.Context, p *model.Post) error {
	_, err := db.conn.ExecContext(ctx,
		db.q(`INSERT INTO posts (id, thread_id, created_at, user_id, ugc_id) VALUES (?, ?, ?, ?, ?)`),
		p.ID, p.ThreadID, millis(p.CreatedAt), p.UserID, p.UgcID.String())
	if err != nil {
		return fmt.Errorf("sqlstore: inserting post %d: %w", p.ID, err)
	}
	return nil
}

// =========================================================================
// POSITIONS
// =========================================================================

func (db *DB) MaxPosition(ctx context.Context, threadID int64) (int64, error) {
	var top int64
	err := db.conn.GetContext(ctx, &top,
		db.q(`SELECT COALESCE(MAX(position), 0) FROM post_positions WHERE thread_id = ?`), threadID)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: reading max position of thread %d: %w", threadID, err)
	}
	return top, nil
}

// ClaimPosition relies on the (thread_id, position) primary key: of several
// concurrent inserts for one slot exactly one affects a row.
func (db *DB) ClaimPosition(ctx context.Context, threadID, position, postID int64) (bool, error) {
	res, err := db.conn.ExecContext(ctx, db.q(
		`INSERT INTO post_positions (thread_id, position, post_id) VALUES (?, ?, ?)
		 ON CONFLICT (thread_id, position) DO NOTHING`),
		threadID, position, postID)
	if err != nil {
		return false, fmt.Errorf("sqlstore: claiming position %d of thread %d: %w", position, threadID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlstore: claiming position %d of thread %d: %w", position, threadID, err)
	}
	return n == 1, nil
}

type positionRow struct {
	ThreadID int64 `db:"thread_id"`
	Position int64 `db:"position"`
	PostID   int64 `db:"post_id"`
}

func (db *DB) PositionsInRange(ctx context.Context, threadID, low, high int64) ([]model.PostPosition, error) {
	var rows []positionRow
	err := db.conn.SelectContext(ctx, &rows, db.q(
		`SELECT thread_id, position, post_id
		 FROM post_positions
		 WHERE thread_id = ? AND position >= ? AND position <= ?
		 ORDER BY position`),
		threadID, low, high)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: reading positions %d..%d of thread %d: %w", low, high, threadID, err)
	}

	out := make([]model.PostPosition, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.PostPosition{ThreadID: r.ThreadID, Position: r.Position, PostID: r.PostID})
	}
	return out, nil
}
