package cassandra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/model"
)

// =========================================================================
// USERS
// =========================================================================

func (db *DB) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u := model.User{ID: id}
	err := db.query(ctx,
		`SELECT username, username_normal, email, password_digest, digest_algorithm FROM users WHERE id = ?`, id).
		Scan(&u.Username, &u.UsernameNormal, &u.Email, &u.PasswordDigest, &u.DigestAlgorithm)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, apperror.NotFound("user", idString(id))
		}
		return nil, fmt.Errorf("cassandra: getting user %d: %w", id, err)
	}
	return &u, nil
}

func (db *DB) GetUserByUsername(ctx context.Context, usernameNormal string) (*model.User, error) {
	var id int64
	err := db.query(ctx,
		`SELECT user_id FROM users_by_username WHERE username_normal = ?`, usernameNormal).Scan(&id)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, apperror.NotFound("user", usernameNormal)
		}
		return nil, fmt.Errorf("cassandra: looking up user %q: %w", usernameNormal, err)
	}
	return db.GetUser(ctx, id)
}

// CreateUser reserves the normalized username first; only the winner of
// that conditional insert writes the user row.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	applied, err := db.query(ctx,
		`INSERT INTO users_by_username (username_normal, user_id) VALUES (?, ?) IF NOT EXISTS`,
		u.UsernameNormal, u.ID).MapScanCAS(map[string]any{})
	if err != nil {
		return fmt.Errorf("cassandra: reserving username %q: %w", u.UsernameNormal, err)
	}
	if !applied {
		return apperror.Conflict("user", u.UsernameNormal)
	}

	err = db.query(ctx,
		`INSERT INTO users (id, username, username_normal, email, password_digest, digest_algorithm)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.UsernameNormal, u.Email, u.PasswordDigest, u.DigestAlgorithm).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: inserting user %d: %w", u.ID, err)
	}
	return nil
}

// =========================================================================
// SESSIONS
// =========================================================================

func (db *DB) CreateSession(ctx context.Context, s *model.UserSession) error {
	err := db.query(ctx,
		`INSERT INTO user_sessions (id, user_id, created_at, last_seen_at) VALUES (?, ?, ?, ?)`,
		gocql.UUID(s.ID), s.UserID, s.CreatedAt, s.LastSeenAt).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: inserting session for user %d: %w", s.UserID, err)
	}
	return nil
}

func (db *DB) GetSession(ctx context.Context, id uuid.UUID) (*model.UserSession, error) {
	s := model.UserSession{ID: id}
	err := db.query(ctx,
		`SELECT user_id, created_at, last_seen_at FROM user_sessions WHERE id = ?`, gocql.UUID(id)).
		Scan(&s.UserID, &s.CreatedAt, &s.LastSeenAt)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, apperror.NotFound("session", id.String())
		}
		return nil, fmt.Errorf("cassandra: getting session: %w", err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.LastSeenAt = s.LastSeenAt.UTC()
	return &s, nil
}

// TouchSession is a plain upsert. It only runs for sessions that were just
// resolved, and a conditional update on every request would be too costly.
func (db *DB) TouchSession(ctx context.Context, id uuid.UUID, lastSeenAt time.Time) error {
	err := db.query(ctx,
		`UPDATE user_sessions SET last_seen_at = ? WHERE id = ?`, lastSeenAt, gocql.UUID(id)).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: touching session: %w", err)
	}
	return nil
}

// =========================================================================
// UGC
// =========================================================================

func (db *DB) GetUgc(ctx context.Context, id uuid.UUID) (*model.Ugc, error) {
	var (
		u    = model.Ugc{ID: id}
		ipID *gocql.UUID
	)
	err := db.query(ctx,
		`SELECT ip_id, user_id, created_at, content FROM ugc WHERE id = ?`, gocql.UUID(id)).
		Scan(&ipID, &u.UserID, &u.CreatedAt, &u.Content)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return nil, apperror.NotFound("ugc", id.String())
		}
		return nil, fmt.Errorf("cassandra: getting ugc %s: %w", id, err)
	}
	if ipID != nil {
		v := uuid.UUID(*ipID)
		u.IPID = &v
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

func (db *DB) CreateUgc(ctx context.Context, u *model.Ugc) error {
	var ipID *gocql.UUID
	if u.IPID != nil {
		v := gocql.UUID(*u.IPID)
		ipID = &v
	}
	err := db.query(ctx,
		`INSERT INTO ugc (id, ip_id, user_id, created_at, content) VALUES (?, ?, ?, ?, ?)`,
		gocql.UUID(u.ID), ipID, u.UserID, u.CreatedAt, u.Content).Exec()
	if err != nil {
		return fmt.Errorf("cassandra: inserting ugc %s: %w", u.ID, err)
	}
	return nil
}

// =========================================================================
// COUNTERS
// =========================================================================

func counterTable(c model.Counter) (table, column string, err error) {
	switch c {
	case model.CounterThreadViews:
		return "thread_views", "view_count", nil
	case model.CounterThreadReplies:
		return "thread_replies", "reply_count", nil
	}
	return "", "", fmt.Errorf("cassandra: unknown counter %q", c)
}

// IncrementCounter uses the native counter type; concurrent increments
// merge on the server.
func (db *DB) IncrementCounter(ctx context.Context, counter model.Counter, id int64, delta int64) error {
	table, column, err := counterTable(counter)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf(`UPDATE %s SET %s = %s + ? WHERE id = ?`, table, column, column)
	if err := db.query(ctx, stmt, delta, id).Exec(); err != nil {
		return fmt.Errorf("cassandra: incrementing %s for %d: %w", counter, id, err)
	}
	return nil
}

func (db *DB) GetCounter(ctx context.Context, counter model.Counter, id int64) (int64, bool, error) {
	table, column, err := counterTable(counter)
	if err != nil {
		return 0, false, err
	}
	var v int64
	stmt := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, column, table)
	if err := db.query(ctx, stmt, id).Scan(&v); err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("cassandra: reading %s for %d: %w", counter, id, err)
	}
	return v, true, nil
}
