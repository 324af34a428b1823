package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/model"
)

// =========================================================================
// USERS
// =========================================================================

const userColumns = `id, username, username_normal, email, password_digest, digest_algorithm`

func (db *DB) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := db.conn.GetContext(ctx, &u,
		db.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", idString(id))
		}
		return nil, fmt.Errorf("sqlstore: getting user %d: %w", id, err)
	}
	return &u, nil
}

func (db *DB) GetUserByUsername(ctx context.Context, usernameNormal string) (*model.User, error) {
	var u model.User
	err := db.conn.GetContext(ctx, &u,
		db.q(`SELECT `+userColumns+` FROM users WHERE username_normal = ?`), usernameNormal)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", usernameNormal)
		}
		return nil, fmt.Errorf("sqlstore: getting user %q: %w", usernameNormal, err)
	}
	return &u, nil
}

// CreateUser inserts only if the normalized username is free. The UNIQUE
// constraint settles races between concurrent registrations.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	res, err := db.conn.ExecContext(ctx, db.q(
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (username_normal) DO NOTHING`),
		u.ID, u.Username, u.UsernameNormal, u.Email, u.PasswordDigest, u.DigestAlgorithm)
	if err != nil {
		return fmt.Errorf("sqlstore: inserting user %q: %w", u.UsernameNormal, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: inserting user %q: %w", u.UsernameNormal, err)
	}
	if n == 0 {
		return apperror.Conflict("user", u.UsernameNormal)
	}
	return nil
}

// =========================================================================
// SESSIONS
// =========================================================================

type sessionRow struct {
	ID         string `db:"id"`
	UserID     int64  `db:"user_id"`
	CreatedAt  int64  `db:"created_at"`
	LastSeenAt int64  `db:"last_seen_at"`
}

func (db *DB) CreateSession(ctx context.Context, s *model.UserSession) error {
	_, err := db.conn.ExecContext(ctx,
		db.q(`INSERT INTO user_sessions (id, user_id, created_at, last_seen_at) VALUES (?, ?, ?, ?)`),
		s.ID.String(), s.UserID, millis(s.CreatedAt), millis(s.LastSeenAt))
	if err != nil {
		return fmt.Errorf("sqlstore: inserting session for user %d: %w", s.UserID, err)
	}
	return nil
}

func (db *DB) GetSession(ctx context.Context, id uuid.UUID) (*model.UserSession, error) {
	var row sessionRow
	err := db.conn.GetContext(ctx, &row,
		db.q(`SELECT id, user_id, created_at, last_seen_at FROM user_sessions WHERE id = ?`), id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("session", id.String())
		}
		return nil, fmt.Errorf("sqlstore: getting session: %w", err)
	}
	return &model.UserSession{
		ID:         id,
		UserID:     row.UserID,
		CreatedAt:  fromMillis(row.CreatedAt),
		LastSeenAt: fromMillis(row.LastSeenAt),
	}, nil
}

func (db *DB) TouchSession(ctx context.Context, id uuid.UUID, lastSeenAt time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		db.q(`UPDATE user_sessions SET last_seen_at = ? WHERE id = ?`),
		millis(lastSeenAt), id.String())
	if err != nil {
		return fmt.Errorf("sqlstore: touching session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperror.NotFound("session", id.String())
	}
	return nil
}

// =========================================================================
// UGC
// =========================================================================

type ugcRow struct {
	ID        string  `db:"id"`
	IPID      *string `db:"ip_id"`
	UserID    *int64  `db:"user_id"`
	CreatedAt int64   `db:"created_at"`
	Content   string  `db:"content"`
}

func (db *DB) GetUgc(ctx context.Context, id uuid.UUID) (*model.Ugc, error) {
	var row ugcRow
	err := db.conn.GetContext(ctx, &row,
		db.q(`SELECT id, ip_id, user_id, created_at, content FROM ugc WHERE id = ?`), id.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("ugc", id.String())
		}
		return nil, fmt.Errorf("sqlstore: getting ugc %s: %w", id, err)
	}

	u := &model.Ugc{
		ID:        id,
		UserID:    row.UserID,
		CreatedAt: fromMillis(row.CreatedAt),
		Content:   row.Content,
	}
	if row.IPID != nil {
		ipID, err := uuid.Parse(*row.IPID)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: ugc %s has malformed ip id: %w", id, err)
		}
		u.IPID = &ipID
	}
	return u, nil
}

func (db *DB) CreateUgc(ctx context.Context, u *model.Ugc) error {
	var ipID *string
	if u.IPID != nil {
		s := u.IPID.String()
		ipID = &s
	}
	_, err := db.conn.ExecContext(ctx,
		db.q(`INSERT INTO ugc (id, ip_id, user_id, created_at, content) VALUES (?, ?, ?, ?, ?)`),
		u.ID.String(), ipID, u.UserID, millis(u.CreatedAt), u.Content)
	if err != nil {
		return fmt.Errorf("sqlstore: inserting ugc %s: %w", u.ID, err)
	}
	return nil
}
