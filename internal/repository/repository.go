// Package repository declares the storage contracts the rest of the
// application is written against.
//
// Every method reads or writes a single key (or a single partition). There
// are no joins and no multi-row transactions; anything that needs several
// rows fans out from the caller (see package fanout).
//
// ERROR CONTRACT:
//   - A single-key read of a missing row returns an error wrapping
//     apperror.ErrNotFound.
//   - A conditional insert that loses returns (false, nil), not an error.
//   - Everything else is a store error, wrapped with the backend name.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/threadboard/internal/model"
)

type NodeRepository interface {
	ListNodes(ctx context.Context) ([]model.Node, error)
	GetNode(ctx context.Context, id int64) (*model.Node, error)
	CreateNode(ctx context.Context, node *model.Node) error
}

type ThreadRepository interface {
	GetThread(ctx context.Context, id int64) (*model.Thread, error)
	// ThreadIDsInBucket lists one bucket of a node's threads.
	ThreadIDsInBucket(ctx context.Context, nodeID int64, bucketID int32) ([]int64, error)
	CreateThread(ctx context.Context, thread *model.Thread) error
	// UpdateThreadLastPost rewrites the denormalized last-post columns.
	UpdateThreadLastPost(ctx context.Context, threadID, postID int64, userID *int64) error
}

type PostRepository interface {
	GetPost(ctx context.Context, id int64) (*model.Post, error)
	CreatePost(ctx context.Context, post *model.Post) error
}

// PositionRepository stores the (thread, position) → post mapping.
type PositionRepository interface {
	// MaxPosition returns 0 for a thread with no positions.
	MaxPosition(ctx context.Context, threadID int64) (int64, error)
	// ClaimPosition inserts (thread, position) → post only if the slot is
	// free. It reports whether this call won the slot.
	ClaimPosition(ctx context.Context, threadID, position, postID int64) (bool, error)
	// PositionsInRange returns the mappings with low <= position <= high.
	PositionsInRange(ctx context.Context, threadID, low, high int64) ([]model.PostPosition, error)
}

type UgcRepository interface {
	GetUgc(ctx context.Context, id uuid.UUID) (*model.Ugc, error)
	CreateUgc(ctx context.Context, ugc *model.Ugc) error
}

type UserRepository interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	// GetUserByUsername looks up by the normalized username.
	GetUserByUsername(ctx context.Context, usernameNormal string) (*model.User, error)
	// CreateUser fails with apperror.ErrConflict when the normalized
	// username is taken.
	CreateUser(ctx context.Context, user *model.User) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *model.UserSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.UserSession, error)
	TouchSession(ctx context.Context, id uuid.UUID, lastSeenAt time.Time) error
}

// CounterRepository stores approximate per-entity counters.
type CounterRepository interface {
	IncrementCounter(ctx context.Context, counter model.Counter, id int64, delta int64) error
	// GetCounter reports found=false when the entity has no counter row.
	GetCounter(ctx context.Context, counter model.Counter, id int64) (value int64, found bool, err error)
}

// Store is everything a backend provides.
type Store interface {
	NodeRepository
	ThreadRepository
	PostRepository
	PositionRepository
	UgcRepository
	UserRepository
	SessionRepository
	CounterRepository
	Close() error
}
