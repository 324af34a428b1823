// Package session issues and resolves login sessions.
//
// A session is a random UUID bound to a user id. Resolving an unknown token
// is not an error; the visitor is simply anonymous. Touch records activity
// in the background and never reports failure to the request.
//
// Sessions do not expire here. The signed cookie that carries the token has
// its own lifetime (see auth.TokenService).
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/model"
	"github.com/sakif/threadboard/internal/repository"
	"github.com/sakif/threadboard/internal/worker"
)

// Submitter accepts background tasks. *worker.Queue implements it.
type Submitter interface {
	Submit(t worker.Task) bool
}

type Store struct {
	repo   repository.SessionRepository
	queue  Submitter
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(repo repository.SessionRepository, queue Submitter, logger *slog.Logger) *Store {
	return &Store{repo: repo, queue: queue, logger: logger, now: time.Now}
}

// Create persists a new session for userID and returns its token.
func (s *Store) Create(ctx context.Context, userID int64) (uuid.UUID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil, fmt.Errorf("session: generating token: %w", err)
	}

	now := s.now().UTC()
	sess := &model.UserSession{
		ID:         id,
		UserID:     userID,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return uuid.Nil, fmt.Errorf("session: creating for user %d: %w", userID, err)
	}

	s.logger.Info("session created", slog.Int64("userID", userID))
	return id, nil
}

// Resolve returns the user bound to token. found is false for unknown tokens.
func (s *Store) Resolve(ctx context.Context, token uuid.UUID) (userID int64, found bool, err error) {
	sess, err := s.repo.GetSession(ctx, token)
	if err != nil {
		if apperror.IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("session: resolving: %w", err)
	}
	return sess.UserID, true, nil
}

// Touch schedules a last-seen refresh for token.
func (s *Store) Touch(token uuid.UUID) {
	seen := s.now().UTC()
	s.queue.Submit(worker.Task{
		Name: "session:touch",
		Run: func(ctx context.Context) error {
			return s.repo.TouchSession(ctx, token, seen)
		},
	})
}
