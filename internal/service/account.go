package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/auth"
	"github.com/sakif/threadboard/internal/model"
	"github.com/sakif/threadboard/internal/repository"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
	MinPasswordLength = 8
)

// SessionCreator opens a login session. *session.Store implements it.
type SessionCreator interface {
	Create(ctx context.Context, userID int64) (uuid.UUID, error)
}

// AccountService registers users and logs them in.
//
// USERNAMES:
// The display form is kept as typed. Uniqueness and login use the
// normalized form: NFKC, then Unicode case folding. "Alice", "ALICE" and
// "ａｌｉｃｅ" (fullwidth) are the same account.
type AccountService struct {
	users     repository.UserRepository
	sessions  SessionCreator
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	ids       IDGenerator
	logger    *slog.Logger
}

func NewAccountService(
	users repository.UserRepository,
	sessions SessionCreator,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	ids IDGenerator,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		users:     users,
		sessions:  sessions,
		tokens:    tokens,
		passwords: passwords,
		ids:       ids,
		logger:    logger,
	}
}

// NormalizeUsername returns the uniqueness key for a username.
func NormalizeUsername(username string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(username)))
}

// =========================================================================
// REGISTRATION
// =========================================================================

type Registration struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

// registrationRule returns a message when the input breaks the rule.
type registrationRule struct {
	field string
	check func(r Registration) string
}

// registrationRules run in order; the first failure is reported.
var registrationRules = []registrationRule{
	{"username", func(r Registration) string {
		if strings.TrimSpace(r.Username) == "" {
			return "username is required"
		}
		return ""
	}},
	{"username", func(r Registration) string {
		n := utf8.RuneCountInString(strings.TrimSpace(r.Username))
		if n < MinUsernameLength || n > MaxUsernameLength {
			return fmt.Sprintf("username must be between %d and %d characters", MinUsernameLength, MaxUsernameLength)
		}
		return ""
	}},
	{"username", func(r Registration) string {
		for _, c := range strings.TrimSpace(r.Username) {
			if unicode.IsControl(c) || unicode.IsSpace(c) {
				return "username may not contain spaces or control characters"
			}
		}
		return ""
	}},
	{"password", func(r Registration) string {
		if r.Password == "" {
			return "password is required"
		}
		return ""
	}},
	{"password", func(r Registration) string {
		if utf8.RuneCountInString(r.Password) < MinPasswordLength {
			return fmt.Sprintf("password must be at least %d characters", MinPasswordLength)
		}
		if len(r.Password) > auth.MaxPasswordBytes {
			return fmt.Sprintf("password must be %d bytes or less", auth.MaxPasswordBytes)
		}
		return ""
	}},
	{"passwordConfirm", func(r Registration) string {
		if r.Password != r.PasswordConfirm {
			return "password fields do not match"
		}
		return ""
	}},
	{"email", func(r Registration) string {
		email := strings.TrimSpace(r.Email)
		if email == "" {
			return ""
		}
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			return "email address is not valid"
		}
		return ""
	}},
}

func validateRegistration(r Registration) error {
	for _, rule := range registrationRules {
		if msg := rule.check(r); msg != "" {
			return apperror.ValidationFailed(rule.field, msg)
		}
	}
	return nil
}

// Register validates r and creates the account. A taken username is a
// Conflict.
func (s *AccountService) Register(ctx context.Context, r Registration) (*model.User, error) {
	if err := validateRegistration(r); err != nil {
		return nil, err
	}

	digest, algorithm, err := s.passwords.Hash(r.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &model.User{
		ID:              s.ids.Next(),
		Username:        strings.TrimSpace(r.Username),
		UsernameNormal:  NormalizeUsername(r.Username),
		PasswordDigest:  digest,
		DigestAlgorithm: algorithm,
	}
	if email := strings.TrimSpace(r.Email); email != "" {
		user.Email = &email
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		s.logger.Error("failed to create user",
			slog.String("username", user.Username),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("creating user: %w", err)
	}

	s.logger.Info("user registered",
		slog.Int64("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// =========================================================================
// LOGIN
// =========================================================================

// LoginResult carries the signed cookie value for a fresh session.
type LoginResult struct {
	User      *model.User
	SessionID uuid.UUID
	Token     string
}

var errBadCredentials = apperror.Unauthorized("invalid username or password")

// Login checks credentials and opens a session. Unknown users and wrong
// passwords get the same Unauthorized error.
func (s *AccountService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, errBadCredentials
	}

	user, err := s.users.GetUserByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, errBadCredentials
		}
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordDigest, user.DigestAlgorithm, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("login rejected", slog.Int64("userID", user.ID))
			return nil, errBadCredentials
		}
		return nil, fmt.Errorf("verifying password: %w", err)
	}

	sessionID, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	token, err := s.tokens.Generate(sessionID)
	if err != nil {
		return nil, fmt.Errorf("signing session: %w", err)
	}

	return &LoginResult{User: user, SessionID: sessionID, Token: token}, nil
}

// User returns a registered account by id.
func (s *AccountService) User(ctx context.Context, id int64) (*model.User, error) {
	return s.users.GetUser(ctx, id)
}
