package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/model"
)

func validRegistration() Registration {
	return Registration{
		Username:        "Alice",
		Email:           "alice@example.com",
		Password:        "hunter2hunter2",
		PasswordConfirm: "hunter2hunter2",
	}
}

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Alice", "alice"},
		{"  ALICE ", "alice"},
		{"ａｌｉｃｅ", "alice"}, // fullwidth
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeUsername(tt.in))
		})
	}
}

func TestRegister_ValidationOrder(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Registration)
		field  string
		msg    string
	}{
		{"everything missing reports username first", func(r *Registration) { *r = Registration{} }, "username", "required"},
		{"short username", func(r *Registration) { r.Username = "al" }, "username", "between"},
		{"long username", func(r *Registration) { r.Username = strings.Repeat("a", MaxUsernameLength+1) }, "username", "between"},
		{"space in username", func(r *Registration) { r.Username = "al ice" }, "username", "spaces"},
		{"missing password", func(r *Registration) { r.Password = ""; r.PasswordConfirm = "" }, "password", "required"},
		{"short password", func(r *Registration) { r.Password = "short"; r.PasswordConfirm = "short" }, "password", "at least"},
		{"long password", func(r *Registration) {
			r.Password = strings.Repeat("p", 73)
			r.PasswordConfirm = r.Password
		}, "password", "bytes"},
		{"mismatch", func(r *Registration) { r.PasswordConfirm = "something else" }, "passwordConfirm", "do not match"},
		{"bad email", func(r *Registration) { r.Email = "not-an-email" }, "email", "not valid"},
		{"display-name email", func(r *Registration) { r.Email = "Alice <alice@example.com>" }, "email", "not valid"},
		{"mismatch beats bad email", func(r *Registration) {
			r.PasswordConfirm = "nope"
			r.Email = "nope"
		}, "passwordConfirm", "do not match"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRegistration()
			tt.mutate(&r)

			err := validateRegistration(r)
			var appErr *apperror.AppError
			require.ErrorAs(t, err, &appErr)
			assert.ErrorIs(t, err, apperror.ErrValidation)
			assert.Equal(t, tt.field, appErr.Field)
			assert.Contains(t, appErr.Message, tt.msg)
		})
	}

	assert.NoError(t, validateRegistration(validRegistration()))

	r := validRegistration()
	r.Email = ""
	assert.NoError(t, validateRegistration(r), "email is optional")
}

func TestRegister_StoresDigestNotPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, err := h.accounts.Register(ctx, validRegistration())
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "Alice", user.Username)
	require.NotNil(t, user.Email)
	assert.Equal(t, "alice@example.com", *user.Email)
	assert.Equal(t, model.DigestArgon2id, user.DigestAlgorithm)
	assert.NotContains(t, user.PasswordDigest, "hunter2")

	stored, err := h.repo.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, stored.ID)
}

func TestRegister_DuplicateIgnoresCase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.accounts.Register(ctx, validRegistration())
	require.NoError(t, err)

	again := validRegistration()
	again.Username = "ALICE"
	_, err = h.accounts.Register(ctx, again)
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, err := h.accounts.Register(ctx, validRegistration())
	require.NoError(t, err)

	res, err := h.accounts.Login(ctx, "alice", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, res.User.ID)

	// the cookie value carries the session id, which resolves to the user
	sessionID, err := h.tokens.Validate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, sessionID)

	userID, found, err := h.sessions.Resolve(ctx, sessionID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, user.ID, userID)
}

func TestLogin_Rejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.accounts.Register(ctx, validRegistration())
	require.NoError(t, err)

	tests := []struct {
		name, username, password string
	}{
		{"wrong password", "Alice", "hunter3hunter3"},
		{"unknown user", "bob", "hunter2hunter2"},
		{"empty username", "", "hunter2hunter2"},
		{"empty password", "Alice", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.accounts.Login(ctx, tt.username, tt.password)
			assert.ErrorIs(t, err, apperror.ErrUnauthorized)
		})
	}
}
