package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/auth"
	"github.com/sakif/threadboard/internal/model"
	"github.com/sakif/threadboard/internal/service"
)

// Accounts is what AccountHandler needs. *service.AccountService implements it.
type Accounts interface {
	Register(ctx context.Context, r service.Registration) (*model.User, error)
	Login(ctx context.Context, username, password string) (*service.LoginResult, error)
	User(ctx context.Context, id int64) (*model.User, error)
}

// AccountHandler manages registration and password login.
//
// A successful login sets an HttpOnly cookie holding a signed session token.
// The session middleware resolves it on later requests.
type AccountHandler struct {
	accounts Accounts
	logger   *slog.Logger
}

func NewAccountHandler(accounts Accounts, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, logger: logger}
}

// HandleRegister creates an account. It does not log the user in.
//
// HTTP: POST /api/register
// REQUEST BODY: {"username", "email", "password", "passwordConfirm"}
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req service.Registration
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin checks credentials and sets the session cookie.
//
// HTTP: POST /api/login
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	auth.SetSessionCookie(w, res.Token, r.TLS != nil)
	h.logger.Info("user logged in", slog.Int64("userID", res.User.ID))
	writeJSON(w, http.StatusOK, res.User)
}

// HandleLogout drops the cookie. The session row is left in place.
//
// HTTP: POST /api/logout
func (h *AccountHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the signed-in user. Mount it behind auth.RequireAuth.
//
// HTTP: GET /api/me
func (h *AccountHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("not signed in"))
		return
	}

	user, err := h.accounts.User(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
