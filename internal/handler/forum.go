package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/threadboard/internal/apperror"
	"github.com/sakif/threadboard/internal/auth"
	"github.com/sakif/threadboard/internal/model"
	"github.com/sakif/threadboard/internal/service"
)

// Forum is the read and write surface ForumHandler needs.
// *service.ForumService implements it.
type Forum interface {
	ListNodes(ctx context.Context) ([]model.Node, error)
	ViewNode(ctx context.Context, nodeID int64) (*service.NodePage, error)
	ViewThread(ctx context.Context, threadID, page int64) (*service.ThreadPage, error)
	CreateThread(ctx context.Context, in service.NewThread) (*model.Thread, error)
	Reply(ctx context.Context, in service.NewReply) (*service.PostResult, error)
}

// ForumHandler serves nodes, threads and posts as JSON.
//
// Posting does not require an account. A signed-in author is attached to
// the post; a guest post has no user id.
type ForumHandler struct {
	forum  Forum
	logger *slog.Logger
}

func NewForumHandler(forum Forum, logger *slog.Logger) *ForumHandler {
	return &ForumHandler{forum: forum, logger: logger}
}

// HandleListNodes returns every node in display order.
//
// HTTP: GET /api/nodes
func (h *ForumHandler) HandleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.forum.ListNodes(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if nodes == nil {
		nodes = []model.Node{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

// HandleViewNode returns a node and its recent threads.
//
// HTTP: GET /api/nodes/{nodeID}
func (h *ForumHandler) HandleViewNode(w http.ResponseWriter, r *http.Request) {
	nodeID, err := pathID(r, "nodeID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	page, err := h.forum.ViewNode(r.Context(), nodeID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleViewThread returns one page of a thread.
//
// HTTP: GET /api/threads/{threadID}?page=2
func (h *ForumHandler) HandleViewThread(w http.ResponseWriter, r *http.Request) {
	threadID, err := pathID(r, "threadID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	page := int64(1)
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || page < 1 {
			writeError(w, h.logger, apperror.ValidationFailed("page", "must be a positive number"))
			return
		}
	}

	view, err := h.forum.ViewThread(r.Context(), threadID, page)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type createThreadRequest struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Content  string `json:"content"`
}

// HandleCreateThread opens a thread with its first post.
//
// HTTP: POST /api/nodes/{nodeID}/threads
// REQUEST BODY: {"title": "...", "subtitle": "...", "content": "..."}
func (h *ForumHandler) HandleCreateThread(w http.ResponseWriter, r *http.Request) {
	nodeID, err := pathID(r, "nodeID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req createThreadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	thread, err := h.forum.CreateThread(r.Context(), service.NewThread{
		NodeID:   nodeID,
		Title:    req.Title,
		Subtitle: req.Subtitle,
		Content:  req.Content,
		UserID:   author(r),
		IP:       r.RemoteAddr,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/threads/%d", thread.ID))
	writeJSON(w, http.StatusCreated, thread)
}

type replyRequest struct {
	Content string `json:"content"`
}

// HandleReply appends a post to a thread. Location points at the page the
// new post landed on.
//
// HTTP: POST /api/threads/{threadID}/replies
// REQUEST BODY: {"content": "..."}
func (h *ForumHandler) HandleReply(w http.ResponseWriter, r *http.Request) {
	threadID, err := pathID(r, "threadID")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req replyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.forum.Reply(r.Context(), service.NewReply{
		ThreadID: threadID,
		Content:  req.Content,
		UserID:   author(r),
		IP:       r.RemoteAddr,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/threads/%d?page=%d#post-%d", threadID, res.Page, res.Position))
	writeJSON(w, http.StatusCreated, res)
}

// author returns the signed-in user id, or nil for a guest.
func author(r *http.Request) *int64 {
	if id, ok := auth.UserIDFromContext(r.Context()); ok {
		return &id
	}
	return nil
}
