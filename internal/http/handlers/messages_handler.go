package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-dispatch-backend/internal/domain"
	"github.com/tbourn/go-dispatch-backend/internal/http/middleware"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
	"github.com/tbourn/go-dispatch-backend/internal/utils"
)

// PostMessageBody is the JSON payload for a chat message. Sender fields
// default to the X-User-ID and X-User-Role headers.
type PostMessageBody struct {
	SenderID   string `json:"sender_id" example:"staff-7"`
	SenderRole string `json:"sender_role" example:"staff"`
	Message    string `json:"message" binding:"required" example:"on my way"`
}

// ListMessagesResponse holds messages newest first.
type ListMessagesResponse struct {
	Messages []domain.ChatMessage `json:"messages"`
}

// PostMessage godoc
// @ID          postMessage
// @Summary     Post a chat message
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID    header  string  false "Sender id"
// @Param       X-User-Role  header  string  false "Sender role: store, staff, customer or system"
// @Param       body         body    handlers.PostMessageBody  true  "Message payload"
//
// @Success     201  {object} domain.ChatMessage
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     503  {object} handlers.ErrorResponse "Storage unavailable"
// @Router      /messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	var body PostMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}
	sender := strings.TrimSpace(body.SenderID)
	if sender == "" {
		sender = middleware.ActorID(c)
	}
	role := strings.ToLower(strings.TrimSpace(body.SenderRole))
	if role == "" {
		role = middleware.ActorRole(c)
	}

	m, err := h.msgSvc.Post(c.Request.Context(), sender, role, body.Message)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, m)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List chat messages
// @Description Returns up to limit messages newest first, optionally only those after after_id. Supports weak ETag.
// @Tags        Messages
// @Produce     json
//
// @Param       limit          query   int     false "Max messages"  minimum(1) maximum(100) default(20)
// @Param       after_id       query   int     false "Only messages with a greater id"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     503  {object} handlers.ErrorResponse "Storage unavailable"
// @Router      /messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	limit := utils.AtoiDefault(c.Query("limit"), 0)

	var after uint64
	if raw := c.Query("after_id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "after_id must be a non-negative integer")
			return
		}
		after = v
	}

	if db := h.messageDB(); db != nil {
		if count, maxID, err := repo.MessagesStats(ctx, db); err == nil {
			if notModified(c, fmt.Sprintf(`W/"messages:%d:%d:%d:%d"`, count, maxID, limit, after)) {
				return
			}
		}
	}

	items, err := h.msgSvc.List(ctx, limit, after)
	if err != nil {
		failService(c, err)
		return
	}
	if items == nil {
		items = []domain.ChatMessage{}
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: items})
}

// LatestMessage godoc
// @ID          latestMessage
// @Summary     Newest chat message
// @Description Used by the background worker to resolve push notifications.
// @Tags        Messages
// @Produce     json
//
// @Success     200  {object} domain.ChatMessage
// @Failure     404  {object} handlers.ErrorResponse "No messages yet"
// @Failure     503  {object} handlers.ErrorResponse "Storage unavailable"
// @Router      /messages/latest [get]
func (h *Handlers) LatestMessage(c *gin.Context) {
	m, err := h.msgSvc.Latest(c.Request.Context())
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, m)
}
