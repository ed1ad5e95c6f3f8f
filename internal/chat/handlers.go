package chat

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rmarchiori/gameswap/internal/identity"
)

// Handler exposes fulfillment channels over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a new chat handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up authenticated chat routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/chats/:id", h.Get)
	r.POST("/chats/:id/messages", h.Post)
}

// Get handles GET /v1/chats/:id.
func (h *Handler) Get(c *gin.Context) {
	userID := identity.CurrentUserID(c)

	chatDoc, msgs, err := h.svc.Get(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeChatError(c, err)
		return
	}
	if msgs == nil {
		msgs = []*Message{}
	}

	c.JSON(http.StatusOK, gin.H{
		"chat":     chatDoc,
		"messages": msgs,
	})
}

type postMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// Post handles POST /v1/chats/:id/messages.
func (h *Handler) Post(c *gin.Context) {
	userID := identity.CurrentUserID(c)

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "content is required",
		})
		return
	}

	msg, err := h.svc.Post(c.Request.Context(), c.Param("id"), userID, req.Content)
	if err != nil {
		writeChatError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func writeChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrChatNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Chat not found",
		})
	case errors.Is(err, ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You are not a participant of this chat",
		})
	case errors.Is(err, ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Message content must not be empty",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
