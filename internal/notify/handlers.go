package notify

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rmarchiori/gameswap/internal/identity"
	"github.com/rmarchiori/gameswap/internal/pagination"
)

// Handler exposes the notification inbox over HTTP.
type Handler struct {
	store Store
}

// NewHandler creates a new inbox handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up authenticated inbox routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/me/notifications", h.List)
	r.POST("/notifications/:id/read", h.MarkRead)
}

// List handles GET /v1/me/notifications.
func (h *Handler) List(c *gin.Context) {
	userID := identity.CurrentUserID(c)

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid cursor",
		})
		return
	}

	// Fetch one past the limit so the page computation can tell a full
	// page from the end of the inbox.
	items, err := h.store.ListByUser(c.Request.Context(), userID, cursor, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	items, next, hasMore := pagination.ComputePage(items, limit, func(n *Notification) (time.Time, string) {
		return n.CreatedAt, n.ID
	})
	if items == nil {
		items = []*Notification{}
	}

	resp := gin.H{"notifications": items, "has_more": hasMore}
	if hasMore {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// MarkRead handles POST /v1/notifications/:id/read.
// Only the owner of a notification can mark it read.
func (h *Handler) MarkRead(c *gin.Context) {
	userID := identity.CurrentUserID(c)

	err := h.store.MarkRead(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Notification not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "read"})
}
