package ledger

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rmarchiori/gameswap/internal/identity"
)

// Handler exposes read-only balance endpoints. All writes go through
// the escrow engine and the payout service.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new balance handler.
func NewHandler(l *Ledger) *Handler {
	return &Handler{ledger: l}
}

// RegisterRoutes sets up the authenticated balance routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/me/balance", h.Balance)
	r.GET("/me/ledger", h.History)
}

// Balance handles GET /v1/me/balance.
func (h *Handler) Balance(c *gin.Context) {
	userID := identity.CurrentUserID(c)

	bal, err := h.ledger.GetBalance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

// History handles GET /v1/me/ledger.
func (h *Handler) History(c *gin.Context) {
	userID := identity.CurrentUserID(c)

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	entries, err := h.ledger.GetHistory(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	if entries == nil {
		entries = []*Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
