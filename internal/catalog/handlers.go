package catalog

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides the admin-facing product endpoints owned by this core.
type Handler struct {
	store Store
}

// NewHandler creates a new catalog handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterAdminRoutes sets up admin-only product routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/products/:id/reactivate", h.Reactivate)
}

// Reactivate handles POST /v1/admin/products/:id/reactivate.
// Returns a sold product to the catalog after a refund decision.
func (h *Handler) Reactivate(c *gin.Context) {
	id := c.Param("id")

	err := h.store.SetStatus(c.Request.Context(), id, StatusSold, StatusActive)
	if err != nil {
		switch {
		case errors.Is(err, ErrProductNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Product not found",
			})
		case errors.Is(err, ErrNotAvailable):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "invalid_state",
				"message": "Product is not sold",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "reactivated"})
}
