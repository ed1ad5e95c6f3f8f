package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rmarchiori/gameswap/internal/identity"
)

// Handler exposes the transaction state machine over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new transaction handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up the authenticated transaction routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/me/transactions", h.List)
	r.GET("/transactions/:id", h.Get)
	r.POST("/transactions/:id/complete", h.Complete)
	r.POST("/transactions/:id/dispute", h.Dispute)
}

// RegisterAdminRoutes sets up the admin-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/transactions", h.ListAdmin)
	r.POST("/transactions/:id/resolve", h.Resolve)
}

// ListAdmin handles GET /v1/admin/transactions?status=disputed.
func (h *Handler) ListAdmin(c *gin.Context) {
	status := Status(c.DefaultQuery("status", string(StatusDisputed)))
	switch status {
	case StatusPending, StatusEscrow, StatusCompleted, StatusDisputed, StatusRefunded:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Unknown transaction status",
		})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	txns, err := h.engine.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		writeTxnError(c, err)
		return
	}
	if txns == nil {
		txns = []*Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

// List handles GET /v1/me/transactions?type=all|purchases|sales.
func (h *Handler) List(c *gin.Context) {
	userID := identity.CurrentUserID(c)

	side := TradeSide(c.DefaultQuery("type", string(SideAll)))
	switch side {
	case SideAll, SidePurchases, SideSales:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_type",
			"message": "type must be one of: all, purchases, sales",
		})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	txns, err := h.engine.ListForUser(c.Request.Context(), userID, side, limit)
	if err != nil {
		writeTxnError(c, err)
		return
	}
	if txns == nil {
		txns = []*Transaction{}
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

// Get handles GET /v1/transactions/:id.
func (h *Handler) Get(c *gin.Context) {
	p, ok := identity.CurrentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "Bearer token required.",
		})
		return
	}

	t, err := h.engine.Get(c.Request.Context(), c.Param("id"), p.UserID, p.IsAdmin())
	if err != nil {
		writeTxnError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// Complete handles POST /v1/transactions/:id/complete. Buyer-only:
// confirms delivery and releases the escrowed funds to the seller.
func (h *Handler) Complete(c *gin.Context) {
	userID := identity.CurrentUserID(c)

	t, err := h.engine.Complete(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeTxnError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

type disputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Dispute handles POST /v1/transactions/:id/dispute.
func (h *Handler) Dispute(c *gin.Context) {
	userID := identity.CurrentUserID(c)

	var req disputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	t, err := h.engine.Dispute(c.Request.Context(), c.Param("id"), userID, req.Reason)
	if err != nil {
		writeTxnError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

type resolveRequest struct {
	Outcome string `json:"outcome" binding:"required,oneof=release refund"`
}

// Resolve handles POST /v1/admin/transactions/:id/resolve.
func (h *Handler) Resolve(c *gin.Context) {
	adminID := identity.CurrentUserID(c)

	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "outcome must be release or refund",
		})
		return
	}

	t, err := h.engine.Resolve(c.Request.Context(), c.Param("id"), adminID, req.Outcome)
	if err != nil {
		writeTxnError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

func writeTxnError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Transaction not found",
		})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You are not a party of this transaction",
		})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": "Transaction is not in a state that allows this operation",
		})
	case errors.Is(err, ErrNotDisputed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_state",
			"message": "Transaction is not disputed",
		})
	case errors.Is(err, ErrReasonRequired):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Dispute reason is required",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
