package payout

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rmarchiori/gameswap/internal/identity"
	"github.com/rmarchiori/gameswap/internal/ledger"
)

// Handler exposes withdrawals over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a new payout handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up the authenticated withdrawal routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/withdrawals", h.Request)
	r.GET("/me/withdrawals", h.List)
}

// RegisterAdminRoutes sets up the admin review routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/withdrawals", h.Pending)
	r.POST("/withdrawals/:id/approve", h.Approve)
	r.POST("/withdrawals/:id/reject", h.Reject)
}

type withdrawalRequest struct {
	Amount      string `json:"amount" binding:"required"`
	Method      string `json:"method" binding:"required,oneof=pix bank_transfer"`
	Destination string `json:"destination" binding:"required"`
}

// Request handles POST /v1/withdrawals.
func (h *Handler) Request(c *gin.Context) {
	userID := identity.CurrentUserID(c)

	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount, method (pix or bank_transfer) and destination are required",
		})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amount must be a decimal string",
		})
		return
	}

	w, err := h.svc.Request(c.Request.Context(), userID, amount, Method(req.Method), req.Destination)
	if err != nil {
		writePayoutError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"withdrawal": w})
}

// List handles GET /v1/me/withdrawals.
func (h *Handler) List(c *gin.Context) {
	userID := identity.CurrentUserID(c)

	items, err := h.svc.ListForUser(c.Request.Context(), userID, queryLimit(c))
	if err != nil {
		writePayoutError(c, err)
		return
	}
	if items == nil {
		items = []*Withdrawal{}
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": items})
}

// Pending handles GET /v1/admin/withdrawals.
func (h *Handler) Pending(c *gin.Context) {
	items, err := h.svc.PendingQueue(c.Request.Context(), queryLimit(c))
	if err != nil {
		writePayoutError(c, err)
		return
	}
	if items == nil {
		items = []*Withdrawal{}
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": items})
}

// Approve handles POST /v1/admin/withdrawals/:id/approve.
func (h *Handler) Approve(c *gin.Context) {
	adminID := identity.CurrentUserID(c)

	w, err := h.svc.Approve(c.Request.Context(), c.Param("id"), adminID)
	if err != nil {
		writePayoutError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

// Reject handles POST /v1/admin/withdrawals/:id/reject.
func (h *Handler) Reject(c *gin.Context) {
	adminID := identity.CurrentUserID(c)

	w, err := h.svc.Reject(c.Request.Context(), c.Param("id"), adminID)
	if err != nil {
		writePayoutError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawal": w})
}

func queryLimit(c *gin.Context) int {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	return limit
}

func writePayoutError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrWithdrawalNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Withdrawal not found",
		})
	case errors.Is(err, ErrBelowMinimum):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "below_minimum",
			"message": "Minimum withdrawal is " + MinAmount.StringFixed(2),
		})
	case errors.Is(err, ErrInvalidMethod):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_method",
			"message": err.Error(),
		})
	case errors.Is(err, ErrUnverifiedAccount):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unverified_account",
			"message": "Verify your account before requesting withdrawals",
		})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "insufficient_balance",
			"message": "Available balance does not cover this amount",
		})
	case errors.Is(err, ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "already_processed",
			"message": "Withdrawal was already processed",
		})
	case errors.Is(err, identity.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "User not found",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
