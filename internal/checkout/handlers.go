package checkout

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rmarchiori/gameswap/internal/identity"
)

// Handler exposes checkout session creation over HTTP.
type Handler struct {
	builder *Builder
}

// NewHandler creates a new checkout handler.
func NewHandler(builder *Builder) *Handler {
	return &Handler{builder: builder}
}

// RegisterRoutes sets up authenticated checkout routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/checkout/session", h.CreateSession)
}

type cartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createSessionRequest struct {
	ProductID  string            `json:"product_id"`
	ProductIDs []string          `json:"product_ids"`
	Items      []cartItemRequest `json:"items"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
}

// cart merges the three request forms: an items list with quantities, a
// product id list, and a bare single product id. Omitted quantities
// default to one.
func (r createSessionRequest) cart() Request {
	req := Request{ProductIDs: r.ProductIDs, SuccessURL: r.SuccessURL, CancelURL: r.CancelURL}
	if r.ProductID != "" {
		req.ProductIDs = append([]string{r.ProductID}, req.ProductIDs...)
	}
	for _, it := range r.Items {
		q := it.Quantity
		if q == 0 {
			q = 1
		}
		req.Items = append(req.Items, Line{ProductID: it.ProductID, Quantity: q})
	}
	return req
}

// CreateSession handles POST /v1/checkout/session.
func (h *Handler) CreateSession(c *gin.Context) {
	buyerID := identity.CurrentUserID(c)

	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.cart().lines()) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "items, product_ids or product_id is required",
		})
		return
	}

	sess, err := h.builder.Build(c.Request.Context(), buyerID, req.cart())
	if err != nil {
		switch {
		case errors.Is(err, ErrBadRedirect):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_redirect",
				"message": err.Error(),
			})
		case errors.Is(err, ErrInvalidCart):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_cart",
				"message": err.Error(),
			})
		case errors.Is(err, ErrOwnProduct):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "own_product",
				"message": "You cannot purchase your own product",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id":   sess.ID,
		"checkout_url": sess.URL,
	})
}
