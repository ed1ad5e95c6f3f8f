package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyPrincipal is the key for storing the resolved principal in gin context
	ContextKeyPrincipal = "principal"
)

// Middleware extracts and validates the bearer token from the request.
// Sets the principal in context if valid; anonymous requests pass through.
func Middleware(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		token = strings.TrimPrefix(token, "Bearer ")

		if token != "" {
			p, err := a.Resolve(c.Request.Context(), token)
			if err == nil {
				c.Set(ContextKeyPrincipal, p)
			}
		}

		c.Next()
	}
}

// RequireAuth rejects requests without a resolved principal.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyPrincipal); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Bearer token required.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests whose principal lacks the admin role.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := CurrentPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Bearer token required.",
			})
			return
		}
		if !p.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin role required.",
			})
			return
		}
		c.Next()
	}
}

// CurrentPrincipal returns the resolved principal from context.
func CurrentPrincipal(c *gin.Context) (*Principal, bool) {
	v, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}

// CurrentUserID returns the authenticated user's id, or "" when anonymous.
func CurrentUserID(c *gin.Context) string {
	if p, ok := CurrentPrincipal(c); ok {
		return p.UserID
	}
	return ""
}
