package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	apierrors "github.com/tidyfile/tidyfile/internal/errors"
)

// Context keys for request-scoped values
const (
	ContextKeyOwnerID   = "owner_id"
	ContextKeyRequestID = "request_id"
)

// OwnerHeader carries the caller identity resolved by the upstream auth
// layer. Requests without it are rejected before any session lookup.
const OwnerHeader = "X-User-ID"

// RequireOwner extracts the caller identity from the upstream auth header
// and sets it in the context. Session ownership checks build on this.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := c.GetHeader(OwnerHeader)
		if ownerID == "" {
			respondWithError(c, apierrors.ErrAccessDeniedError)
			c.Abort()
			return
		}
		c.Set(ContextKeyOwnerID, ownerID)
		c.Next()
	}
}

// GetOwnerIDFromContext extracts the owner ID from the gin context
// Returns empty string if not found
func GetOwnerIDFromContext(c *gin.Context) string {
	ownerID, exists := c.Get(ContextKeyOwnerID)
	if !exists {
		return ""
	}
	return ownerID.(string)
}

// RequestID adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(ContextKeyRequestID, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// GetRequestIDFromContext extracts the request ID from the gin context
// Returns empty string if not found
func GetRequestIDFromContext(c *gin.Context) string {
	requestID, exists := c.Get(ContextKeyRequestID)
	if !exists {
		return ""
	}
	return requestID.(string)
}

// CORS configures CORS headers
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		// Check if origin is allowed
		allowed := false
		for _, o := range allowedOrigins {
			if o == origin || o == "*" {
				allowed = true
				break
			}
		}

		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-User-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Max-Age", "43200") // 12 hours
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// respondWithError sends a standardized error response
func respondWithError(c *gin.Context, err *apierrors.APIError) {
	c.JSON(err.HTTPStatus, apierrors.ErrorResponse{
		Error:     *err,
		RequestID: GetRequestIDFromContext(c),
	})
}
