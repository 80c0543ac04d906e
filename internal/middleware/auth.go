package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

// internalKeyHeader carries the shared secret for service-to-service calls.
const internalKeyHeader = "X-Internal-API-Key"

// InternalAuth validates service-to-service requests against the
// INTERNAL_API_KEY environment variable.
func InternalAuth() gin.HandlerFunc {
	apiKey := []byte(os.Getenv("INTERNAL_API_KEY"))
	if len(apiKey) == 0 {
		// Fail closed when misconfigured rather than letting every
		// request through.
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "server misconfigured: INTERNAL_API_KEY not set",
			})
		}
	}

	return func(c *gin.Context) {
		key := []byte(c.GetHeader(internalKeyHeader))
		// Constant-time compare to prevent timing attacks
		if subtle.ConstantTimeCompare(key, apiKey) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}
		c.Next()
	}
}
