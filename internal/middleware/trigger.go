package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TriggerMiddleware authenticates the external cron scheduler on the
// pipeline trigger endpoints via a shared secret. Requests are rejected
// before any pipeline work begins.
type TriggerMiddleware struct {
	secret string
}

// NewTriggerMiddleware creates a new trigger authentication middleware.
func NewTriggerMiddleware(secret string) *TriggerMiddleware {
	return &TriggerMiddleware{secret: secret}
}

// RequireTriggerSecret validates the shared secret, accepted either as an
// X-Trigger-Secret header or a Bearer token.
func (tm *TriggerMiddleware) RequireTriggerSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tm.secret != "" {
			if secretEqual(c.GetHeader("X-Trigger-Secret"), tm.secret) {
				c.Next()
				return
			}

			authHeader := c.GetHeader("Authorization")
			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) == 2 && strings.ToLower(tokenParts[0]) == "bearer" && secretEqual(tokenParts[1], tm.secret) {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "Unauthorized",
			"message": "Valid trigger secret required for this endpoint",
		})
		c.Abort()
	}
}

func secretEqual(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
