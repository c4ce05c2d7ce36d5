package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// UserHeader carries the authenticated user id, set by the auth proxy.
	UserHeader = "X-User"
	userKey    = "user"
)

// RequireUser rejects requests without a user header.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := strings.TrimSpace(c.GetHeader(UserHeader))
		if user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + UserHeader + " header"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// User returns the user stored by RequireUser.
func User(c *gin.Context) string {
	return c.GetString(userKey)
}
