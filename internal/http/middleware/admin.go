package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminTokenHeader carries the shared secret for profile administration.
const AdminTokenHeader = "X-Admin-Token"

// AdminToken guards a route group with a static shared secret compared in
// constant time. An empty configured token closes the group entirely (503)
// rather than leaving it open.
func AdminToken(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		if len(want) == 0 {
			abortJSON(c, http.StatusServiceUnavailable, "admin_disabled", "admin endpoints are not configured")
			return
		}
		got := []byte(strings.TrimSpace(c.GetHeader(AdminTokenHeader)))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing or invalid admin token")
			return
		}
		c.Next()
	}
}

// abortJSON writes the standard error envelope and stops the chain.
func abortJSON(c *gin.Context, status int, code, msg string) {
	v, _ := c.Get(requestIDKey)
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": asString(v),
		"code":       code,
		"error":      msg,
	})
}
