package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ──────────────────────────────────────────────────────────────────
// Bearer Token Authentication Middleware
//
// When API_AUTH_TOKEN is configured, protected routes require:
//   Authorization: Bearer <token>
//
// Browsers cannot set headers on a websocket handshake, so the token
// is also accepted as the ?token= query parameter.
// ──────────────────────────────────────────────────────────────────

// AuthMiddleware returns a Gin middleware that validates bearer tokens.
// An empty token allows every request (development mode).
func AuthMiddleware(token, ginMode string, log zerolog.Logger) gin.HandlerFunc {
	if token == "" && ginMode == gin.ReleaseMode {
		log.Warn().Msg("API_AUTH_TOKEN is not set in release mode; protected endpoints are publicly accessible")
	}

	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		presented, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing Authorization header",
				"hint":  "Use: Authorization: Bearer <API_AUTH_TOKEN>",
			})
			return
		}
		if presented == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid Authorization header format"})
			return
		}

		// Constant-time comparison to prevent timing-based token enumeration
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Next()
	}
}

// bearerToken extracts the presented token. ok is false when nothing was
// presented at all; an empty token with ok means a malformed header.
func bearerToken(c *gin.Context) (string, bool) {
	if auth := c.GetHeader("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			return "", true
		}
		return strings.TrimSpace(parts[1]), true
	}
	if q := c.Query("token"); q != "" {
		return q, true
	}
	return "", false
}
