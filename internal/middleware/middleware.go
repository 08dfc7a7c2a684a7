// Package middleware provides gin middleware for the agent's control API.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rigops/rigagent/internal/auth"
)

// AuthMiddleware JWT auth middleware for the control API.
func AuthMiddleware(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader("X-Rig-Key")
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
			c.Abort()
			return
		}

		claims, err := svc.ValidateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		svc.TouchSession(tokenString)
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)
		c.Set("token", tokenString)
		c.Next()
	}
}

// WsAuthMiddleware websocket auth middleware. Browsers cannot set
// custom headers on websocket upgrades, so the token may also arrive in
// the Sec-WebSocket-Protocol header ("Authorization, <token>") or a
// query parameter.
func WsAuthMiddleware(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.GetHeader("X-Rig-Key")

		if tokenString == "" {
			protocols := c.GetHeader("Sec-WebSocket-Protocol")
			if protocols != "" {
				parts := strings.Split(protocols, ",")
				if len(parts) >= 2 && strings.TrimSpace(parts[0]) == "Authorization" {
					tokenString = strings.TrimSpace(parts[1])
				}
			}
		}

		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
			c.Abort()
			return
		}

		claims, err := svc.ValidateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		svc.TouchSession(tokenString)
		c.Set("username", claims.Username)
		c.Set("role", claims.Role)
		c.Set("token", tokenString)
		c.Next()
	}
}

// AdminMiddleware requires the admin role; must run after AuthMiddleware.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists || role != "admin" {
			c.JSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// DisableLogMiddleware marks the request to be skipped by the access log.
// Heartbeat-style polls would otherwise flood the agent log.
func DisableLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("disable_log", true)
		c.Next()
	}
}
