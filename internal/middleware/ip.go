package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetRealIP resolves the client address. Rigs usually sit behind a home
// router or a reverse proxy on the fleet VPN, so the forwarding headers
// are checked before the socket address.
func GetRealIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		// first non-empty entry is the originating client
		for _, ip := range strings.Split(xff, ",") {
			ip = strings.TrimSpace(ip)
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	if realIP := c.GetHeader("X-Real-IP"); realIP != "" && net.ParseIP(realIP) != nil {
		return realIP
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
		return host
	}
	return "unknown"
}

// IPMiddleware stores the resolved client address in the context.
func IPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("real_ip", GetRealIP(c))
		c.Next()
	}
}

// GetClientIP reads the resolved address set by IPMiddleware, falling
// back to resolving it directly.
func GetClientIP(c *gin.Context) string {
	if realIP, exists := c.Get("real_ip"); exists {
		if ip, ok := realIP.(string); ok {
			return ip
		}
	}
	return GetRealIP(c)
}
