package middleware

import (
	"net/http"

	"go-backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminAllowlist restricts operator endpoints (archival, manual conversion
// retries) to the configured client IPs. An empty allowlist means localhost
// only.
func AdminAllowlist(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.Admin.AllowedIPs))
	for _, ip := range cfg.Admin.AllowedIPs {
		allowed[ip] = struct{}{}
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if len(allowed) == 0 {
			if ip == "127.0.0.1" || ip == "::1" {
				c.Next()
				return
			}
		} else if _, ok := allowed[ip]; ok {
			c.Next()
			return
		}

		logrus.WithFields(logrus.Fields{
			"ip":   ip,
			"path": c.Request.URL.Path,
		}).Warn("admin endpoint access denied")
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "Operator access restricted",
			"code":    "NOT_AUTHORIZED",
		})
		c.Abort()
	}
}
