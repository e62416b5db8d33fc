package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// LocalhostOnly restricts access to localhost plus an operator-configured
// IP/CIDR whitelist, used to gate the administrative routes (chains-cache
// refresh, admin login) per §6.
type LocalhostOnly struct {
	logger     *logrus.Logger
	allowedIPs []string
}

func NewLocalhostOnly(logger *logrus.Logger, allowedIPs []string) *LocalhostOnly {
	return &LocalhostOnly{logger: logger, allowedIPs: allowedIPs}
}

// Restrict rejects any request whose resolved client IP is neither
// localhost nor in the whitelist.
func (l *LocalhostOnly) Restrict() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		remoteIP, _, _ := net.SplitHostPort(c.Request.RemoteAddr)

		if !l.isAllowedIP(clientIP) && !(remoteIP != clientIP && isLocalhost(remoteIP)) {
			l.logger.WithFields(logrus.Fields{
				"client_ip": clientIP,
				"remote_ip": remoteIP,
				"path":      c.Request.URL.Path,
				"method":    c.Request.Method,
			}).Warn("rejected non-whitelisted access to admin API")

			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "this API is only accessible from allowed IP addresses",
				"code":    "IP_NOT_ALLOWED",
			})
			return
		}

		c.Next()
	}
}

// RestrictWithToken combines the IP whitelist with a shared-secret token
// check, for admin routes that also accept a bearer token.
func (l *LocalhostOnly) RestrictWithToken(requiredToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		remoteIP, _, _ := net.SplitHostPort(c.Request.RemoteAddr)

		if !l.isAllowedIP(clientIP) && !(remoteIP != clientIP && isLocalhost(remoteIP)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "this API is only accessible from allowed IP addresses",
				"code":    "IP_NOT_ALLOWED",
			})
			return
		}

		if requiredToken != "" {
			token := c.GetHeader("X-Admin-Token")
			if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}
			if token != requiredToken {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"success": false,
					"error":   "invalid admin token",
					"code":    "INVALID_TOKEN",
				})
				return
			}
		}

		c.Next()
	}
}

func isLocalhost(ip string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return ip == "localhost" || ip == "::1"
	}
	return parsedIP.IsLoopback()
}

func (l *LocalhostOnly) isAllowedIP(ip string) bool {
	if isLocalhost(ip) {
		return true
	}
	if len(l.allowedIPs) == 0 {
		return false
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		for _, allowed := range l.allowedIPs {
			if ip == allowed {
				return true
			}
		}
		return false
	}

	for _, allowed := range l.allowedIPs {
		allowed = strings.TrimSpace(allowed)
		if strings.Contains(allowed, "/") {
			_, ipNet, err := net.ParseCIDR(allowed)
			if err != nil {
				l.logger.WithFields(logrus.Fields{"cidr": allowed, "error": err.Error()}).Warn("invalid CIDR in admin allowlist")
				continue
			}
			if ipNet.Contains(parsedIP) {
				return true
			}
			continue
		}
		if allowedIP := net.ParseIP(allowed); allowedIP != nil && allowedIP.Equal(parsedIP) {
			return true
		}
	}
	return false
}
