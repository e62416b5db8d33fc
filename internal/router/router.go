package router

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/the-compact/allocator/internal/config"
	"github.com/the-compact/allocator/internal/handlers"
	"github.com/the-compact/allocator/internal/indexer"
	"github.com/the-compact/allocator/internal/middleware"
)

// corsMiddleware resolves allowed origins in priority order: environment
// variable, YAML config, then allow-all.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		var allowedOrigins []string
		allowCredentials := true
		maxAge := 3600

		if envOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); envOrigins != "" {
			for _, o := range strings.Split(envOrigins, ",") {
				if trimmed := strings.TrimSpace(o); trimmed != "" {
					allowedOrigins = append(allowedOrigins, trimmed)
				}
			}
		} else if config.AppConfig != nil && len(config.AppConfig.CORS.AllowedOrigins) > 0 {
			allowedOrigins = config.AppConfig.CORS.AllowedOrigins
			allowCredentials = config.AppConfig.CORS.AllowCredentials
			if config.AppConfig.CORS.MaxAge > 0 {
				maxAge = config.AppConfig.CORS.MaxAge
			}
		} else {
			allowedOrigins = []string{"*"}
		}

		allowOrigin := func() {
			if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
				c.Header("Access-Control-Allow-Origin", "*")
				return
			}
			if origin == "" {
				return
			}
			for _, allowed := range allowedOrigins {
				if strings.TrimSpace(allowed) == origin {
					c.Header("Access-Control-Allow-Origin", origin)
					return
				}
			}
			logrus.WithFields(logrus.Fields{"origin": origin, "path": c.Request.URL.Path}).Warn("CORS: origin not in whitelist")
		}

		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Cache-Control, Accept")
			if allowCredentials {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
			c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))
			allowOrigin()
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, Cache-Control, Accept")
		if allowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type")
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))
		allowOrigin()

		c.Next()
	}
}

// SetupRouter wires every route §6 defines onto a fresh gin.Engine.
func SetupRouter(allocHandler *handlers.AllocationHandler, adminAuth *handlers.AdminAuthHandler, chains *indexer.ChainCache) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware())

	logger := logrus.New()
	var allowedIPs []string
	if config.AppConfig != nil && len(config.AppConfig.Admin.AllowedIPs) > 0 {
		allowedIPs = config.AppConfig.Admin.AllowedIPs
	}
	localhostOnly := middleware.NewLocalhostOnly(logger, allowedIPs)

	r.GET("/ping", handlers.PingHandler)
	r.GET("/health", handlers.HealthCheckHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/suggested-nonce/:chainId/:account", allocHandler.SuggestedNonceHandler)
	r.POST("/compact", allocHandler.SubmitCompactHandler)
	r.GET("/compacts/:account", allocHandler.ListCompactsHandler)
	r.GET("/compact/:chainId/:claimHash", allocHandler.GetCompactHandler)
	r.GET("/compact/:chainId/:claimHash/status", allocHandler.GetCompactStatusHandler)
	r.POST("/compact/is-allocatable", allocHandler.IsAllocatableHandler)
	r.GET("/balance/:chainId/:lockId/:account", allocHandler.GetBalanceHandler)
	r.GET("/balances/:account", allocHandler.ListBalancesHandler)
	r.GET("/stream/:account", allocHandler.StreamHandler)

	admin := r.Group("/admin", localhostOnly.Restrict())
	admin.POST("/login", adminAuth.AdminLoginHandler)
	admin.POST("/totp-secret", adminAuth.GenerateTOTPSecretHandler)
	admin.POST("/chains/refresh", func(c *gin.Context) {
		if err := chains.Refresh(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"chains": chains.Len()})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"message": "endpoint not found",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}
