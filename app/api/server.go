package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler, apiAccessKey string, metrics http.Handler) *gin.Engine {
	// Set Gin mode (can be controlled via GIN_MODE environment variable)
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/health", "/metrics"},
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	r.Use(gin.Recovery())

	// CORS middleware for API endpoints
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, apiAccessKey, metrics)

	return r
}

// setupRoutes configures all the application routes
func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string, metrics http.Handler) {
	r.GET("/health", handler.GetHealth)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	workers := r.Group("/api/external-workers")
	workers.Use(workerAuthMiddleware(handler.tokens))
	{
		workers.POST("/claim", handler.ExternalClaim)
		workers.POST("/submit", handler.ExternalSubmit)
	}

	// Admin API (conditionally enabled with authentication)
	if apiAccessKey != "" {
		api := r.Group("/api")
		api.Use(authMiddleware(apiAccessKey))
		{
			api.POST("/users", handler.APICreateUser)
			api.GET("/users/:owner/tasks", handler.APITaskStatus)
			api.POST("/users/:owner/tasks/freeze", handler.APIFreezeTasks)
			api.POST("/users/:owner/tasks/unfreeze", handler.APIUnfreezeTasks)
			api.POST("/users/:owner/worker-tokens", handler.APICreateWorkerToken)
			api.DELETE("/worker-tokens/:id", handler.APIRevokeWorkerToken)
			api.POST("/tasks", handler.APIAddTask)
			api.DELETE("/tasks/:id", handler.APIRemoveTask)
		}
		slog.Info("Admin API endpoints enabled with authentication")
	} else {
		slog.Info("Admin API endpoints disabled (API_ACCESS_KEY not set)")
	}

	r.GET("/", func(c *gin.Context) {
		endpoints := map[string]string{
			"health":          "/health",
			"metrics":         "/metrics",
			"external_claim":  "/api/external-workers/claim (POST, requires worker token)",
			"external_submit": "/api/external-workers/submit (POST, requires worker token)",
		}

		if apiAccessKey != "" {
			endpoints["tasks"] = "/api/tasks (POST, requires X-API-Key header)"
			endpoints["status"] = "/api/users/<owner>/tasks (requires X-API-Key header)"
		}

		c.JSON(http.StatusOK, gin.H{
			"service":     "RSS Tag",
			"description": "Task scheduler and work-item locking engine for RSS tagging",
			"endpoints":   endpoints,
		})
	})

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
}
