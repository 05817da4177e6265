// Package api serves the ingestion pipeline and the topic graph over HTTP.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ppiankov/stmtgraph/internal/logger"
)

// RouterConfig holds the router dependencies
type RouterConfig struct {
	Handler     *Handler
	Log         *logger.Logger
	ServiceName string
	Mode        string // gin mode; empty keeps the current one
}

// NewRouter builds the gin engine with tracing, recovery and request logging
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}
	service := cfg.ServiceName
	if service == "" {
		service = "stmtgraph"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(service))
	router.Use(requestLogger(log))

	router.GET("/health", cfg.Handler.Health)
	router.POST("/ingest", cfg.Handler.Ingest)

	topics := router.Group("/topics")
	{
		topics.GET("", cfg.Handler.ListTopics)
		topics.GET("/:uuid/statements", cfg.Handler.TopicStatements)
	}

	return router
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		kv := []interface{}{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if len(c.Errors) > 0 {
			kv = append(kv, "error", c.Errors.String())
		}
		if c.Writer.Status() >= 500 {
			log.Error("request failed", kv...)
			return
		}
		log.Info("request", kv...)
	}
}
