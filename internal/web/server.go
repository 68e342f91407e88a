package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/facewatch/facewatch/internal/config"
	"github.com/facewatch/facewatch/internal/datastore"
	"github.com/facewatch/facewatch/internal/logger"
	"github.com/facewatch/facewatch/internal/notify"
	"github.com/facewatch/facewatch/internal/pipeline"
	"github.com/facewatch/facewatch/internal/service"
	"github.com/facewatch/facewatch/internal/storage"
)

// Server exposes the HTTP API: stream control, live feeds, alerts,
// stats and the realtime websocket channel.
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	displayFPS int
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine

	registry  *pipeline.Registry
	store     *datastore.Store
	snapshots *storage.SnapshotStore
	hub       *notify.Hub
	manager   *service.Manager

	version   string
	startTime time.Time
}

// NewServer creates the web server service.
func NewServer(cfg *config.WebConfig, displayFPS int, registry *pipeline.Registry, store *datastore.Store, snapshots *storage.SnapshotStore, hub *notify.Hub, manager *service.Manager, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	if displayFPS <= 0 {
		displayFPS = 30
	}

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		displayFPS:  displayFPS,
		logger:      log,
		router:      router,
		registry:    registry,
		store:       store,
		snapshots:   snapshots,
		hub:         hub,
		manager:     manager,
		version:     "dev",
		startTime:   time.Now(),
	}
	s.setupRoutes()
	return s
}

// SetVersion sets the application version reported by the status API
func (s *Server) SetVersion(version string) {
	s.version = version
}

// Router returns the gin engine, for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		s.SetStatus(service.StatusStopped)
		return nil
	}

	// WriteTimeout and IdleTimeout stay 0 so MJPEG and websocket
	// connections are not cut off mid-stream.
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  0,
	}

	go func() {
		s.LogInfo("Starting web server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", addr)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		s.SetStatus(service.StatusRunning)
		s.LogInfo("Web server started", "address", addr)
		return nil
	}
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.LogInfo("Stopping web server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	api.Use(s.authMiddleware())
	{
		api.GET("/health", s.handleHealth)
		api.GET("/status", s.handleStatus)

		streams := api.Group("/streams")
		{
			streams.GET("", s.handleListStreams)
			streams.GET("/:id/stats", s.handleStreamStats)
			streams.POST("/:id/start", s.handleStartStream)
			streams.POST("/:id/stop", s.handleStopStream)
			streams.GET("/:id/feed", s.handleStreamFeed)
		}

		alerts := api.Group("/alerts")
		{
			alerts.GET("", s.handleListAlerts)
			alerts.POST("/:id/view", s.handleViewAlert)
			alerts.POST("/:id/dismiss", s.handleDismissAlert)
		}

		api.GET("/stats", s.handleStats)
	}

	s.router.GET("/images/:name", s.handleImage)
	s.router.GET("/ws", s.handleWebSocket)
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
