package server

import (
	"context"
	"sync"
	"time"

	"epubllm/internal/config"
	"epubllm/internal/epub"
	"epubllm/internal/storage"
	"epubllm/internal/translation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Server struct {
	config         *config.Config
	logger         *logrus.Logger
	epubParser     *epub.Parser
	epubBuilder    *epub.Builder
	translationSvc *translation.Service
	store          storage.Store
	jobs           *JobRegistry
	router         *gin.Engine
	wsHub          *Hub

	ctx     context.Context
	stop    context.CancelFunc
	running sync.WaitGroup
}

// New wires the HTTP front end. The hub starts immediately; Close stops it
// together with every running job.
func New(cfg *config.Config, svc *translation.Service, store storage.Store, logger *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := context.WithCancel(context.Background())
	wsHub := NewHub(logger)
	go wsHub.Run(ctx)

	s := &Server{
		config:         cfg,
		logger:         logger,
		epubParser:     epub.NewParser(logger),
		epubBuilder:    epub.NewBuilder(logger),
		translationSvc: svc,
		store:          store,
		jobs:           NewJobRegistry(),
		wsHub:          wsHub,
		ctx:            ctx,
		stop:           stop,
	}

	s.setupRoutes()
	return s
}

func (s *Server) Handler() *gin.Engine {
	return s.router
}

// Hub exposes the WebSocket hub so backends and log hooks can publish to it.
func (s *Server) Hub() *Hub {
	return s.wsHub
}

// Close cancels running jobs, waits for them to write their partial output
// and disconnects WebSocket clients.
func (s *Server) Close() {
	s.jobs.CancelAll()
	s.running.Wait()
	s.stop()
}

func (s *Server) setupRoutes() {
	s.router = gin.New()

	s.router.Use(s.requestLogger())
	s.router.Use(s.corsMiddleware())
	s.router.Use(gin.Recovery())
	s.router.MaxMultipartMemory = maxUploadSize

	api := s.router.Group("/api")
	{
		api.POST("/jobs", s.handleCreateJob)
		api.GET("/jobs", s.handleListJobs)
		api.GET("/jobs/:id", s.handleGetJob)
		api.DELETE("/jobs/:id", s.handleCancelJob)
		api.GET("/jobs/:id/download", s.handleDownload)
		api.GET("/languages", s.handleLanguages)
	}

	s.router.GET("/ws", s.HandleWebSocket)

	s.router.GET("/health", func(c *gin.Context) {
		gate := s.translationSvc.Gate()
		c.JSON(200, gin.H{
			"status":            "ok",
			"websocket_clients": s.wsHub.ClientCount(),
			"requests_running":  gate.Running(),
			"requests_peak":     gate.Peak(),
			"max_concurrent":    gate.Size(),
		})
	})
}

// requestLogger logs every request at Debug and server errors at Warn.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := s.logger.WithFields(logrus.Fields{
			"status":  status,
			"method":  c.Request.Method,
			"route":   c.FullPath(),
			"ip":      c.ClientIP(),
			"latency": time.Since(start),
		})
		if status >= 500 {
			entry.Warn("HTTP request failed")
			return
		}
		entry.Debug("HTTP request")
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
