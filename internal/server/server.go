package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"netyora-chat/config"
	"netyora-chat/internal/handler"
	"netyora-chat/internal/metrics"
	"netyora-chat/internal/middleware"
	"netyora-chat/internal/redis"
	"netyora-chat/internal/services"
	"netyora-chat/internal/transport/httpdto"
	"netyora-chat/internal/websocket"
	"netyora-chat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Chat       *handler.ChatHandler
	Message    *handler.MessageHandler
	Attachment *handler.AttachmentHandler
	Video      *handler.VideoHandler
	Gateway    *websocket.Gateway
}

// RouteDeps are the cross-cutting collaborators of the router. Limiter,
// Metrics and Health may be nil.
type RouteDeps struct {
	Identity services.Identity
	Limiter  middleware.Limiter
	Metrics  *metrics.Metrics
	Health   func(ctx context.Context) error
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: l,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) SetupRoutes(handlers *Handlers, deps RouteDeps) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware(s.config.FrontendURL))
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.MetricsMiddleware(deps.Metrics))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if deps.Health != nil {
			if err := deps.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "UNHEALTHY"))
				return
			}
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	if deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	if handlers.Gateway != nil {
		s.engine.GET("/ws", handlers.Gateway.ServeWS)
	}

	auth := middleware.AuthMiddleware(deps.Identity)
	limit := func(action redis.Action) gin.HandlerFunc {
		return middleware.RateLimitMiddleware(deps.Limiter, action)
	}

	chats := s.engine.Group("/chat", auth)
	{
		chats.GET("", handlers.Chat.List)
		chats.POST("", handlers.Chat.Create)
		chats.GET("/:id", handlers.Chat.Get)
		chats.PATCH("/:id", handlers.Chat.Update)
		chats.DELETE("/:id", handlers.Chat.Leave)
		chats.POST("/:id/read", handlers.Chat.MarkRead)
		chats.GET("/:id/unread", handlers.Chat.Unread)

		chats.GET("/:id/messages", handlers.Message.List)
		chats.POST("/:id/message", limit(redis.ActionMessage), handlers.Message.Send)
		chats.PUT("/:id/message/:mid", handlers.Message.Edit)
		chats.DELETE("/:id/message/:mid", handlers.Message.Delete)

		chats.POST("/:id/message/file", limit(redis.ActionUpload), handlers.Attachment.Upload)
		chats.DELETE("/:id/message/:mid/file", handlers.Attachment.Purge)
		chats.GET("/:id/message/:mid/download", handlers.Attachment.Download)

		chats.POST("/:id/video-session", limit(redis.ActionVideo), handlers.Video.StartForChat)
		chats.POST("/:id/video-session/join", limit(redis.ActionVideo), handlers.Video.Join)
		chats.POST("/:id/video-session/cancel", handlers.Video.Cancel)
		chats.POST("/:id/video-session/end", handlers.Video.End)
		chats.POST("/:id/video-session/timeout", handlers.Video.Timeout)
		chats.POST("/:id/video-session/leave", handlers.Video.Leave)
	}

	swaps := s.engine.Group("/swap", auth)
	{
		swaps.POST("/:swapId/video-session", limit(redis.ActionVideo), handlers.Video.StartForSwap)
	}
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if s.logger != nil {
			s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		}
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		if s.logger != nil {
			s.logger.Errorf("Error in starting the server: %s", err)
		}
		return err
	case <-ctx.Done():
	}

	if s.logger != nil {
		s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		if s.logger != nil {
			s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		}
		return err
	}

	if s.logger != nil {
		s.logger.Infof("Server stopped gracefully")
	}

	return nil
}
