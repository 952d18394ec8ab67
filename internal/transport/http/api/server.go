// Package apihttp exposes the gateway operations as the /api/v1 REST surface.
package apihttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"brokergw/internal/broker"
	"brokergw/internal/config"
	"brokergw/internal/gateway"
	"brokergw/internal/logger"
	"brokergw/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	serviceName    = "brokergw"
	serviceVersion = "1.0.0"
	requestIDKey   = "X-Request-ID"
)

// Server 提供 /api/v1 HTTP 服务。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 HTTP 服务依赖。
type ServerConfig struct {
	Addr             string
	Service          *gateway.Service
	Metrics          *metrics.Metrics
	CORS             config.HTTPConfig
	DefaultSessionID string
	DefaultMode      broker.Mode
}

// NewServer 构建 HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("api http server requires gateway service")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if strings.TrimSpace(cfg.DefaultSessionID) == "" {
		cfg.DefaultSessionID = "default"
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = broker.ModeSimulated
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), requestLogger(), corsMiddleware(cfg.CORS), observe(cfg.Metrics))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": serviceName, "version": serviceVersion, "status": "running"})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().Format(time.RFC3339)})
	})
	router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))

	h := &handlers{svc: cfg.Service, defaultSession: cfg.DefaultSessionID, defaultMode: cfg.DefaultMode}
	h.register(router.Group("/api/v1"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// requestLogger 记录每个请求的状态与耗时。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s rid=%s", method, fullPath, status, client, dur, c.GetString(requestIDKey))
	}
}

// requestID propagates or assigns X-Request-ID.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDKey))
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Header(requestIDKey, rid)
		c.Next()
	}
}

func corsMiddleware(cfg config.HTTPConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && cfg.AllowsOrigin(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func observe(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		m.ObserveHTTP(c.Request.Method, c.FullPath(), c.Writer.Status())
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return s.router
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Slog().Handler(), slog.LevelWarn),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("[http] listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
