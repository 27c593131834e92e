// Package server exposes the JSON-RPC dispatcher over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chromamcp/config"
	"chromamcp/internal/rpc"
	"chromamcp/internal/tool"
)

// RequestIDHeader carries the per-request id, echoed back to the client.
const RequestIDHeader = "X-Request-ID"

type Server struct {
	cfg        config.ServerConfig
	dispatcher *rpc.Dispatcher
	registry   *tool.Registry
	logger     *slog.Logger
	engine     *gin.Engine
}

func New(cfg config.ServerConfig, dispatcher *rpc.Dispatcher, registry *tool.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		registry:   registry,
		logger:     logger,
	}
	s.engine = s.routes()
	return s
}

// GinMode picks the gin mode for a configured log level. Gin's debug banner
// and route dump are only printed when debug logging is on.
func GinMode(level string) string {
	if l, err := config.ParseLevel(level); err == nil && l <= slog.LevelDebug {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}

// Handler returns the routed engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), cors.New(corsConfig(s.cfg.CORS)))

	r.POST("/mcp", s.handleRPC)
	r.GET("/", s.handleRoot)
	r.GET("/services", s.handleServices)
	r.GET("/health", s.handleHealth)
	return r
}

func corsConfig(c config.CORSConfig) cors.Config {
	cc := cors.Config{
		AllowMethods: c.AllowMethods,
		AllowHeaders: c.AllowHeaders,
		MaxAge:       12 * time.Hour,
	}
	if len(c.AllowOrigins) == 0 || slices.Contains(c.AllowOrigins, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = c.AllowOrigins
	}
	return cc
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		s.logger.Info("http request",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) handleRPC(c *gin.Context) {
	if s.cfg.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	resp := s.dispatcher.Handle(c.Request.Context(), body)
	if resp == nil {
		c.Status(http.StatusAccepted)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRoot(c *gin.Context) {
	info := s.dispatcher.Info()
	names := make([]string, 0, s.registry.Len())
	for _, t := range s.registry.List() {
		names = append(names, t.Definition().Name)
	}

	c.JSON(http.StatusOK, gin.H{
		"name":               info.Name,
		"version":            info.Version,
		"protocol":           "JSON-RPC " + rpc.Version,
		"mcp_endpoint":       "POST /mcp",
		"total_services":     len(names),
		"available_services": names,
		"available_methods":  s.dispatcher.Methods(),
		"example_requests": []gin.H{
			{
				"description": "Initialize MCP",
				"request": gin.H{
					"jsonrpc": rpc.Version,
					"method":  rpc.MethodInitialize,
					"params":  gin.H{"clientInfo": gin.H{"name": "vscode", "version": "1.0.0"}},
					"id":      1,
				},
			},
			{
				"description": "List collections",
				"request": gin.H{
					"jsonrpc": rpc.Version,
					"method":  "chroma_list_collections",
					"id":      2,
				},
			},
			{
				"description": "Call tool via MCP",
				"request": gin.H{
					"jsonrpc": rpc.Version,
					"method":  rpc.MethodToolsCall,
					"params": gin.H{
						"name":      "chroma_query_documents",
						"arguments": gin.H{"collection_name": "notes", "query_texts": []string{"hello"}},
					},
					"id": 3,
				},
			},
		},
	})
}

func (s *Server) handleServices(c *gin.Context) {
	services := make([]gin.H, 0, s.registry.Len())
	for _, t := range s.registry.List() {
		def := t.Definition()
		services = append(services, gin.H{
			"name":         def.Name,
			"description":  def.Description,
			"input_schema": def.InputSchema,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"total":    len(services),
		"services": services,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": s.dispatcher.Info().Name,
		"uptime":  "running",
	})
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String(), "endpoint", "POST /mcp")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down", "timeout", timeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
