// Package adminhttp exposes the engine's control surface over HTTP:
// lifecycle, account registration, and trade/log listings. Request shaping
// stays thin; the engine and ledger own all behavior.
package adminhttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"copytrade/internal/engine"
	"copytrade/internal/logger"
	"copytrade/internal/store"

	"github.com/gin-gonic/gin"
)

// Server serves the admin API.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig describes the admin server dependencies.
type ServerConfig struct {
	Addr   string
	Engine *engine.Engine
	Ledger store.Ledger
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil || cfg.Ledger == nil {
		return nil, errors.New("admin http server requires engine and ledger")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{engine: cfg.Engine, ledger: cfg.Ledger}
	api := router.Group("/api")
	{
		api.POST("/engine/start", h.startEngine)
		api.POST("/engine/stop", h.stopEngine)
		api.GET("/engine/status", h.engineStatus)

		api.GET("/accounts", h.listAccounts)
		api.POST("/accounts", h.registerAccount)
		api.DELETE("/accounts/:id", h.deregisterAccount)

		api.GET("/links", h.listLinks)
		api.GET("/trades", h.listTrades)
		api.GET("/logs", h.listSystemLogs)
	}

	return &Server{addr: cfg.Addr, router: router}, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d dur=%s", method, path, c.Writer.Status(), time.Since(start))
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
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
