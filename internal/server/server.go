package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/franckalain/fruitbeast/internal/auth"
	"github.com/franckalain/fruitbeast/internal/config"
	"github.com/franckalain/fruitbeast/internal/logstore"
	"github.com/franckalain/fruitbeast/internal/metrics"
	"github.com/franckalain/fruitbeast/internal/session"
)

type Server struct {
	cfg      config.ServerConfig
	sessions *session.Manager
	logs     *logstore.Adapter
	auth     *auth.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
	clients  sync.Map // id -> *client
}

func New(cfg config.ServerConfig, sessions *session.Manager, logs *logstore.Adapter, authSvc *auth.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		logs:     logs,
		auth:     authSvc,
		logger:   logger.Named("server"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router builds the HTTP handler
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	corsCfg := cors.Config{
		AllowOrigins:     s.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// cors.New panics without any origin rule
	if len(corsCfg.AllowOrigins) == 0 {
		corsCfg.AllowOrigins = nil
		corsCfg.AllowCredentials = false
		corsCfg.AllowAllOrigins = true
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	if s.auth.Enabled() {
		s.auth.RegisterRoutes(r.Group("/auth"))
	}

	api := r.Group("/api", s.auth.Middleware())
	{
		api.POST("/analyze", s.handleAnalyze)
		api.GET("/analysis", s.handleGetAnalysis)
		api.POST("/analysis/recipe-image", s.handleRecipeImage)

		api.GET("/logs", s.handleListLogs)
		api.POST("/logs", s.handleLogCurrent)
		api.POST("/logs/manual", s.handleLogManual)

		api.GET("/preferences/postal-code", s.handleGetPostalCode)
		api.PUT("/preferences/postal-code", s.handleSetPostalCode)
		api.GET("/suggestion", s.handleSuggestion)
	}

	r.GET("/ws", s.auth.Middleware(), s.handleWebSocket)

	if s.cfg.StaticDir != "" {
		if _, err := os.Stat(s.cfg.StaticDir); err == nil {
			r.NoRoute(gin.WrapH(http.FileServer(http.Dir(s.cfg.StaticDir))))
		} else {
			s.logger.Warn("static directory not found, frontend disabled", zap.String("dir", s.cfg.StaticDir))
		}
	}

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("starting server", zap.String("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server")

		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// hijacked websocket connections are not tracked by Shutdown
		s.closeClients()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.cfg.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Warn("request", fields...)
			return
		}
		if s.cfg.Debug {
			s.logger.Debug("request", fields...)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}
