// Package http serves the estimate form, the JSON API and the live estimate
// websocket.
package http

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"knowyourcar/db"
	"knowyourcar/ml"
	"knowyourcar/monitoring"
	"knowyourcar/valuation"
)

const maxRequestBytes = 1 << 20

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	deps   Dependencies
	logger *zap.Logger

	pages    *template.Template
	upgrader websocket.Upgrader
	handler  http.Handler
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// AuditLog is the read side of the audit store.
type AuditLog interface {
	RecentEstimates(ctx context.Context, limit int) ([]db.EstimateRecord, error)
	TrainingRuns(ctx context.Context, limit int) ([]db.TrainingRun, error)
}

// Dependencies are built once at startup and shared by every handler.
type Dependencies struct {
	Model     *ml.Model
	Estimator *valuation.Service
	Audit     AuditLog
	Metrics   *monitoring.EstimateMetrics
	Logger    *zap.Logger
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, deps Dependencies) (*Server, error) {
	if deps.Model == nil || deps.Estimator == nil {
		return nil, errors.New("model and estimator are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewEstimateMetrics()
	}
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger,
		pages:  pages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(config.AllowedOrigins),
		},
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	chain := Chain(
		RecoveryMiddleware(s.logger),
		LoggerMiddleware(s.logger),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
		TimeoutMiddleware(config.Timeout),
		RequestSizeMiddleware(maxRequestBytes),
	)
	s.handler = chain(mux)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      s.handler,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
		IdleTimeout:  120 * time.Second,
	}
	return s, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handlePage)
	mux.HandleFunc("POST /estimate", s.handleEstimateForm)
	mux.Handle("GET /static/", staticHandler())

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/model", s.handleModel)
	mux.HandleFunc("POST /api/estimate", s.handleEstimate)
	mux.HandleFunc("GET /api/ws/estimate", s.handleEstimateWS)
	mux.HandleFunc("GET /api/estimates/recent", s.handleRecentEstimates)
	mux.HandleFunc("GET /api/training/runs", s.handleTrainingRuns)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.Handle("GET /metrics", s.deps.Metrics.Handler())
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start 启动服务器
func (s *Server) Start() error {
	s.logger.Info("starting http server",
		zap.String("addr", s.server.Addr),
		zap.String("artifact", s.deps.Model.Path()))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down http server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}

func originChecker(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}
