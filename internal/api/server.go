package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"dca-trading-bot/config"
	"dca-trading-bot/internal/database"
)

// Store is the read-only repository slice the status API serves from. The
// bot management CRUD surface lives elsewhere; this server only reports.
type Store interface {
	HealthCheck(ctx context.Context) error
	GetActiveBots(ctx context.Context) ([]*database.Bot, error)
	GetOpenPositions(ctx context.Context) ([]*database.Position, error)
	GetRecentSignals(ctx context.Context, limit int) ([]*database.Signal, error)
	GetTradeSummary(ctx context.Context, botID int64) (*database.TradeSummary, error)
}

var _ Store = (*database.Repository)(nil)

// Server is the operational status HTTP server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	store      Store
	cfg        config.ServerConfig
	logger     zerolog.Logger
}

// NewServer creates the status server with CORS and the route table set up.
func NewServer(cfg config.ServerConfig, store Store, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router: router,
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "api").Logger(),
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/bots", s.handleBots)
		v1.GET("/positions", s.handlePositions)
		v1.GET("/signals", s.handleSignals)
		v1.GET("/bots/:id/summary", s.handleBotSummary)
	}
}

// Start runs the server until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
	}
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("status API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
