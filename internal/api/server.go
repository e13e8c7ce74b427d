package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"upbit-trading-bot/config"
)

// BotAPI is the surface the monitoring API needs from the running bot: read
// access to positions, strategy configuration, and performance reporting,
// plus replacement of the strategy configuration.
type BotAPI interface {
	GetStatus(ctx context.Context) (StatusReport, error)
	GetPositions() []PositionView
	GetConfig() config.StrategyConfig
	ApplyConfig(cfg config.StrategyConfig) error
}

// StatusReport is a snapshot of the bot's overall health and performance for
// the monitoring API.
type StatusReport struct {
	Running        bool
	ActiveOrders   int
	PositionsCount int
	TotalKRW       float64
	TotalBTC       float64
	NetProfit      float64
	WinRate        float64
	SharpeRatio    float64
	MaxDrawdown    float64
	GeneratedAt    time.Time
}

// PositionView is a read-only view of one held position for API responses.
type PositionView struct {
	Market         string
	AveragePrice   float64
	TotalQuantity  float64
	AveragingCount int
}

// Server is the monitoring/reporting HTTP API. Every route is read-only except
// POST /api/v1/config, which applies a new strategy configuration.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	botAPI     BotAPI
	cfg        config.ServerConfig
	logger     zerolog.Logger
	hub        *Hub
}

// NewServer builds a Server bound to botAPI, configured per cfg. If hub is
// non-nil, a /ws endpoint is registered to push status events to connected
// clients.
func NewServer(cfg config.ServerConfig, botAPI BotAPI, hub *Hub, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router: router,
		botAPI: botAPI,
		cfg:    cfg,
		logger: logger.With().Str("component", "api_server").Logger(),
		hub:    hub,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/ws", s.handleWebSocket)

	v1 := s.router.Group("/api/v1")
	v1.GET("/report", s.handleReport)
	v1.GET("/positions", s.handlePositions)
	v1.GET("/config", s.handleConfig)
	v1.POST("/config", s.handleApplyConfig)
}

// Start begins serving HTTP on cfg.Host:cfg.Port. Blocks until the server
// stops or errors; callers typically run it in its own goroutine.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("starting monitoring API")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("monitoring api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"success": false, "error": message})
}
