package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trading-hub/src/analysis/core"
	"trading-hub/src/interfaces"
	"trading-hub/src/logger"
	"trading-hub/src/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultHistoryLimit = 100

// -----------------------------------------------------------------------------
// HTTPServer
// -----------------------------------------------------------------------------

// HTTPServer serves the WebSocket endpoint plus a small status API.
type HTTPServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	engine *gin.Engine
	srv    *http.Server

	hub      *Hub
	history  interfaces.IMarketHistory
	gatherer prometheus.Gatherer
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

// NewHTTPServer builds the router. history and gatherer may be nil.
func NewHTTPServer(cfg *models.MConfig, log *logger.Logger, hub *Hub, history interfaces.IMarketHistory, gatherer prometheus.Gatherer) *HTTPServer {
	if !strings.EqualFold(cfg.LogLevel, "DEBUG") {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &HTTPServer{
		Config:   cfg,
		Logger:   log,
		engine:   gin.New(),
		hub:      hub,
		history:  history,
		gatherer: gatherer,
	}

	s.engine.Use(gin.Recovery())
	s.engine.Use(s.requestLogger())
	s.engine.Use(s.cors())

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *HTTPServer) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/connections", s.getConnections)
	api.GET("/topics", s.getTopics)
	api.GET("/market/history", s.getMarketHistory)

	if s.gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	// WebSocket endpoint
	s.engine.GET(s.Config.Server.Path, func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
}

// Handler exposes the router, mainly for httptest.
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start blocks serving HTTP until Stop is called.
func (s *HTTPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.Logger.Info("Starting server on %s (websocket path %s)", addr, s.Config.Server.Path)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop notifies clients, closes every connection and shuts the listener down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.hub.Shutdown("Server shutting down")

	var err error
	if s.srv != nil {
		err = s.srv.Shutdown(ctx)
	}
	if drainErr := s.hub.Drain(ctx); drainErr != nil {
		s.Logger.Warning("Timed out waiting for connections to close: %v", drainErr)
	}
	return err
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *HTTPServer) getHealth(c *gin.Context) {
	stats := s.hub.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"connections":    stats.Connections,
		"topics":         len(stats.Topics),
		"uptime_seconds": int64(time.Since(stats.StartedAt).Seconds()),
	})
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) getConnections(c *gin.Context) {
	infos := s.hub.Registry().ConnectionInfos()
	c.JSON(http.StatusOK, gin.H{
		"count":       len(infos),
		"connections": infos,
	})
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) getTopics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"topics": s.hub.Registry().TopicCounts(),
	})
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) getMarketHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "market history is not enabled"})
		return
	}

	symbol := strings.TrimSpace(c.Query("symbol"))
	if symbol == "" {
		symbol = s.Config.Market.ReferenceSymbol
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	points := s.history.MarketHistory(symbol, limit)
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	mean, std := core.CalculateMeanStd(values)
	lo, hi := core.MinMax(values)

	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"points": points,
		"summary": gin.H{
			"count": len(points),
			"mean":  mean,
			"std":   std,
			"min":   lo,
			"max":   hi,
		},
	})
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *HTTPServer) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && s.hub.checkOrigin(c.Request) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------

func (s *HTTPServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == s.Config.Server.Path {
			return
		}
		s.Logger.Debug("%s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
