package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"flow-observer/src/cache"
	"flow-observer/src/helpers"
	"flow-observer/src/interfaces"
	"flow-observer/src/logger"
	"flow-observer/src/models"
	"flow-observer/src/query"
	"flow-observer/src/utils"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// FastAPIServer
// -----------------------------------------------------------------------------

type FastAPIServer struct {
	Config  *models.MConfig
	Logger  *logger.Logger
	engine  *gin.Engine
	http    *http.Server
	query   *query.Service
	cache   *cache.ResponseCache
	engines []interfaces.IEngine

	// WebSocket clients, owned by the hub loop
	clients     map[*Client]struct{}
	connections atomic.Int64
	broadcast   chan models.MEngineEvent
	register    chan *Client
	unregister  chan *Client
	done        chan struct{}
	hubOnce     sync.Once
	stopOnce    sync.Once
}

var _ interfaces.IDataExchanger = (*FastAPIServer)(nil)

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewFastAPIServer(cfg *models.MConfig, q *query.Service, rc *cache.ResponseCache, engines []interfaces.IEngine, logger *logger.Logger) *FastAPIServer {
	// Set Gin mode
	if !strings.EqualFold(cfg.LogLevel, "DEBUG") {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &FastAPIServer{
		Config:  cfg,
		Logger:  logger,
		engine:  gin.New(),
		query:   q,
		cache:   rc,
		engines: engines,
		clients: make(map[*Client]struct{}),
		// Buffered so engine broadcasters never wait on the hub
		broadcast:  make(chan models.MEngineEvent, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	s.engine.Use(gin.Recovery())

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *FastAPIServer) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/cvd/:symbol", s.getCvd)
	api.GET("/price/:symbol", s.getPrice)
	api.GET("/heatmap/:symbol", s.getDepthHeatmap)
	api.GET("/liquidations/symbols", s.getLiquidationSymbols)
	api.GET("/liquidations/:symbol/heatmap", s.getLiquidationHeatmap)
	api.GET("/config", s.getConfig)
	api.GET("/health", s.getHealth)

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler exposes the router, mainly for tests.
func (s *FastAPIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start serves until Stop is called.
func (s *FastAPIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	s.startHub()
	s.http = &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		if s.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = s.http.Shutdown(ctx)
		}
		close(s.done)
	})
	return err
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) startHub() {
	s.hubOnce.Do(func() { go s.handleWebsockets() })
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *FastAPIServer) getCvd(c *gin.Context) {
	res, err := s.query.CvdHistory(requestParams(c))
	s.respond(c, res, err)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getPrice(c *gin.Context) {
	res, err := s.query.PriceHistory(requestParams(c))
	s.respond(c, res, err)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getDepthHeatmap(c *gin.Context) {
	res, err := s.query.DepthHeatmap(requestParams(c))
	s.respond(c, res, err)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getLiquidationHeatmap(c *gin.Context) {
	res, err := s.query.LiquidationHeatmap(requestParams(c))
	s.respond(c, res, err)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getLiquidationSymbols(c *gin.Context) {
	res, err := s.query.LiquidationSymbols()
	s.respond(c, res, err)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getConfig(c *gin.Context) {
	symbols := make(map[string][]string, len(s.engines))
	for _, e := range s.engines {
		symbols[e.Name()] = e.Symbols()
	}

	c.JSON(http.StatusOK, gin.H{
		"timeframes":        utils.Timeframes(),
		"default_timeframe": utils.DefaultTimeframe,
		"symbols":           symbols,
		"max_limit":         s.query.Config.MaxLimit,
		"max_bins":          s.query.Config.MaxBins,
	})
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getHealth(c *gin.Context) {
	engines := make([]models.MEngineHealth, 0, len(s.engines))
	status := "ok"
	for _, e := range s.engines {
		h := e.Health()
		if !h.Running {
			status = "degraded"
		}
		engines = append(engines, h)
	}

	body := gin.H{
		"status":      status,
		"connections": s.connections.Load(),
		"engines":     engines,
		"memory":      helpers.CurrentMemoryReport(),
	}
	if s.cache != nil {
		body["cache"] = s.cache.Stats()
	}
	c.JSON(http.StatusOK, body)
}
