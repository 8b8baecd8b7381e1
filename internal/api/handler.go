// Package api serves a read-only view of the running bot over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/somboon29/MT5-Bot/internal/monitor"
	"github.com/somboon29/MT5-Bot/pkg/db"
)

// StatusSource provides the latest status snapshot.
type StatusSource interface {
	Snapshot() monitor.Status
}

// DealLister lists recent paper deals. It is nil in live mode.
type DealLister interface {
	ListDeals(ctx context.Context, limit int) ([]db.Deal, error)
}

// SystemMeta describes the runtime configuration exposed to observers.
type SystemMeta struct {
	DryRun    bool
	Venue     string
	Symbol    string
	Timeframe string
	Strategy  string
	Version   string
}

// Server wires HTTP endpoints around the monitor.
type Server struct {
	Router *gin.Engine
	Status StatusSource
	Deals  DealLister
	Meta   SystemMeta
	Logger zerolog.Logger
}

func NewServer(status StatusSource, deals DealLister, meta SystemMeta, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	logger = logger.With().Str("component", "api").Logger()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(newIPLimiters(20, 50), logger))
	r.Use(CORSMiddleware())

	s := &Server{
		Router: r,
		Status: status,
		Deals:  deals,
		Meta:   meta,
		Logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/deals", s.getDeals)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getStatus returns cycle counters and the last cycle summary.
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Status.Snapshot())
}

// getSystemStatus exposes runtime mode and instrument.
func (s *Server) getSystemStatus(c *gin.Context) {
	mode := "LIVE"
	if s.Meta.DryRun {
		mode = "DRY_RUN"
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":        mode,
		"dry_run":     s.Meta.DryRun,
		"venue":       s.Meta.Venue,
		"symbol":      s.Meta.Symbol,
		"timeframe":   s.Meta.Timeframe,
		"strategy":    s.Meta.Strategy,
		"version":     s.Meta.Version,
		"server_time": time.Now().UTC(),
	})
}

// getDeals lists the paper book's most recent fills.
func (s *Server) getDeals(c *gin.Context) {
	if s.Deals == nil {
		respondError(c, http.StatusNotFound, "NOT_AVAILABLE", "deal history is only kept in dry-run mode")
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			respondError(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	deals, err := s.Deals.ListDeals(c.Request.Context(), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	out := make([]gin.H, 0, len(deals))
	for _, d := range deals {
		out = append(out, gin.H{
			"id":         d.ID,
			"ticket":     d.Ticket,
			"symbol":     d.Symbol,
			"action":     d.Action,
			"side":       d.Side,
			"volume":     d.Volume,
			"price":      d.Price,
			"profit":     d.Profit,
			"reason":     d.Reason,
			"created_at": d.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": code, "message": message})
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info().Str("addr", addr).Msg("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
