// Package server exposes a read-only HTTP view of the monitor.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/m2rcus/hypemonitoring/internal/classify"
	"github.com/m2rcus/hypemonitoring/internal/engine"
	"github.com/m2rcus/hypemonitoring/internal/storage"
	"github.com/m2rcus/hypemonitoring/internal/version"
)

const (
	defaultDecisionLimit = 20
	maxDecisionLimit     = 500
)

// Monitor is what the API reads from.
type Monitor interface {
	Asset() string
	Status(now time.Time) engine.Report
	RecentDecisions(ctx context.Context, limit int) ([]storage.DecisionRecord, error)
}

// Options configure the listener.
type Options struct {
	Addr            string
	Mode            string
	ShutdownTimeout time.Duration
	Now             func() time.Time
}

// Server serves /healthz and the /api/v1 routes.
type Server struct {
	opts    Options
	monitor Monitor
	engine  *gin.Engine
	logger  zerolog.Logger
}

// New builds the router.
func New(opts Options, monitor Monitor, logger zerolog.Logger) *Server {
	if opts.Mode == "" {
		opts.Mode = gin.ReleaseMode
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	gin.SetMode(opts.Mode)

	s := &Server{
		opts:    opts,
		monitor: monitor,
		engine:  gin.New(),
		logger:  logger.With().Str("component", "http").Logger(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.getHealth)

	api := s.engine.Group("/api/v1")
	api.GET("/status", s.getStatus)
	api.GET("/decisions", s.getDecisions)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Version})
}

type cooldownView struct {
	Tier             classify.Tier `json:"tier"`
	CooldownSeconds  float64       `json:"cooldown_seconds"`
	RemainingSeconds float64       `json:"remaining_seconds"`
	LastFired        *time.Time    `json:"last_fired,omitempty"`
}

type statusView struct {
	Asset      string              `json:"asset"`
	Status     engine.Status       `json:"status"`
	Tier       classify.Tier       `json:"tier"`
	Reason     classify.Reason     `json:"reason"`
	Evidence   engine.Evidence     `json:"evidence"`
	Samples    int                 `json:"samples"`
	Thresholds classify.Thresholds `json:"thresholds"`
	Cooldowns  []cooldownView      `json:"cooldowns"`
	AsOf       time.Time           `json:"as_of"`
}

func (s *Server) getStatus(c *gin.Context) {
	now := s.opts.Now().UTC()
	r := s.monitor.Status(now)

	view := statusView{
		Asset:      s.monitor.Asset(),
		Status:     r.Status,
		Tier:       r.Tier,
		Reason:     r.Reason,
		Evidence:   r.Evidence,
		Samples:    r.Samples,
		Thresholds: r.Thresholds,
		Cooldowns:  make([]cooldownView, 0, len(r.Cooldowns)),
		AsOf:       now,
	}
	for _, cd := range r.Cooldowns {
		view.Cooldowns = append(view.Cooldowns, cooldownView{
			Tier:             cd.Tier,
			CooldownSeconds:  cd.Cooldown.Seconds(),
			RemainingSeconds: cd.Remaining.Seconds(),
			LastFired:        cd.LastFired,
		})
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) getDecisions(c *gin.Context) {
	limit := defaultDecisionLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxDecisionLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 500"})
			return
		}
		limit = n
	}

	recs, err := s.monitor.RecentDecisions(c.Request.Context(), limit)
	if errors.Is(err, storage.ErrNotConfigured) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage not configured"})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("list decisions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list decisions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": recs, "count": len(recs)})
}
