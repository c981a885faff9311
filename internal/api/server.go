// Package api serves a read-only status endpoint over the cycle history.
package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/checkinbot/checkinbot/internal/config"
	"github.com/checkinbot/checkinbot/internal/errors"
	"github.com/checkinbot/checkinbot/internal/logging"
	"github.com/checkinbot/checkinbot/internal/metrics"
	"github.com/checkinbot/checkinbot/internal/models"
)

// MaxListLimit caps the limit query parameter.
const MaxListLimit = 200

// History is the read side of the cycle ledger.
type History interface {
	ListCycles(ctx context.Context, limit int) ([]*models.CycleSummary, error)
	LatestCycle(ctx context.Context) (*models.CycleSummary, bool, error)
}

// Server represents the HTTP status server
type Server struct {
	router      *gin.Engine
	config      config.APIConfig
	history     History
	metrics     *metrics.Metrics
	logger      *logging.Logger
	rateLimiter *IPRateLimiter
	httpServer  *http.Server
	started     time.Time
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates a new status server. history may be nil when the ledger is disabled.
func NewServer(cfg config.APIConfig, history History, m *metrics.Metrics, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if logger == nil {
		logger = logging.Nop()
	}
	if m == nil {
		m = metrics.NewMetrics("checkinbot")
	}

	server := &Server{
		router:      gin.New(),
		config:      cfg,
		history:     history,
		metrics:     m,
		logger:      logger,
		rateLimiter: newIPRateLimiter(time.Second, 30),
		started:     time.Now(),
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	server.router.Use(rateLimitMiddleware(server.rateLimiter))
	server.router.Use(requestMiddleware(m, logger))

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/cycles", s.handleListCycles)
		v1.GET("/cycles/latest", s.handleLatestCycle)
	}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Run serves until ctx is cancelled, then shuts down within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	addr := s.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = NewHTTPServer(ln.Addr().String(), s.router)
	s.logger.Info("starting status server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return &errors.ErrServerStart{Addr: ln.Addr().String(), Err: err}
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s.logger.Info("shutting down status server")
	if err := GracefulShutdown(s.httpServer, timeout); err != nil {
		s.logger.Error("status server shutdown error", "error", err.Error())
		return &errors.ErrServerShutdown{Err: err}
	}
	<-errCh
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":         "healthy",
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}

	if s.history != nil {
		latest, ok, err := s.history.LatestCycle(c.Request.Context())
		switch {
		case err != nil:
			_ = c.Error(err)
			resp["status"] = "degraded"
			resp["history_error"] = err.Error()
		case ok:
			resp["last_cycle"] = gin.H{
				"id":          latest.ID,
				"finished_at": latest.FinishedAt.UTC(),
				"accounts":    latest.Accounts,
				"succeeded":   latest.Succeeded(),
				"failed":      latest.Failed(),
				"error":       latest.Error,
			}
			if latest.Error != "" {
				resp["status"] = "degraded"
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

// CycleView is the API shape of a cycle summary.
type CycleView struct {
	*models.CycleSummary
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	DurationMS int64 `json:"duration_ms"`
}

func newCycleView(s *models.CycleSummary) CycleView {
	return CycleView{
		CycleSummary: s,
		Succeeded:    s.Succeeded(),
		Failed:       s.Failed(),
		DurationMS:   s.Duration().Milliseconds(),
	}
}

func (s *Server) handleListCycles(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store disabled"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid limit %q", raw)})
			return
		}
		limit = min(n, MaxListLimit)
	}

	cycles, err := s.history.ListCycles(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list cycles"})
		return
	}

	views := make([]CycleView, 0, len(cycles))
	for _, cycle := range cycles {
		views = append(views, newCycleView(cycle))
	}
	c.JSON(http.StatusOK, gin.H{"cycles": views, "count": len(views)})
}

func (s *Server) handleLatestCycle(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store disabled"})
		return
	}

	latest, ok, err := s.history.LatestCycle(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load latest cycle"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycles recorded yet"})
		return
	}
	c.JSON(http.StatusOK, newCycleView(latest))
}
