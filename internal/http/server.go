// Package http serves the patternd HTTP API.
//
// The API exposes the cache decision engine to executors that run outside the
// process: they ask for a decision, run the chosen pattern themselves, and
// report the outcome back so pattern counters, the confidence threshold and
// strategy statistics keep learning.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/patternd/internal/decision"
	"github.com/fyrsmithlabs/patternd/internal/events"
	"github.com/fyrsmithlabs/patternd/internal/fingerprint"
	"github.com/fyrsmithlabs/patternd/internal/fitness"
	"github.com/fyrsmithlabs/patternd/internal/pattern"
	"github.com/fyrsmithlabs/patternd/internal/pruner"
	"github.com/fyrsmithlabs/patternd/internal/secrets"
	"github.com/fyrsmithlabs/patternd/internal/strategy"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Threshold is the confidence threshold the server reads and adjusts.
type Threshold interface {
	Get(ctx context.Context) float64
	Adjust(ctx context.Context, wasSuccessful bool) float64
}

// Scrubber removes credentials from instructions before they are stored.
type Scrubber interface {
	Scrub(text string) secrets.Result
}

// Deps are the components the server exposes. Scheduler, Index, Scrubber
// and Publisher are optional.
type Deps struct {
	Store     pattern.Store
	Searcher  pattern.Searcher
	Engine    *decision.Engine
	Threshold Threshold
	Selector  *strategy.Selector
	Pruner    *pruner.Pruner
	Scheduler *pruner.Scheduler
	Index     interface{ Count() int }
	Scrubber  Scrubber
	Publisher events.Publisher
	TopK      int
	Version   string
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// Server provides HTTP endpoints for patternd.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config *Config
	now    func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("pattern store cannot be nil")
	case deps.Searcher == nil:
		return nil, errors.New("searcher cannot be nil")
	case deps.Engine == nil:
		return nil, errors.New("decision engine cannot be nil")
	case deps.Threshold == nil:
		return nil, errors.New("threshold cannot be nil")
	case deps.Selector == nil:
		return nil, errors.New("strategy selector cannot be nil")
	case deps.Pruner == nil:
		return nil, errors.New("pruner cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 9191, ShutdownTimeout: 10 * time.Second}
	}
	if deps.TopK <= 0 {
		deps.TopK = 5
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
		now:    time.Now,
	}
	s.registerRoutes()
	return s, nil
}

// WithClock sets the time source used for fitness in responses.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/fingerprint", s.handleFingerprint)
	v1.POST("/decide", s.handleDecide)

	v1.GET("/patterns", s.handleListPatterns)
	v1.POST("/patterns", s.handleCreatePattern)
	v1.GET("/patterns/:id", s.handleGetPattern)
	v1.DELETE("/patterns/:id", s.handleDeletePattern)
	v1.POST("/patterns/:id/outcome", s.handlePatternOutcome)

	v1.GET("/threshold", s.handleGetThreshold)
	v1.POST("/threshold/adjust", s.handleAdjustThreshold)

	v1.GET("/strategies", s.handleStrategies)
	v1.POST("/strategies/outcome", s.handleStrategyOutcome)

	v1.POST("/prune", s.handlePrune)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	resp := StatusResponse{
		Status:    "ok",
		Version:   s.deps.Version,
		Indexed:   -1,
		Threshold: s.deps.Threshold.Get(ctx),
		Decisions: Decisions{Hits: s.hits.Load(), Misses: s.misses.Load()},
	}

	n, err := s.deps.Store.Count(ctx)
	if err != nil {
		s.logger.Warn("failed to count patterns", zap.Error(err))
		resp.Status = "degraded"
		n = -1
	}
	resp.Patterns = n
	if s.deps.Index != nil {
		resp.Indexed = s.deps.Index.Count()
	}

	if sch := s.deps.Scheduler; sch != nil {
		resp.Scheduler = &Scheduler{Running: sch.Running()}
		if run := sch.LastRun(); run != nil {
			pr := &PruneRun{StartedAt: run.StartedAt}
			if run.Report != nil {
				pr.Pruned = run.Report.Pruned
				pr.Remaining = run.Report.Remaining
			}
			if run.Err != nil {
				pr.Error = run.Err.Error()
			}
			resp.LastPrune = pr
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleFingerprint(c echo.Context) error {
	raw := c.QueryParam("url")
	if raw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url query parameter is required")
	}
	fp, err := fingerprint.FromURL(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, FingerprintResponse{URL: raw, Fingerprint: fp})
}

// handleDecide runs search and the cache decision without executing anything.
// A search failure degrades to a miss, matching the task runner.
func (s *Server) handleDecide(c echo.Context) error {
	var req DecideRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid decide request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.URL == "" || req.Target == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url and target are required")
	}

	ctx := c.Request().Context()
	fp := s.fingerprintOrRaw(req.URL)

	candidates, searchErr := s.deps.Searcher.Query(ctx, pattern.QueryText(fp, req.Target), s.deps.TopK)
	if searchErr != nil {
		s.logger.Warn("pattern search failed",
			zap.String("fingerprint", fp),
			zap.Error(searchErr))
		candidates = nil
	}

	d := s.deps.Engine.Decide(candidates, s.deps.Threshold.Get(ctx))
	if searchErr != nil {
		d.Reason = decision.ReasonSearchFailed
	}
	decision.Observe(d)
	if d.Hit {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}

	return c.JSON(http.StatusOK, DecideResponse{Fingerprint: fp, Decision: d})
}

func (s *Server) handleListPatterns(c echo.Context) error {
	limit, err := intParam(c, "limit", defaultListLimit)
	if err != nil {
		return err
	}
	offset, err := intParam(c, "offset", 0)
	if err != nil {
		return err
	}
	if limit < 1 || limit > maxListLimit {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("limit must be 1-%d", maxListLimit))
	}
	if offset < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "offset must be >= 0")
	}

	ctx := c.Request().Context()
	patterns, err := s.deps.Store.List(ctx, limit, offset)
	if err != nil {
		s.logger.Error("failed to list patterns", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list patterns")
	}
	total, err := s.deps.Store.Count(ctx)
	if err != nil {
		s.logger.Error("failed to count patterns", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to count patterns")
	}

	now := s.now()
	views := make([]PatternView, len(patterns))
	for i := range patterns {
		views[i] = PatternView{Pattern: patterns[i], Fitness: fitness.Score(&patterns[i], now)}
	}
	return c.JSON(http.StatusOK, PatternListResponse{
		Patterns: views,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

// handleCreatePattern stores a recipe an external executor learned from a
// fresh or recovered extraction.
func (s *Server) handleCreatePattern(c echo.Context) error {
	var req CreatePatternRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	if req.Approach == "" {
		req.Approach = string(pattern.ApproachExtract)
	}
	if req.Technique != "" {
		if _, err := strategy.ParseTechnique(req.Technique); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	np := pattern.NewPattern{
		Fingerprint: s.fingerprintOrRaw(req.URL),
		Target:      req.Target,
		Instruction: req.Instruction,
		Approach:    pattern.Approach(req.Approach),
	}
	if err := np.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var redacted []string
	if s.deps.Scrubber != nil {
		if res := s.deps.Scrubber.Scrub(np.Instruction); res.Redacted() {
			np.Instruction = res.Text
			redacted = res.RuleIDs()
			s.logger.Info("redacted credentials from learned instruction",
				zap.String("fingerprint", np.Fingerprint),
				zap.Strings("rules", redacted))
		}
	}

	ctx := c.Request().Context()
	id, err := s.deps.Store.Create(context.WithoutCancel(ctx), np)
	if err != nil {
		s.logger.Error("failed to create pattern",
			zap.String("fingerprint", np.Fingerprint),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create pattern")
	}
	p, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return s.storeError(err, id, "failed to load pattern")
	}

	s.logger.Info("pattern learned",
		zap.String("pattern_id", id),
		zap.String("fingerprint", np.Fingerprint),
		zap.String("approach", req.Approach),
		zap.String("technique", req.Technique))
	if err := s.deps.Publisher.Publish(context.WithoutCancel(ctx), events.PatternLearned{
		PatternID:   id,
		Fingerprint: np.Fingerprint,
		Target:      np.Target,
		Approach:    req.Approach,
		Technique:   req.Technique,
		At:          s.now(),
	}); err != nil {
		s.logger.Warn("failed to publish event", zap.String("pattern_id", id), zap.Error(err))
	}

	return c.JSON(http.StatusCreated, CreatePatternResponse{
		PatternView: PatternView{Pattern: *p, Fitness: fitness.Score(p, s.now())},
		Redacted:    redacted,
	})
}

func (s *Server) handleGetPattern(c echo.Context) error {
	p, err := s.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PatternView{Pattern: *p, Fitness: fitness.Score(p, s.now())})
}

func (s *Server) handleDeletePattern(c echo.Context) error {
	id := c.Param("id")
	if err := s.deps.Store.Delete(c.Request().Context(), id); err != nil {
		return s.storeError(err, id, "failed to delete pattern")
	}
	s.logger.Info("pattern deleted", zap.String("pattern_id", id))
	return c.NoContent(http.StatusNoContent)
}

// handlePatternOutcome records the result of an attempt that reused a cached
// pattern: one counter increment and one threshold adjustment.
func (s *Server) handlePatternOutcome(c echo.Context) error {
	var req OutcomeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Success == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "success is required")
	}
	succeeded := *req.Success

	id := c.Param("id")
	ctx := c.Request().Context()
	record := s.deps.Store.IncrementFailure
	if succeeded {
		record = s.deps.Store.IncrementSuccess
	}
	if err := record(ctx, id); err != nil {
		return s.storeError(err, id, "failed to record outcome")
	}

	threshold := s.deps.Threshold.Adjust(context.WithoutCancel(ctx), succeeded)
	p, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return s.storeError(err, id, "failed to load pattern")
	}

	s.logger.Debug("pattern outcome recorded",
		zap.String("pattern_id", id),
		zap.Bool("success", succeeded),
		zap.Float64("threshold", threshold))

	return c.JSON(http.StatusOK, PatternView{Pattern: *p, Fitness: fitness.Score(p, s.now())})
}

func (s *Server) handleGetThreshold(c echo.Context) error {
	return c.JSON(http.StatusOK, ThresholdResponse{Threshold: s.deps.Threshold.Get(c.Request().Context())})
}

func (s *Server) handleAdjustThreshold(c echo.Context) error {
	var req OutcomeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Success == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "success is required")
	}
	succeeded := *req.Success
	v := s.deps.Threshold.Adjust(c.Request().Context(), succeeded)
	return c.JSON(http.StatusOK, ThresholdResponse{Threshold: v})
}

func (s *Server) handleStrategies(c echo.Context) error {
	raw := c.QueryParam("url")
	if raw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url query parameter is required")
	}
	fp := s.fingerprintOrRaw(raw)
	return c.JSON(http.StatusOK, StrategiesResponse{
		Fingerprint: fp,
		Ranking:     s.deps.Selector.Ranking(c.Request().Context(), fp),
	})
}

func (s *Server) handleStrategyOutcome(c echo.Context) error {
	var req StrategyOutcomeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	t, err := strategy.ParseTechnique(req.Technique)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Success == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "success is required")
	}
	if req.DurationMs < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "duration_ms must be >= 0")
	}

	ctx := c.Request().Context()
	fp := s.fingerprintOrRaw(req.URL)
	elapsed := time.Duration(req.DurationMs * float64(time.Millisecond))
	if err := s.deps.Selector.RecordOutcome(ctx, fp, t, *req.Success, elapsed); err != nil {
		s.logger.Warn("failed to record strategy outcome",
			zap.String("fingerprint", fp),
			zap.Stringer("technique", t),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to record strategy outcome")
	}
	return c.JSON(http.StatusOK, StrategiesResponse{
		Fingerprint: fp,
		Ranking:     s.deps.Selector.Ranking(ctx, fp),
	})
}

// handlePrune runs a pass now. Real passes go through the scheduler when one
// is configured so the status endpoint reports them.
func (s *Server) handlePrune(c echo.Context) error {
	var req PruneRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	ctx := c.Request().Context()
	var (
		report *pruner.Report
		err    error
	)
	if !req.DryRun && s.deps.Scheduler != nil {
		report, err = s.deps.Scheduler.RunOnce(ctx)
	} else {
		report, err = s.deps.Pruner.Prune(ctx, pruner.Options{DryRun: req.DryRun})
	}
	if err != nil {
		s.logger.Error("prune failed", zap.Bool("dry_run", req.DryRun), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "prune failed")
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) lookup(c echo.Context) (*pattern.Pattern, error) {
	id := c.Param("id")
	p, err := s.deps.Store.Get(c.Request().Context(), id)
	if err != nil {
		return nil, s.storeError(err, id, "failed to load pattern")
	}
	return p, nil
}

func (s *Server) storeError(err error, id, msg string) error {
	if errors.Is(err, pattern.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "pattern not found")
	}
	s.logger.Error(msg, zap.String("pattern_id", id), zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}

func (s *Server) fingerprintOrRaw(raw string) string {
	fp, err := fingerprint.FromURL(raw)
	if err != nil {
		s.logger.Warn("failed to fingerprint url, using raw url", zap.String("url", raw), zap.Error(err))
		return raw
	}
	return fp
}

func intParam(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully. It returns
// nil after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting http server", zap.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down http server")
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	}
}
