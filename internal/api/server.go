package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"reelsmith/internal/config"
	"reelsmith/internal/logging"
	"reelsmith/internal/logs"
	"reelsmith/internal/runs"
	"reelsmith/internal/services"
	"reelsmith/internal/workflow"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

const (
	defaultListLimit = 50
	maxListLimit     = 500
	defaultLogLines  = 200
	maxLogLines      = 5000
	requestIDHeader  = "X-Request-ID"
)

// Runner starts pipeline runs. *workflow.Orchestrator satisfies it.
type Runner interface {
	NewRunID() string
	Run(ctx context.Context, req workflow.Request) (workflow.Result, error)
}

// Server exposes the run ledger and starts runs over HTTP.
type Server struct {
	bind   string
	token  string
	logDir string
	ledger *runs.Store
	runner Runner
	logger *slog.Logger
	engine *gin.Engine

	// runCtx outlives individual requests; Shutdown cancels it.
	runCtx    context.Context
	cancelRun context.CancelFunc

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup

	listener net.Listener
	server   *http.Server
}

// NewServer wires routes for cfg.API.
func NewServer(cfg *config.Config, ledger *runs.Store, runner Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	runCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		bind:      strings.TrimSpace(cfg.API.Bind),
		token:     strings.TrimSpace(cfg.API.Token),
		logDir:    cfg.Paths.StateDir,
		ledger:    ledger,
		runner:    runner,
		logger:    logging.NewComponentLogger(logger, "api"),
		runCtx:    runCtx,
		cancelRun: cancel,
		active:    make(map[string]struct{}),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestID(), s.accessLog())
	engine.GET("/api/health", s.handleHealth)

	authed := engine.Group("/api", s.bearerAuth())
	authed.POST("/runs", s.handleCreateRun)
	authed.GET("/runs", s.handleListRuns)
	authed.GET("/runs/:id", s.handleGetRun)
	authed.GET("/runs/:id/log", s.handleRunLog)
	engine.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "not_found", "no such endpoint")
	})
	s.engine = engine
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens on the configured bind address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "api", "listen", s.bind, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Shutdown(5 * time.Second)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr is the bound listener address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests, cancels in-flight runs, and waits for
// them to record their final state.
func (s *Server) Shutdown(timeout time.Duration) {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		_ = s.server.Shutdown(shutdownCtx)
		cancel()
	}
	s.cancelRun()
	s.Wait()
}

// Wait blocks until every run started through the API has finished.
func (s *Server) Wait() { s.wg.Wait() }

// ActiveRuns reports runs still executing.
func (s *Server) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    Version,
		ActiveRuns: s.ActiveRuns(),
		Timestamp:  time.Now().UTC(),
	})
}

func (s *Server) handleCreateRun(c *gin.Context) {
	var body CreateRunRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", "body must be JSON with a topic field")
		return
	}
	body.Topic = strings.TrimSpace(body.Topic)
	if body.Topic == "" {
		writeError(c, http.StatusBadRequest, "missing_topic", "topic is required")
		return
	}
	if body.DurationSeconds < 0 {
		writeError(c, http.StatusBadRequest, "invalid_duration", "duration_seconds must be positive")
		return
	}

	req := workflow.Request{
		RunID:         s.runner.NewRunID(),
		Topic:         body.Topic,
		Style:         body.Style,
		TargetSeconds: body.DurationSeconds,
		Language:      body.Language,
	}
	s.launch(c.GetString(requestIDHeader), req)
	c.JSON(http.StatusAccepted, CreateRunResponse{
		RunID:  req.RunID,
		Status: runs.StatusPending,
		URL:    "/api/runs/" + req.RunID,
	})
}

func (s *Server) launch(requestID string, req workflow.Request) {
	s.mu.Lock()
	s.active[req.RunID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, req.RunID)
			s.mu.Unlock()
		}()
		ctx := services.WithRequestID(s.runCtx, requestID)
		result, err := s.runner.Run(ctx, req)
		if err != nil {
			s.logger.Warn("api run failed",
				logging.String(logging.FieldRunID, req.RunID),
				logging.String(logging.FieldCorrelationID, requestID),
				logging.String("status", string(result.Status)),
				logging.Error(err),
			)
		}
	}()
}

func (s *Server) handleListRuns(c *gin.Context) {
	opts := runs.ListOptions{Limit: defaultListLimit}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(c, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		opts.Limit = min(limit, maxListLimit)
	}
	for _, value := range c.QueryArray("status") {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				opts.Statuses = append(opts.Statuses, runs.Status(trimmed))
			}
		}
	}

	list, err := s.ledger.List(c.Request.Context(), opts)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "ledger_error", err.Error())
		return
	}
	views := make([]RunView, 0, len(list))
	for _, run := range list {
		views = append(views, FromRun(run))
	}
	c.JSON(http.StatusOK, RunListResponse{Runs: views})
}

func (s *Server) handleGetRun(c *gin.Context) {
	ctx := c.Request.Context()
	run, err := s.ledger.Find(ctx, c.Param("id"))
	switch {
	case errors.Is(err, runs.ErrAmbiguous):
		writeError(c, http.StatusConflict, "ambiguous_id", err.Error())
		return
	case err != nil:
		writeError(c, http.StatusInternalServerError, "ledger_error", err.Error())
		return
	case run == nil:
		writeError(c, http.StatusNotFound, "run_not_found", fmt.Sprintf("no run matches %q", c.Param("id")))
		return
	}

	view := FromRun(*run)
	attempts, err := s.ledger.Attempts(ctx, run.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "ledger_error", err.Error())
		return
	}
	for _, a := range attempts {
		view.Attempts = append(view.Attempts, FromAttempt(a))
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleRunLog(c *gin.Context) {
	ctx := c.Request.Context()
	opts := logs.Options{Offset: -1, Limit: defaultLogLines}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
			return
		}
		opts.Offset = offset
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(c, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		opts.Limit = min(limit, maxLogLines)
	}

	run, err := s.ledger.Find(ctx, c.Param("id"))
	switch {
	case errors.Is(err, runs.ErrAmbiguous):
		writeError(c, http.StatusConflict, "ambiguous_id", err.Error())
		return
	case err != nil:
		writeError(c, http.StatusInternalServerError, "ledger_error", err.Error())
		return
	case run == nil:
		writeError(c, http.StatusNotFound, "run_not_found", fmt.Sprintf("no run matches %q", c.Param("id")))
		return
	}

	page, err := logs.Tail(ctx, logging.RunLogPath(s.logDir, run.ID), opts)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "log_error", err.Error())
		return
	}
	c.JSON(http.StatusOK, RunLogResponse{RunID: run.ID, Lines: page.Lines, Offset: page.Offset})
}

func (s *Server) bearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(s.token)) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="reelsmith"`)
			writeError(c, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug("api request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(started)),
			logging.String(logging.FieldCorrelationID, c.GetString(requestIDHeader)),
		)
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: code, Message: message})
}
