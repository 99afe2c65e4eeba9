// Package http provides the recd HTTP API: batch submission, model listing,
// artifact download, progress streaming, health and metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recd/internal/batch"
	"github.com/fyrsmithlabs/recd/internal/catalog"
	"github.com/fyrsmithlabs/recd/internal/logging"
	"github.com/fyrsmithlabs/recd/internal/products"
	"github.com/fyrsmithlabs/recd/internal/progress"
	"github.com/fyrsmithlabs/recd/internal/report"
	"github.com/fyrsmithlabs/recd/internal/telemetry"
)

// BatchRunner validates and executes batches.
type BatchRunner interface {
	Validate(modelKeys []string, iterations int) error
	Run(ctx context.Context, batchID string, rows []products.Row, modelKeys []string, iterations int) ([]batch.ResultRow, error)
}

// ModelSource exposes the catalog and which providers have credentials.
type ModelSource interface {
	Catalog() *catalog.Catalog
	Credentials() catalog.Credentials
}

// HealthReporter reports subsystem degradation for /health.
type HealthReporter interface {
	Health() telemetry.HealthStatus
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Runner    BatchRunner
	Models    ModelSource
	Publisher batch.Publisher
	NATS      *nats.Conn
	Artifacts *ArtifactStore

	// Optional.
	Metrics http.Handler
	Health  HealthReporter
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// BodyLimit caps request bodies, echo notation ("10M"). Empty disables it.
	BodyLimit      string
	ProgressPrefix string
	Heartbeat      time.Duration
}

// Server provides the HTTP endpoints for recd.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
	now     func() time.Time
}

// NewServer creates the server and registers its routes.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	switch {
	case deps.Runner == nil:
		return nil, errors.New("batch runner is required")
	case deps.Models == nil:
		return nil, errors.New("model source is required")
	case deps.Publisher == nil:
		return nil, errors.New("progress publisher is required")
	case deps.NATS == nil:
		return nil, errors.New("nats connection is required")
	case deps.Artifacts == nil:
		return nil, errors.New("artifact store is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8000, BodyLimit: "10M"}
	}
	if cfg.ProgressPrefix == "" {
		cfg.ProgressPrefix = progress.DefaultPrefix
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger),
		now:     time.Now,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), id)))
		},
	}))
	e.Use(s.metrics.Middleware())
	e.Use(s.requestLogger())
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		DisablePrintStack: true,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("handler panicked",
				zap.Error(err),
				zap.ByteString("stack", stack),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		},
	}))
	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			s.logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics))
	}

	v1 := s.echo.Group("/api/v1")
	v1.POST("/batches", s.handleSubmitBatch)
	v1.GET("/models", s.handleModels)
	v1.GET("/artifacts/:name", s.handleArtifact)
	v1.GET("/progress", progress.Handler(s.deps.NATS, progress.HandlerConfig{
		Prefix:    s.config.ProgressPrefix,
		Heartbeat: s.config.Heartbeat,
		Logger:    s.logger,
	}))
}

// handleError renders every error as {"message": ...}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := http.StatusText(code)

	var he *echo.HTTPError
	var ie *batch.InputError
	switch {
	case errors.As(err, &he):
		code = he.Code
		msg = fmt.Sprint(he.Message)
	case errors.As(err, &ie):
		code = http.StatusBadRequest
		msg = ie.Error()
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.Error(err),
			zap.String("uri", c.Request().RequestURI),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, ErrorResponse{Message: msg})
	}
	if err != nil {
		s.logger.Warn("failed to write error response", zap.Error(err))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.deps.Health != nil {
		if h := s.deps.Health.Health(); h.Degraded {
			resp.Degraded = h.Reasons
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleModels(c echo.Context) error {
	listing := s.deps.Models.Catalog().Listing(s.deps.Models.Credentials())
	return c.JSON(http.StatusOK, ModelsResponse{Models: listing})
}

func (s *Server) handleArtifact(c echo.Context) error {
	a, err := s.deps.Artifacts.Get(c.Param("name"))
	if errors.Is(err, ErrArtifactNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "artifact not found or expired")
	}
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", a.Name))
	return c.Blob(http.StatusOK, report.ContentType, a.Data)
}

// batchRequest is the validated form of a multipart batch submission.
type batchRequest struct {
	batchID    string
	models     []string
	iterations int
	rows       []products.Row
}

func (s *Server) handleSubmitBatch(c echo.Context) error {
	req, err := s.bindBatch(c)
	if err != nil {
		s.metrics.recordBatch(c, "rejected")
		return err
	}

	// The batch outlives a client disconnect; only process shutdown stops it.
	ctx := logging.WithBatchID(context.WithoutCancel(c.Request().Context()), req.batchID)

	results, err := s.runBatch(ctx, req)
	if err != nil {
		var ie *batch.InputError
		if errors.As(err, &ie) {
			s.metrics.recordBatch(c, "rejected")
			return echo.NewHTTPError(http.StatusBadRequest, ie.Error())
		}
		s.fail(ctx, req.batchID, err)
		s.metrics.recordBatch(c, "failed")
		return fmt.Errorf("batch %s: %w", req.batchID, err)
	}

	data, err := report.Write(results)
	if err != nil {
		s.fail(ctx, req.batchID, err)
		s.metrics.recordBatch(c, "failed")
		return fmt.Errorf("batch %s: %w", req.batchID, err)
	}
	name := s.deps.Artifacts.Put(req.batchID, report.Filename(s.now()), data)

	s.deps.Publisher.Publish(ctx, progress.Event{
		BatchID:    req.batchID,
		Completed:  len(results),
		Total:      len(results),
		Percentage: 100,
		Status:     progress.StatusCompleted,
		Message:    "Batch complete",
		Artifact:   name,
	})
	s.metrics.recordBatch(c, "completed")

	failed := 0
	for _, r := range results {
		if r.Failed {
			failed++
		}
	}
	return c.JSON(http.StatusOK, BatchResponse{
		Message:     fmt.Sprintf("Generated %d recommendations", len(results)),
		BatchID:     req.batchID,
		Filename:    name,
		Rows:        len(results),
		Failed:      failed,
		DownloadURL: "/api/v1/artifacts/" + name,
	})
}

// runBatch turns a panic in orchestration into an error so the failed
// event still goes out.
func (s *Server) runBatch(ctx context.Context, req batchRequest) (results []batch.ResultRow, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch panicked: %v", r)
		}
	}()
	return s.deps.Runner.Run(ctx, req.batchID, req.rows, req.models, req.iterations)
}

func (s *Server) fail(ctx context.Context, batchID string, err error) {
	s.deps.Publisher.Publish(ctx, progress.Event{
		BatchID: batchID,
		Status:  progress.StatusFailed,
		Message: err.Error(),
	})
}

// bindBatch validates the form before any file parsing or provider call.
func (s *Server) bindBatch(c echo.Context) (batchRequest, error) {
	var req batchRequest

	fh, err := c.FormFile("file")
	if err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "a CSV file is required in the 'file' field")
	}

	raw := c.FormValue("models")
	if raw == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, "models is required")
	}
	if err := json.Unmarshal([]byte(raw), &req.models); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "models must be a JSON array of model keys")
	}

	req.iterations = 1
	if v := c.FormValue("iterations"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, echo.NewHTTPError(http.StatusBadRequest, "iterations must be an integer")
		}
		req.iterations = n
	}

	req.batchID = c.FormValue("batch_id")
	if req.batchID == "" {
		req.batchID = uuid.NewString()
	} else if _, err := uuid.Parse(req.batchID); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "batch_id must be a UUID")
	}

	if err := s.deps.Runner.Validate(req.models, req.iterations); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	f, err := fh.Open()
	if err != nil {
		return req, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	req.rows, err = products.Parse(f)
	if err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid CSV: "+err.Error())
	}
	return req, nil
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
