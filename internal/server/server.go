// Package server exposes the ETL and reconciliation operations over HTTP.
//
// Long-running operations return 202 with a workflow id immediately; clients
// poll /api/workflows/{id} for progress and results.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"fund-etl-service/internal/etl"
	"fund-etl-service/internal/models"
	"fund-etl-service/internal/reconciler"
	"fund-etl-service/internal/tracker"
	"fund-etl-service/pkg/errors"
	"fund-etl-service/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// Config holds server options
type Config struct {
	Addr string

	// WorkflowRetention bounds how long finished workflows are kept.
	WorkflowRetention time.Duration

	// OperationTimeout bounds one background operation.
	OperationTimeout time.Duration
}

// DefaultConfig returns the server defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:              ":8080",
		WorkflowRetention: 7 * 24 * time.Hour,
		OperationTimeout:  30 * time.Minute,
	}
}

// Server wires the HTTP API to the pipeline and the reconciliation engine
type Server struct {
	config   *Config
	pipeline *etl.Pipeline
	engine   *reconciler.Engine
	tracker  *tracker.Tracker
	logger   logger.Logger
}

// New creates a Server
func New(config *Config, pipeline *etl.Pipeline, engine *reconciler.Engine, tr *tracker.Tracker) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	return &Server{
		config:   config,
		pipeline: pipeline,
		engine:   engine,
		tracker:  tr,
		logger:   logger.GetGlobalLogger().WithComponent("server"),
	}
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/etl/run", s.handleRunDaily)
		r.Post("/etl/run-date", s.handleRunDate)
		r.Post("/etl/validate", s.handleValidate)

		r.Get("/workflows", s.handleListWorkflows)
		r.Get("/workflows/{id}", s.handleGetWorkflow)
		r.Post("/workflows/cleanup", s.handleCleanupWorkflows)
	})

	return r
}

// ListenAndServe runs the HTTP server until the context is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.config.Addr).Info("HTTP server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

type runDailyRequest struct {
	// RunDate overrides the current date, format 2006-01-02. Optional.
	RunDate string `json:"run_date,omitempty"`
}

func (s *Server) handleRunDaily(w http.ResponseWriter, r *http.Request) {
	var req runDailyRequest
	if err := decodeOptional(r, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}

	runDate := time.Now().UTC()
	if req.RunDate != "" {
		parsed, err := time.Parse(models.DateFormat, req.RunDate)
		if err != nil {
			renderError(w, r, http.StatusBadRequest, err)
			return
		}
		runDate = parsed
	}

	s.startWorkflow(w, r, "daily-etl", func(ctx context.Context, id string) bool {
		report := s.pipeline.RunDaily(ctx, runDate)
		s.appendJSON(ctx, id, report)
		return !report.Failed()
	})
}

type runDateRequest struct {
	Region string `json:"region"`
	Date   string `json:"date"`
}

func (s *Server) handleRunDate(w http.ResponseWriter, r *http.Request) {
	var req runDateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}

	region, err := models.ParseRegion(req.Region)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}
	date, err := time.Parse(models.DateFormat, req.Date)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}

	s.startWorkflow(w, r, "load-date", func(ctx context.Context, id string) bool {
		outcome := s.pipeline.LoadDate(ctx, region, date)
		s.appendJSON(ctx, id, outcome)
		return outcome.Status != etl.StatusFailed
	})
}

type validateRequest struct {
	Update bool   `json:"update,omitempty"`
	Mode   string `json:"mode,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeOptional(r, &req); err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}

	mode, err := models.ParseUpdateMode(req.Mode)
	if err != nil {
		renderError(w, r, http.StatusBadRequest, err)
		return
	}

	s.startWorkflow(w, r, "lookback-validation", func(ctx context.Context, id string) bool {
		summary := s.engine.ReconcileAll(ctx, req.Update, mode)
		s.appendJSON(ctx, id, summary)
		return !summary.Failed()
	})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.tracker.List(r.Context(), 50)
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	if workflows == nil {
		workflows = []*tracker.Workflow{}
	}
	render.JSON(w, r, workflows)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflow, err := s.tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	if workflow == nil {
		renderError(w, r, http.StatusNotFound, errors.New(errors.CategoryValidation, errors.CodeMissingField, "workflow not found"))
		return
	}
	render.JSON(w, r, workflow)
}

func (s *Server) handleCleanupWorkflows(w http.ResponseWriter, r *http.Request) {
	removed, err := s.tracker.Cleanup(r.Context(), s.config.WorkflowRetention)
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	render.JSON(w, r, map[string]int{"removed": removed})
}

// startWorkflow registers a workflow, runs fn in the background and responds
// 202 with the workflow id.
func (s *Server) startWorkflow(w http.ResponseWriter, r *http.Request, name string, fn func(ctx context.Context, id string) bool) {
	id, err := s.tracker.Start(r.Context(), name)
	if err != nil {
		renderError(w, r, http.StatusInternalServerError, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.OperationTimeout)
		defer cancel()

		defer func() {
			if recovered := recover(); recovered != nil {
				s.logger.WithField("workflow_id", id).Error("Workflow panicked")
				_ = s.tracker.Finish(ctx, id, false)
			}
		}()

		succeeded := fn(ctx, id)
		if err := s.tracker.Finish(ctx, id, succeeded); err != nil {
			s.logger.WithError(err).Error("Failed to finish workflow")
		}
	}()

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"workflow_id": id, "status": tracker.StatusRunning})
}

// appendJSON records a result object on the workflow output
func (s *Server) appendJSON(ctx context.Context, id string, v interface{}) {
	encoded, err := json.Marshal(v)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode workflow result")
		return
	}
	if err := s.tracker.AppendOutput(ctx, id, string(encoded)); err != nil {
		s.logger.WithError(err).Error("Failed to append workflow output")
	}
}

// decodeOptional decodes a JSON body when one is present; an empty body is
// not an error.
func decodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return render.DecodeJSON(r.Body, v)
}

func renderError(w http.ResponseWriter, r *http.Request, status int, err error) {
	render.Status(r, status)
	if etlErr, ok := errors.AsETLError(err); ok {
		render.JSON(w, r, etlErr)
		return
	}
	render.JSON(w, r, map[string]string{"error": err.Error()})
}
