package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-scraper/internal/config"
	"github.com/JakeFAU/site-scraper/internal/crawler"
	"github.com/JakeFAU/site-scraper/internal/jobs"
	"github.com/JakeFAU/site-scraper/internal/metrics"
)

// maxRequestBody caps submission payloads.
const maxRequestBody = 1 << 20

// JobService is the job queue surface the handlers need.
type JobService interface {
	Submit(ctx context.Context, rawURL string) (crawler.Job, error)
	Status(ctx context.Context, jobID string) (crawler.Job, error)
	Result(ctx context.Context, jobID string) (crawler.Result, error)
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the job service.
type Server struct {
	router chi.Router
	jobs   JobService
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(jobService JobService, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		jobs:   jobService,
		logger: logger.Named("api"),
	}
	requestTimeout := cfg.Server.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/scrape", func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Post("/", s.submitScrape)
		r.Get("/status/{jobId}", s.getJobStatus)
		r.Get("/result/{jobId}", s.getJobResult)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.jobs.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	URL string `json:"url"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	job, err := s.jobs.Submit(r.Context(), req.URL)
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "url must be an absolute http or https URL")
		return
	case errors.Is(err, jobs.ErrBlockedURL):
		writeError(w, http.StatusForbidden, "url host is not allowed")
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "job queue is full, retry later")
		return
	default:
		s.logger.Error("submit scrape failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue scrape job")
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{
		Success: true,
		JobID:   job.ID,
		Status:  "queued",
		Message: fmt.Sprintf("Scraping job queued. Poll /scrape/status/%s for progress.", job.ID),
	})
}

type statusResponse struct {
	JobID       string           `json:"jobId"`
	URL         string           `json:"url"`
	State       crawler.JobState `json:"state"`
	Progress    int              `json:"progress"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"maxAttempts"`
	Error       string           `json:"error,omitempty"`
	SubmittedAt time.Time        `json:"submittedAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	FinishedAt  *time.Time       `json:"finishedAt,omitempty"`
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job, err := s.jobs.Status(r.Context(), jobID)
	if err != nil {
		s.writeLookupError(w, jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		JobID:       job.ID,
		URL:         job.URL,
		State:       job.State,
		Progress:    job.Progress,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Error:       job.FailedReason,
		SubmittedAt: job.SubmittedAt,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
	})
}

type resultSummary struct {
	TotalPages int            `json:"totalPages"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Method     crawler.Method `json:"method"`
	Duration   string         `json:"duration"`
}

type resultResponse struct {
	Success  bool              `json:"success"`
	Data     map[string]string `json:"data"`
	Metadata crawler.Metadata  `json:"metadata"`
	Summary  resultSummary     `json:"summary"`
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	result, err := s.jobs.Result(r.Context(), jobID)
	if err != nil {
		var notDone *jobs.NotCompletedError
		if errors.As(err, &notDone) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Job is not completed yet. Current state: %s", notDone.State))
			return
		}
		s.writeLookupError(w, jobID, err)
		return
	}
	data := result.Data
	if data == nil {
		data = map[string]string{}
	}
	meta := result.Metadata
	writeJSON(w, http.StatusOK, resultResponse{
		Success:  true,
		Data:     data,
		Metadata: meta,
		Summary: resultSummary{
			TotalPages: meta.TotalURLsFound,
			Successful: meta.SuccessfulScrapes,
			Failed:     meta.FailedScrapes,
			Method:     meta.ScrapingMethod,
			Duration:   meta.Duration,
		},
	})
}

func (s *Server) writeLookupError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, jobs.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	s.logger.Error("job lookup failed", zap.String("job_id", jobID), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load job")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
