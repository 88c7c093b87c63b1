// Package api exposes job submission and polling over HTTP for the local
// server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Lllllllleong/geoingestflow/internal/blob"
	"github.com/Lllllllleong/geoingestflow/internal/jobs"
	"github.com/Lllllllleong/geoingestflow/internal/output"
	"github.com/Lllllllleong/geoingestflow/internal/pipeline"
)

// Config configures a Server.
type Config struct {
	Orchestrator *pipeline.Orchestrator
	Tracker      *jobs.Tracker
	Blobs        blob.Store

	// MaxFiles caps the files of one submission (default 50).
	MaxFiles int
	// MaxRequestBytes caps the multipart body (default 1 GiB).
	MaxRequestBytes int64
	// DefaultOptions apply when a submission leaves an option unset.
	DefaultOptions jobs.Options

	Logger *slog.Logger
}

// Server serves the jobs API.
type Server struct {
	cfg Config
}

// New returns a Server.
func New(cfg Config) *Server {
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 50
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 1 << 30
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Post("/{id}/cancel", s.handleCancel)
		r.Get("/{id}/artifacts/{name}", s.handleArtifact)
	})
	return r
}

// handleSubmit accepts a multipart batch in the "files" field.
// POST /jobs
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, `no files in the "files" field`)
		return
	}
	if len(headers) > s.cfg.MaxFiles {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%d files exceeds the limit of %d", len(headers), s.cfg.MaxFiles))
		return
	}

	opts := s.cfg.DefaultOptions
	var err error
	if opts.AutoFix, err = formBool(r, "autoFix", opts.AutoFix); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if opts.StrictRows, err = formBool(r, "strictRows", opts.StrictRows); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := r.FormValue("name")
	if name == "" {
		name = headers[0].Filename
	}

	files := make([]pipeline.UploadedFile, len(headers))
	for i, fh := range headers {
		files[i] = multipartFile(fh)
	}

	job, err := s.cfg.Orchestrator.Submit(r.Context(), name, files, opts)
	if err != nil {
		if errors.Is(err, pipeline.ErrFileTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		}
		s.cfg.Logger.Error("Failed to submit batch", "error", err, "requestId", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "failed to submit batch")
		return
	}
	w.Header().Set("Location", "/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func multipartFile(fh *multipart.FileHeader) pipeline.UploadedFile {
	return pipeline.UploadedFile{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func(context.Context) (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

func formBool(r *http.Request, key string, fallback bool) (bool, error) {
	v := r.FormValue(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}

// GET /jobs?limit=n
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := s.cfg.Tracker.List(r.Context(), limit)
	if err != nil {
		s.jobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

// GET /jobs/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.cfg.Tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.jobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// POST /jobs/{id}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.cfg.Tracker.RequestCancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.jobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// GET /jobs/{id}/artifacts/{name}
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	job, err := s.cfg.Tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.jobError(w, r, err)
		return
	}
	if job.Outputs == nil {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s and has no outputs", job.Status))
		return
	}

	var ref, contentType string
	switch chi.URLParam(r, "name") {
	case output.ArtifactGeoData:
		ref, contentType = job.Outputs.GeoData, "application/geo+json"
	case output.ArtifactReport:
		ref, contentType = job.Outputs.Report, "application/json"
	case output.ArtifactVisualization:
		ref, contentType = job.Outputs.Visualization, "text/html; charset=utf-8"
	default:
		writeError(w, http.StatusNotFound, "unknown artifact")
		return
	}

	data, err := s.cfg.Blobs.Get(r.Context(), ref)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact missing from storage")
			return
		}
		s.cfg.Logger.Error("Failed to read artifact", "error", err, "ref", ref)
		writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) jobError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, jobs.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "job already finished")
	default:
		s.cfg.Logger.Error("Job store request failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "job store unavailable")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
