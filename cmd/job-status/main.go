package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/geoingestflow/internal/jobs"
	"github.com/Lllllllleong/geoingestflow/internal/models"
	"github.com/Lllllllleong/geoingestflow/internal/services"
)

var (
	statusInstance *services.StatusFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleJobStatus", handleJobStatus)
	functions.HTTP("HandleCancelJob", handleCancelJob)
}

func main() {}

func instance(w http.ResponseWriter) bool {
	once.Do(func() {
		statusInstance, initErr = services.NewStatus(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Status initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return false
	}
	return true
}

// handleJobStatus returns one job for ?jobId=, or recent jobs without it.
func handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if !instance(w) {
		return
	}
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		res, err := statusInstance.List(r.Context(), limit)
		respond(w, res, err)
		return
	}
	job, err := statusInstance.Get(r.Context(), &models.JobRequest{JobID: jobID})
	respond(w, job, err)
}

// handleCancelJob requests cancellation of the job named in the body.
func handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if !instance(w) {
		return
	}
	var req models.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}
	job, err := statusInstance.Cancel(r.Context(), &req)
	respond(w, job, err)
}

func respond(w http.ResponseWriter, v any, err error) {
	switch {
	case errors.Is(err, services.ErrBadRequest):
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, jobs.ErrNotFound):
		http.Error(w, "Not Found: no such job", http.StatusNotFound)
		return
	case errors.Is(err, jobs.ErrAlreadyTerminal):
		http.Error(w, "Conflict: job already finished", http.StatusConflict)
		return
	case err != nil:
		slog.Error("Job status request failed", "error", err)
		http.Error(w, "Internal Server Error: job store unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
