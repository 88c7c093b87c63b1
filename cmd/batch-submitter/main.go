package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/geoingestflow/internal/models"
	"github.com/Lllllllleong/geoingestflow/internal/services"
)

var (
	submitterInstance *services.SubmitterFunction
	once              sync.Once
	initErr           error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleSubmitBatch", handleSubmitBatch)
}

func main() {}

// handleSubmitBatch is the HTTP handler for batch submission.
func handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		submitterInstance, initErr = services.NewSubmitter(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Submitter initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := submitterInstance.Process(r.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrBadRequest) {
			http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Internal Server Error: submission failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "jobId", res.JobID)
	}
}
