package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/Lllllllleong/geoingestflow/internal/gcp"
	"github.com/Lllllllleong/geoingestflow/internal/jobs"
	"github.com/Lllllllleong/geoingestflow/internal/models"
)

// ErrBadRequest marks a request rejected before any job was created.
var ErrBadRequest = errors.New("bad request")

// Launcher hands a created job to the processing workflow.
type Launcher interface {
	Launch(ctx context.Context, payload any) (string, error)
}

// SubmitterConfig holds configuration for the batch-submitter service.
type SubmitterConfig struct {
	WorkflowID       string
	WorkflowLocation string
	MaxFiles         int
}

// SubmitterFunction creates jobs for uploaded batches and starts the
// workflow that processes them.
type SubmitterFunction struct {
	tracker  *jobs.Tracker
	launcher Launcher
	config   SubmitterConfig
}

// NewSubmitter creates a new SubmitterFunction instance.
func NewSubmitter(ctx context.Context) (*SubmitterFunction, error) {
	rt, err := newRuntime(ctx)
	if err != nil {
		return nil, err
	}
	config := SubmitterConfig{
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		WorkflowID:       gcp.GetEnv("WORKFLOW_ID", "geoingest-orchestrator"),
		MaxFiles:         50,
	}
	launcher, err := gcp.NewWorkflowLauncher(ctx, rt.config.ProjectID, config.WorkflowLocation, config.WorkflowID)
	if err != nil {
		return nil, err
	}
	slog.Info("Batch submitter initialized.", "workflowId", config.WorkflowID)
	return newSubmitter(rt.tracker, launcher, config), nil
}

func newSubmitter(tracker *jobs.Tracker, launcher Launcher, config SubmitterConfig) *SubmitterFunction {
	if config.MaxFiles <= 0 {
		config.MaxFiles = 50
	}
	return &SubmitterFunction{tracker: tracker, launcher: launcher, config: config}
}

// Process validates the batch, records a pending job and launches the workflow.
func (f *SubmitterFunction) Process(ctx context.Context, req *models.SubmitJobRequest) (*models.SubmitJobResponse, error) {
	logCtx := slog.With("jobName", req.Name, "files", len(req.Files))
	logCtx.Info("Received batch submission.")

	inputs, err := f.inputs(req)
	if err != nil {
		logCtx.Warn("Rejected batch submission", "error", err)
		return nil, err
	}

	job, err := f.tracker.Create(ctx, req.Name, jobs.Options{AutoFix: req.AutoFix, StrictRows: req.StrictRows}, inputs)
	if err != nil {
		logCtx.Error("Failed to create job", "error", err)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	logCtx = logCtx.With("jobId", job.ID)

	execution, err := f.launcher.Launch(ctx, models.ProcessJobRequest{JobID: job.ID})
	if err != nil {
		return nil, f.handleError(ctx, logCtx, job.ID, "failed to trigger workflow execution", err)
	}
	logCtx.Info("Hand-off to workflow complete.", "executionName", execution)

	return &models.SubmitJobResponse{
		Status:        "accepted",
		JobID:         job.ID,
		ExecutionName: execution,
	}, nil
}

func (f *SubmitterFunction) inputs(req *models.SubmitJobRequest) ([]jobs.InputRef, error) {
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: no files submitted", ErrBadRequest)
	}
	if len(req.Files) > f.config.MaxFiles {
		return nil, fmt.Errorf("%w: %d files exceeds the limit of %d", ErrBadRequest, len(req.Files), f.config.MaxFiles)
	}
	inputs := make([]jobs.InputRef, 0, len(req.Files))
	for i, file := range req.Files {
		_, object, err := gcp.ParseGCSRef(file.GCSUri)
		if err != nil {
			return nil, fmt.Errorf("%w: files[%d]: %v", ErrBadRequest, i, err)
		}
		name := file.Name
		if name == "" {
			name = path.Base(object)
		}
		inputs = append(inputs, jobs.InputRef{
			Name:        name,
			ContentType: file.ContentType,
			Ref:         file.GCSUri,
		})
	}
	return inputs, nil
}

// handleError is a helper to log an error, mark the job failed and return a
// wrapped error.
func (f *SubmitterFunction) handleError(ctx context.Context, logCtx *slog.Logger, jobID, msg string, err error) error {
	logCtx.Error(msg, "error", err)
	if _, ferr := f.tracker.CompleteFailure(context.WithoutCancel(ctx), jobID, fmt.Sprintf("%s: %v", msg, err), nil); ferr != nil {
		logCtx.Error("Failed to mark job as FAILED", "error", ferr)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
