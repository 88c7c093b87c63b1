package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/geoingestflow/internal/jobs"
	"github.com/Lllllllleong/geoingestflow/internal/models"
)

// Runner executes a staged job.
type Runner interface {
	Process(ctx context.Context, jobID string) (*jobs.Job, error)
}

// ProcessorFunction runs one job through the pipeline on behalf of the
// workflow.
type ProcessorFunction struct {
	runner Runner
}

// NewProcessor creates a new ProcessorFunction instance.
func NewProcessor(ctx context.Context) (*ProcessorFunction, error) {
	rt, err := newRuntime(ctx)
	if err != nil {
		return nil, err
	}
	return &ProcessorFunction{runner: rt.orchestrator}, nil
}

// Process runs the job. A job that ends failed is a normal response; only a
// job that could not be run or recorded returns an error, so the workflow
// retries it.
func (f *ProcessorFunction) Process(ctx context.Context, req *models.ProcessJobRequest) (*models.ProcessJobResponse, error) {
	logCtx := slog.With("jobId", req.JobID, "executionId", req.ExecutionID)
	if req.JobID == "" {
		return nil, fmt.Errorf("%w: jobId is required", ErrBadRequest)
	}
	logCtx.Info("Starting job processing.")

	job, err := f.runner.Process(ctx, req.JobID)
	if job == nil {
		logCtx.Error("Job processing failed", "error", err)
		return nil, fmt.Errorf("failed to process job %s: %w", req.JobID, err)
	}
	if err != nil {
		logCtx.Warn("Job ended failed.", "reason", job.Error)
	}
	return &models.ProcessJobResponse{
		Status:         "success",
		JobStatus:      job.Status,
		Error:          job.Error,
		SucceededFiles: job.SucceededFiles,
		FailedFiles:    job.FailedFiles,
		FeatureCount:   job.FeatureCount,
		Outputs:        job.Outputs,
	}, nil
}
