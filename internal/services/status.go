package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/geoingestflow/internal/jobs"
	"github.com/Lllllllleong/geoingestflow/internal/models"
)

// StatusFunction answers polling and cancellation requests.
type StatusFunction struct {
	tracker *jobs.Tracker
}

// NewStatus creates a new StatusFunction instance.
func NewStatus(ctx context.Context) (*StatusFunction, error) {
	rt, err := newRuntime(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusFunction{tracker: rt.tracker}, nil
}

// Get returns the current job record.
func (f *StatusFunction) Get(ctx context.Context, req *models.JobRequest) (*jobs.Job, error) {
	if req.JobID == "" {
		return nil, fmt.Errorf("%w: jobId is required", ErrBadRequest)
	}
	return f.tracker.Get(ctx, req.JobID)
}

// Cancel asks the job to stop.
func (f *StatusFunction) Cancel(ctx context.Context, req *models.JobRequest) (*jobs.Job, error) {
	if req.JobID == "" {
		return nil, fmt.Errorf("%w: jobId is required", ErrBadRequest)
	}
	job, err := f.tracker.RequestCancel(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	slog.Info("Cancellation requested.", "jobId", job.ID, "status", job.Status)
	return job, nil
}

// List returns recent jobs, newest first.
func (f *StatusFunction) List(ctx context.Context, limit int) (*models.JobListResponse, error) {
	list, err := f.tracker.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &models.JobListResponse{Jobs: list}, nil
}
