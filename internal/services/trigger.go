package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/Lllllllleong/geoingestflow/internal/gcp"
	"github.com/Lllllllleong/geoingestflow/internal/jobs"
	"github.com/Lllllllleong/geoingestflow/internal/pipeline"
)

// GCSEvent is the payload of a storage object-finalized event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// FileOpener turns an uploaded object into pipeline input.
type FileOpener interface {
	OpenFile(ctx context.Context, bucket, object string) (pipeline.UploadedFile, error)
}

// JobRunner runs a created job over the given files.
type JobRunner interface {
	Run(ctx context.Context, jobID string, files []pipeline.UploadedFile) (*jobs.Job, error)
}

// UploadTriggerConfig holds configuration for the upload-trigger service.
type UploadTriggerConfig struct {
	OutputBucket string
	OutputPrefix string
	AutoFix      bool
	StrictRows   bool
}

// UploadTriggerFunction turns each uploaded object into a one-file job and
// processes it inline.
type UploadTriggerFunction struct {
	tracker *jobs.Tracker
	opener  FileOpener
	runner  JobRunner
	config  UploadTriggerConfig
}

// NewUploadTrigger creates a new UploadTriggerFunction instance.
func NewUploadTrigger(ctx context.Context) (*UploadTriggerFunction, error) {
	rt, err := newRuntime(ctx)
	if err != nil {
		return nil, err
	}
	config := UploadTriggerConfig{
		OutputBucket: rt.config.OutputBucket,
		OutputPrefix: rt.config.OutputPrefix,
		AutoFix:      gcp.GetEnv("AUTO_FIX", "true") == "true",
		StrictRows:   gcp.GetEnv("STRICT_ROWS", "false") == "true",
	}
	return &UploadTriggerFunction{
		tracker: rt.tracker,
		opener:  rt.gcs,
		runner:  rt.orchestrator,
		config:  config,
	}, nil
}

// Process handles one finalized object.
func (f *UploadTriggerFunction) Process(ctx context.Context, e GCSEvent) (*jobs.Job, error) {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	if e.Bucket == "" || e.Name == "" || strings.HasSuffix(e.Name, "/") {
		logCtx.Warn("Event does not name an object. Skipping.")
		return nil, nil
	}
	if e.Bucket == f.config.OutputBucket && strings.HasPrefix(e.Name, f.config.OutputPrefix+"/") {
		logCtx.Info("Object is a pipeline output. Skipping.")
		return nil, nil
	}

	file, err := f.opener.OpenFile(ctx, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to open uploaded object", "error", err)
		return nil, err
	}
	if file.ContentType == "" {
		file.ContentType = e.ContentType
	}

	input := jobs.InputRef{
		Name:        file.Name,
		ContentType: file.ContentType,
		Size:        file.Size,
		Ref:         gcp.GCSRef(e.Bucket, e.Name),
	}
	job, err := f.tracker.Create(ctx, path.Base(e.Name), jobs.Options{AutoFix: f.config.AutoFix, StrictRows: f.config.StrictRows}, []jobs.InputRef{input})
	if err != nil {
		logCtx.Error("Failed to create job", "error", err)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	logCtx = logCtx.With("jobId", job.ID)
	logCtx.Info("Created job for upload.")

	done, err := f.runner.Run(ctx, job.ID, []pipeline.UploadedFile{file})
	if done == nil {
		logCtx.Error("Job could not be run", "error", err)
		return nil, err
	}
	logCtx.Info("Upload processed.", "status", done.Status, "features", done.FeatureCount)
	return done, nil
}
