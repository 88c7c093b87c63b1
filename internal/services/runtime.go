package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/geoingestflow/internal/blob"
	"github.com/Lllllllleong/geoingestflow/internal/gcp"
	"github.com/Lllllllleong/geoingestflow/internal/jobs"
	"github.com/Lllllllleong/geoingestflow/internal/pipeline"
	"github.com/Lllllllleong/geoingestflow/internal/retry"
)

// RuntimeConfig is the environment shared by every function.
type RuntimeConfig struct {
	ProjectID      string
	OutputBucket   string
	CollectionName string
	OutputPrefix   string
	MaxFileSize    int64
	Parallelism    int
}

func loadRuntimeConfig() (RuntimeConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return RuntimeConfig{}, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	config := RuntimeConfig{
		ProjectID:      projectID,
		OutputBucket:   gcp.GetEnv("OUTPUT_BUCKET", ""),
		CollectionName: gcp.GetEnv("FIRESTORE_COLLECTION", "jobs"),
		OutputPrefix:   gcp.GetEnv("OUTPUT_PREFIX", "jobs"),
	}
	if config.OutputBucket == "" {
		return RuntimeConfig{}, fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
	}
	var err error
	if config.MaxFileSize, err = envInt("MAX_FILE_SIZE_BYTES", 100*1024*1024); err != nil {
		return RuntimeConfig{}, err
	}
	parallelism, err := envInt("PARALLELISM", 8)
	if err != nil {
		return RuntimeConfig{}, err
	}
	config.Parallelism = int(parallelism)
	return config, nil
}

func envInt(key string, fallback int64) (int64, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}

// runtime holds the clients and pipeline collaborators of one function
// instance.
type runtime struct {
	config          RuntimeConfig
	storageClient   *storage.Client
	firestoreClient *firestore.Client
	gcs             *gcp.GCSBlobStore
	tracker         *jobs.Tracker
	orchestrator    *pipeline.Orchestrator
}

func newRuntime(ctx context.Context) (*runtime, error) {
	config, err := loadRuntimeConfig()
	if err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	gcs := gcp.NewGCSBlobStore(storageClient, config.OutputBucket)
	tracker := jobs.NewTracker(gcp.NewFirestoreJobStore(firestoreClient, config.CollectionName), jobs.TrackerConfig{})
	orchestrator, err := pipeline.New(pipeline.Config{
		Tracker:      tracker,
		Blobs:        blob.WithRetry(gcs, retry.Policy{}),
		MaxFileSize:  config.MaxFileSize,
		Parallelism:  config.Parallelism,
		OutputPrefix: config.OutputPrefix,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Runtime initialized.", "outputBucket", config.OutputBucket, "collection", config.CollectionName)
	return &runtime{
		config:          config,
		storageClient:   storageClient,
		firestoreClient: firestoreClient,
		gcs:             gcs,
		tracker:         tracker,
		orchestrator:    orchestrator,
	}, nil
}
