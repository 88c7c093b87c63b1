// Command geoingest runs the ingestion pipeline on one machine. With file
// arguments it processes them once and prints the finished job; without, it
// serves the jobs API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Lllllllleong/geoingestflow/internal/api"
	"github.com/Lllllllleong/geoingestflow/internal/blob"
	"github.com/Lllllllleong/geoingestflow/internal/config"
	"github.com/Lllllllleong/geoingestflow/internal/jobs"
	"github.com/Lllllllleong/geoingestflow/internal/jobs/sqlstore"
	"github.com/Lllllllleong/geoingestflow/internal/pipeline"
	"github.com/Lllllllleong/geoingestflow/internal/retry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envPath := flag.String("env", ".env", "path to a .env file")
	name := flag.String("name", "", "job name when processing files")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *name, flag.Args()); err != nil {
		logger.Error("geoingest failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, name string, files []string) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	fileStore, err := blob.NewFileStore(filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		return err
	}
	blobs := blob.WithRetry(fileStore, retry.Policy{Attempts: 3, Backoff: 200 * time.Millisecond})

	store, closeStore, err := openJobStore(ctx, cfg.JobStore)
	if err != nil {
		return err
	}
	defer closeStore()

	tracker := jobs.NewTracker(store, jobs.TrackerConfig{})
	orch, err := pipeline.New(pipeline.Config{
		Tracker:     tracker,
		Blobs:       blobs,
		MaxFileSize: cfg.MaxFileBytes(),
		Parallelism: cfg.Pipeline.Parallelism,
	})
	if err != nil {
		return err
	}
	defaults := jobs.Options{AutoFix: cfg.Pipeline.AutoFix, StrictRows: cfg.Pipeline.StrictRows}

	if len(files) > 0 {
		return processFiles(ctx, tracker, orch, name, files, defaults)
	}

	srv := api.New(api.Config{
		Orchestrator:   orch,
		Tracker:        tracker,
		Blobs:          blobs,
		MaxFiles:       cfg.Pipeline.MaxFiles,
		DefaultOptions: defaults,
	})
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Listening.", "addr", cfg.Listen, "jobStore", cfg.JobStore.Driver, "dataDir", cfg.DataDir)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("Shutting down.")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP shutdown incomplete", "error", err)
		}
	}
	orch.Wait()
	return nil
}

func openJobStore(ctx context.Context, cfg config.JobStoreConfig) (jobs.Store, func(), error) {
	switch cfg.Driver {
	case config.StoreMemory:
		return jobs.NewMemoryStore(), func() {}, nil
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create job store dir: %w", err)
		}
		s, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StorePostgres:
		s, err := sqlstore.Open(ctx, sqlstore.DriverPostgres, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unsupported job store driver %q", cfg.Driver)
}

// processFiles runs one job over local files in the foreground.
func processFiles(ctx context.Context, tracker *jobs.Tracker, orch *pipeline.Orchestrator, name string, paths []string, opts jobs.Options) error {
	files := make([]pipeline.UploadedFile, 0, len(paths))
	for _, p := range paths {
		f, err := pipeline.LocalFile(p)
		if err != nil {
			return err
		}
		files = append(files, f)
	}
	if name == "" {
		name = files[0].Name
	}
	refs, err := orch.Stage(ctx, files)
	if err != nil {
		return err
	}
	job, err := tracker.Create(ctx, name, opts, refs)
	if err != nil {
		return err
	}
	done, runErr := orch.Process(ctx, job.ID)
	if done != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(done); err != nil {
			return err
		}
	}
	return runErr
}
