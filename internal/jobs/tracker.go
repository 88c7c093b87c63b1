package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/geoingestflow/internal/retry"
)

var (
	// ErrNotFound is returned for an unknown job identifier.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned for a call the job's state does not
	// allow, such as decreasing progress.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrAlreadyTerminal is returned for any mutation of a completed or
	// failed job.
	ErrAlreadyTerminal = errors.New("job already terminal")
	// ErrStorage marks a job store failure that persisted after retries.
	ErrStorage = errors.New("job store failure")
)

// CancelledPrefix starts the failure reason of a cancelled job.
const CancelledPrefix = "cancelled: "

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	// Retry bounds retries of transient store failures. Contract errors
	// are never retried.
	Retry  retry.Policy
	Now    func() time.Time
	Logger *slog.Logger
}

func (c *TrackerConfig) defaults() {
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Retry.Logger == nil {
		c.Retry.Logger = c.Logger
	}
	c.Retry.Retryable = transient
}

// Tracker applies lifecycle transitions to job records. Every mutation is a
// single Store.Update, so it is visible to readers once the call returns.
type Tracker struct {
	store Store
	cfg   TrackerConfig
}

// NewTracker returns a Tracker over store.
func NewTracker(store Store, cfg TrackerConfig) *Tracker {
	cfg.defaults()
	return &Tracker{store: store, cfg: cfg}
}

// Create stores a new pending job with progress 0.
func (t *Tracker) Create(ctx context.Context, name string, opts Options, inputs []InputRef) (*Job, error) {
	now := t.cfg.Now()
	job := &Job{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    StatusPending,
		Stage:     StageCreated,
		Message:   "queued",
		CreatedAt: now,
		UpdatedAt: now,
		Inputs:    inputs,
		Options:   opts,
	}
	err := t.do(ctx, "create job", func(ctx context.Context) error {
		return t.store.Create(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	t.cfg.Logger.Info("Job created.", "jobId", job.ID, "name", name, "inputs", len(inputs))
	return job.Clone(), nil
}

// Get returns the current record.
func (t *Tracker) Get(ctx context.Context, id string) (*Job, error) {
	var job *Job
	err := t.do(ctx, "get job", func(ctx context.Context) error {
		var err error
		job, err = t.store.Get(ctx, id)
		return err
	})
	return job, err
}

// List returns up to limit jobs, newest first.
func (t *Tracker) List(ctx context.Context, limit int) ([]*Job, error) {
	var jobs []*Job
	err := t.do(ctx, "list jobs", func(ctx context.Context) error {
		var err error
		jobs, err = t.store.List(ctx, limit)
		return err
	})
	return jobs, err
}

// Start moves a pending job to processing.
func (t *Tracker) Start(ctx context.Context, id string) (*Job, error) {
	return t.update(ctx, id, func(j *Job) error {
		if j.Status != StatusPending {
			return fmt.Errorf("%w: start from %s", ErrInvalidTransition, j.Status)
		}
		j.Status = StatusProcessing
		j.Stage = StageUploading
		j.Message = "starting"
		return nil
	})
}

// Advance records progress. It is allowed only while the job is processing
// and rejects a progress value below the current one or above 100.
func (t *Tracker) Advance(ctx context.Context, id string, stage Stage, progress int, message string) (*Job, error) {
	return t.update(ctx, id, func(j *Job) error {
		if j.Status != StatusProcessing {
			return fmt.Errorf("%w: advance while %s", ErrInvalidTransition, j.Status)
		}
		if progress < j.Progress || progress > 100 {
			return fmt.Errorf("%w: progress %d after %d", ErrInvalidTransition, progress, j.Progress)
		}
		j.Stage = stage
		j.Progress = progress
		j.Message = message
		return nil
	})
}

// CompleteSuccess marks the job completed with its manifest and outputs.
func (t *Tracker) CompleteSuccess(ctx context.Context, id string, files []FileOutcome, outputs Outputs) (*Job, error) {
	job, err := t.update(ctx, id, func(j *Job) error {
		now := t.cfg.Now()
		j.Status = StatusCompleted
		j.Stage = StageCompleted
		j.Progress = 100
		j.CompletedAt = &now
		j.Files = files
		j.Outputs = &outputs
		j.tally()
		j.Message = fmt.Sprintf("completed: %d of %d file(s) succeeded", j.SucceededFiles, j.SucceededFiles+j.FailedFiles)
		return nil
	})
	if err == nil {
		t.cfg.Logger.Info("Job completed.", "jobId", id, "succeeded", job.SucceededFiles, "failed", job.FailedFiles, "features", job.FeatureCount)
	}
	return job, err
}

// CompleteFailure marks the job failed with reason. files, when non-nil,
// replaces the manifest so callers can see which files failed and why.
func (t *Tracker) CompleteFailure(ctx context.Context, id, reason string, files []FileOutcome) (*Job, error) {
	job, err := t.update(ctx, id, func(j *Job) error {
		now := t.cfg.Now()
		j.Status = StatusFailed
		j.Stage = StageFailed
		j.CompletedAt = &now
		j.Error = reason
		j.Message = "failed: " + reason
		if files != nil {
			j.Files = files
			j.tally()
		}
		return nil
	})
	if err == nil {
		t.cfg.Logger.Error("Job failed.", "jobId", id, "reason", reason)
	}
	return job, err
}

// RequestCancel asks for a job to stop. A pending job fails at once; a
// processing job is flagged and fails at the next stage boundary.
func (t *Tracker) RequestCancel(ctx context.Context, id string) (*Job, error) {
	return t.update(ctx, id, func(j *Job) error {
		j.CancelRequested = true
		if j.Status == StatusPending {
			now := t.cfg.Now()
			j.Status = StatusFailed
			j.Stage = StageFailed
			j.CompletedAt = &now
			j.Error = CancelledPrefix + "requested before processing started"
			j.Message = "failed: " + j.Error
		}
		return nil
	})
}

// update applies fn to a non-terminal job and stamps UpdatedAt.
func (t *Tracker) update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	var job *Job
	err := t.do(ctx, "update job", func(ctx context.Context) error {
		var err error
		job, err = t.store.Update(ctx, id, func(j *Job) error {
			if j.Status.Terminal() {
				return fmt.Errorf("%w: job %s is %s", ErrAlreadyTerminal, id, j.Status)
			}
			if err := fn(j); err != nil {
				return err
			}
			j.UpdatedAt = t.cfg.Now()
			return nil
		})
		return err
	})
	return job, err
}

func (t *Tracker) do(ctx context.Context, op string, fn func(context.Context) error) error {
	err := retry.Do(ctx, t.cfg.Retry, op, fn)
	if err == nil || !transient(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}

// transient reports whether a store error may succeed on retry.
func transient(err error) bool {
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, ErrInvalidTransition) &&
		!errors.Is(err, ErrAlreadyTerminal) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}
