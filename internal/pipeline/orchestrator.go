// Package pipeline runs a batch of uploaded files through detection, parsing,
// validation, merging and output generation while keeping the job record in
// step with each stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/geoingestflow/internal/blob"
	"github.com/Lllllllleong/geoingestflow/internal/formats"
	"github.com/Lllllllleong/geoingestflow/internal/geo"
	"github.com/Lllllllleong/geoingestflow/internal/jobs"
	"github.com/Lllllllleong/geoingestflow/internal/merge"
	"github.com/Lllllllleong/geoingestflow/internal/output"
	"github.com/Lllllllleong/geoingestflow/internal/parse"
	"github.com/Lllllllleong/geoingestflow/internal/validate"
)

var (
	// ErrCancelled marks a run stopped by a cancellation request or by its
	// context. Its text is the reason prefix recorded on the job.
	ErrCancelled = errors.New("cancelled")
	// ErrNoUsableInput is returned when no file in the batch parsed.
	ErrNoUsableInput = errors.New("no usable input")
	// ErrFileTooLarge is returned for a file over Config.MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")
)

const (
	defaultMaxFileSize  = 100 * 1024 * 1024
	defaultParallelism  = 8
	defaultOutputPrefix = "jobs"
	defaultUploadPrefix = "uploads"
)

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Tracker   *jobs.Tracker
	Blobs     blob.Store
	Validator *validate.Validator
	Output    output.Options

	MaxFileSize int64
	// Parallelism bounds the files parsed or validated at once (default 8).
	Parallelism int
	// OutputPrefix is the blob name prefix for job artifacts (default "jobs").
	OutputPrefix string
	// UploadPrefix is the blob name prefix for staged inputs (default "uploads").
	UploadPrefix string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = defaultMaxFileSize
	}
	if c.Parallelism <= 0 {
		c.Parallelism = defaultParallelism
	}
	if c.OutputPrefix == "" {
		c.OutputPrefix = defaultOutputPrefix
	}
	if c.UploadPrefix == "" {
		c.UploadPrefix = defaultUploadPrefix
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Validator == nil {
		c.Validator = validate.New(validate.Config{Logger: c.Logger})
	}
}

// Orchestrator drives jobs through the pipeline. It is the only writer of the
// jobs it runs.
type Orchestrator struct {
	cfg Config
	wg  sync.WaitGroup
}

// New returns an Orchestrator. Tracker and Blobs are required.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Tracker == nil {
		return nil, errors.New("pipeline: tracker is required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("pipeline: blob store is required")
	}
	cfg.defaults()
	return &Orchestrator{cfg: cfg}, nil
}

// Submit stages files, creates a pending job and runs it in the background.
// It returns the job as created; callers poll the tracker for progress.
func (o *Orchestrator) Submit(ctx context.Context, name string, files []UploadedFile, opts jobs.Options) (*jobs.Job, error) {
	if len(files) == 0 {
		return nil, errors.New("no files submitted")
	}
	refs, err := o.Stage(ctx, files)
	if err != nil {
		return nil, err
	}
	job, err := o.cfg.Tracker.Create(ctx, name, opts, refs)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	runCtx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if _, err := o.Process(runCtx, job.ID); err != nil {
			o.cfg.Logger.Warn("Background job ended with error.", "jobId", job.ID, "error", err)
		}
	}()
	return job, nil
}

// Wait blocks until every job started by Submit has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Process runs a job whose inputs were staged earlier, reading them back from
// the blob store.
func (o *Orchestrator) Process(ctx context.Context, jobID string) (*jobs.Job, error) {
	job, err := o.cfg.Tracker.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	files := make([]UploadedFile, len(job.Inputs))
	for i, in := range job.Inputs {
		files[i] = StoredFile(o.cfg.Blobs, in)
	}
	return o.Run(ctx, jobID, files)
}

// Run drives an existing pending job over files to a terminal state and
// returns the final record. A non-nil error means the job could not complete;
// when the job record was reachable it is failed with a reason before Run
// returns.
func (o *Orchestrator) Run(ctx context.Context, jobID string, files []UploadedFile) (job *jobs.Job, err error) {
	logCtx := o.cfg.Logger.With("jobId", jobID)

	job, err = o.cfg.Tracker.Start(ctx, jobID)
	if err != nil {
		logCtx.Error("Failed to start job", "error", err)
		return nil, fmt.Errorf("start job %s: %w", jobID, err)
	}
	logCtx.Info("Starting pipeline run.", "files", len(files))

	r := &run{
		o:      o,
		jobID:  jobID,
		name:   job.Name,
		opts:   job.Options,
		files:  files,
		logCtx: logCtx,
	}

	defer func() {
		if p := recover(); p != nil {
			logCtx.Error("Pipeline panicked.", "panic", p)
			job, err = r.fail(ctx, fmt.Errorf("internal error: %v", p))
		}
	}()

	job, err = r.execute(ctx)
	if err != nil {
		return r.fail(ctx, err)
	}
	return job, nil
}

// slot is the per-file state, kept by submission index.
type slot struct {
	outcome    jobs.FileOutcome
	collection *geo.FeatureCollection
}

type run struct {
	o      *Orchestrator
	jobID  string
	name   string
	opts   jobs.Options
	files  []UploadedFile
	logCtx *slog.Logger

	slots []slot

	// mu serializes tracker writes made from fan-out goroutines.
	mu       sync.Mutex
	progress int
	parsed   int
}

func (r *run) execute(ctx context.Context) (*jobs.Job, error) {
	n := len(r.files)
	r.slots = make([]slot, n)

	// --- 1. Read and classify every file, parse the geometric ones ---
	if err := r.checkpoint(ctx, jobs.StageUploading, 5, fmt.Sprintf("reading %d file(s)", n)); err != nil {
		return nil, err
	}
	if err := r.checkpoint(ctx, jobs.StageParsing, 10, "parsing"); err != nil {
		return nil, err
	}
	if err := r.parseAll(ctx); err != nil {
		return nil, err
	}

	parsed := 0
	for _, s := range r.slots {
		if s.collection != nil {
			parsed++
		}
	}
	if parsed == 0 {
		return nil, fmt.Errorf("%w: none of %d file(s) could be parsed", ErrNoUsableInput, n)
	}

	// --- 2. Validate each parsed collection on its own ---
	if err := r.checkpoint(ctx, jobs.StageValidating, 60, fmt.Sprintf("validating %d collection(s)", parsed)); err != nil {
		return nil, err
	}
	if err := r.validateAll(); err != nil {
		return nil, err
	}

	// --- 3. Merge in submission order ---
	if err := r.checkpoint(ctx, jobs.StageMerging, 70, "merging"); err != nil {
		return nil, err
	}
	cols := make([]*geo.FeatureCollection, 0, parsed)
	for _, s := range r.slots {
		if s.collection != nil {
			cols = append(cols, s.collection)
		}
	}
	unified, err := merge.Merge(cols...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoUsableInput, err)
	}

	// --- 4. Generate and persist the artifacts ---
	if err := r.checkpoint(ctx, jobs.StageGenerating, 80, fmt.Sprintf("generating outputs for %d feature(s)", unified.Len())); err != nil {
		return nil, err
	}
	opts := r.o.cfg.Output
	if opts.Title == "" {
		opts.Title = r.name
	}
	result, err := output.Generate(unified, opts)
	if err != nil {
		return nil, fmt.Errorf("generate outputs: %w", err)
	}
	if err := r.checkpoint(ctx, jobs.StageGenerating, 90, "persisting outputs"); err != nil {
		return nil, err
	}
	outputs, err := r.persist(ctx, result)
	if err != nil {
		return nil, err
	}

	job, err := r.o.cfg.Tracker.CompleteSuccess(context.WithoutCancel(ctx), r.jobID, r.manifest(), outputs)
	if err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	r.logCtx.Info("Pipeline run complete.", "features", unified.Len(), "succeeded", job.SucceededFiles, "failed", job.FailedFiles)
	return job, nil
}

// checkpoint advances the job and then checks for cancellation.
func (r *run) checkpoint(ctx context.Context, stage jobs.Stage, progress int, message string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	job, err := r.advance(ctx, stage, progress, message)
	if err != nil {
		return err
	}
	if job.CancelRequested {
		return fmt.Errorf("%w: requested during %s", ErrCancelled, stage)
	}
	return nil
}

func (r *run) advance(ctx context.Context, stage jobs.Stage, progress int, message string) (*jobs.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advanceLocked(ctx, stage, progress, message)
}

func (r *run) advanceLocked(ctx context.Context, stage jobs.Stage, progress int, message string) (*jobs.Job, error) {
	if progress < r.progress {
		progress = r.progress
	}
	job, err := r.o.cfg.Tracker.Advance(ctx, r.jobID, stage, progress, message)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("advance to %s: %w", stage, err)
	}
	r.progress = progress
	return job, nil
}

func (r *run) parseAll(ctx context.Context) error {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.o.cfg.Parallelism)
	for i, f := range r.files {
		eg.Go(func() error {
			return safely(func() error {
				r.slots[i] = r.parseOne(gctx, i, f)
				return r.fileParsed(gctx)
			})
		})
	}
	return eg.Wait()
}

// fileParsed moves parsing progress from 10 towards 50 as files finish.
func (r *run) fileParsed(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsed++
	n := len(r.files)
	_, err := r.advanceLocked(ctx, jobs.StageParsing, 10+40*r.parsed/n, fmt.Sprintf("parsed %d of %d file(s)", r.parsed, n))
	return err
}

func (r *run) parseOne(ctx context.Context, idx int, f UploadedFile) (s slot) {
	logCtx := r.logCtx.With("file", f.Name)
	out := jobs.FileOutcome{Name: f.Name}
	defer func() {
		if p := recover(); p != nil {
			logCtx.Error("File handling panicked.", "panic", p)
			out.Status = jobs.FileFailed
			out.Reason = fmt.Sprintf("internal error: %v", p)
			s = slot{outcome: out}
		}
	}()

	data, err := readAll(ctx, f, r.o.cfg.MaxFileSize)
	if err != nil {
		logCtx.Warn("Failed to read file", "error", err)
		out.Format = string(formats.Detect(f.Name, nil))
		out.Status = jobs.FileFailed
		out.Reason = err.Error()
		return slot{outcome: out}
	}
	format := formats.Detect(f.Name, data)
	out.Format = string(format)

	switch {
	case format.Passthrough():
		return slot{outcome: r.storeAttachment(ctx, logCtx, idx, f, format, data, out)}
	case !format.Geometric():
		logCtx.Warn("Unsupported file skipped.")
		out.Status = jobs.FileFailed
		out.Reason = fmt.Sprintf("%v: %s", parse.ErrUnsupportedFormat, f.Name)
		return slot{outcome: out}
	}

	res := parse.Parse(f.Name, format, data, parse.Options{
		AutoFix:     r.opts.AutoFix,
		StrictRows:  r.opts.StrictRows,
		MaxFileSize: r.o.cfg.MaxFileSize,
		Logger:      logCtx,
	})
	if !res.OK() {
		logCtx.Warn("File failed to parse", "error", res.Err)
		out.Status = jobs.FileFailed
		out.Reason = res.Reason()
		return slot{outcome: out}
	}
	out.Status = jobs.FileSucceeded
	out.FeatureCount = res.Collection.Len()
	out.Warnings = res.Warnings()
	logCtx.Info("File parsed.", "features", out.FeatureCount, "warnings", len(out.Warnings))
	return slot{outcome: out, collection: res.Collection}
}

func (r *run) storeAttachment(ctx context.Context, logCtx *slog.Logger, idx int, f UploadedFile, format formats.Format, data []byte, out jobs.FileOutcome) jobs.FileOutcome {
	name := fmt.Sprintf("%s/%s/attachments/%03d-%s", r.o.cfg.OutputPrefix, r.jobID, idx, safeName(f.Name))
	ct := f.ContentType
	if ct == "" {
		ct = format.ContentType()
	}
	ref, err := r.o.cfg.Blobs.Put(ctx, name, ct, data)
	if err != nil {
		logCtx.Warn("Failed to store attachment", "error", err)
		out.Status = jobs.FileFailed
		out.Reason = fmt.Sprintf("store attachment: %v", err)
		return out
	}
	out.Status = jobs.FilePassthrough
	out.ArtifactRef = ref
	details, warning := inspect(format, data)
	out.Details = details
	if warning != "" {
		out.Warnings = []string{warning}
	}
	logCtx.Info("Stored passthrough attachment.", "ref", ref, "details", details)
	return out
}

func (r *run) validateAll() error {
	var eg errgroup.Group
	eg.SetLimit(r.o.cfg.Parallelism)
	for i := range r.slots {
		s := &r.slots[i]
		if s.collection == nil {
			continue
		}
		eg.Go(func() error {
			return safely(func() error {
				cleaned, issues := r.o.cfg.Validator.Clean(s.collection)
				s.collection = cleaned
				s.outcome.FeatureCount = cleaned.Len()
				s.outcome.IssueCount = len(issues)
				return nil
			})
		})
	}
	return eg.Wait()
}

func (r *run) persist(ctx context.Context, result *output.Result) (jobs.Outputs, error) {
	refs := make(map[string]string, 3)
	for _, a := range result.Artifacts() {
		name := fmt.Sprintf("%s/%s/%s", r.o.cfg.OutputPrefix, r.jobID, a.Name)
		ref, err := r.o.cfg.Blobs.Put(ctx, name, a.ContentType, a.Data)
		if err != nil {
			return jobs.Outputs{}, fmt.Errorf("persist %s: %w", a.Name, err)
		}
		refs[a.Name] = ref
	}
	r.logCtx.Info("Persisted outputs.", "geoData", refs[output.ArtifactGeoData])
	return jobs.Outputs{
		GeoData:       refs[output.ArtifactGeoData],
		Report:        refs[output.ArtifactReport],
		Visualization: refs[output.ArtifactVisualization],
	}, nil
}

func (r *run) manifest() []jobs.FileOutcome {
	files := make([]jobs.FileOutcome, len(r.slots))
	for i, s := range r.slots {
		files[i] = s.outcome
	}
	return files
}

// fail records cause on the job. The write ignores ctx cancellation so a
// cancelled run still reaches a terminal state.
func (r *run) fail(ctx context.Context, cause error) (*jobs.Job, error) {
	var files []jobs.FileOutcome
	if r.slots != nil {
		files = r.manifest()
	}
	job, err := r.o.cfg.Tracker.CompleteFailure(context.WithoutCancel(ctx), r.jobID, cause.Error(), files)
	if err != nil {
		r.logCtx.Error("Failed to record job failure", "error", err, "cause", cause)
		return nil, fmt.Errorf("%w (recording failure: %v)", cause, err)
	}
	return job, cause
}

// safely runs fn, turning a panic into an error. Goroutines of a fan-out are
// outside the recover in Run.
func safely(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("internal error: %v", p)
		}
	}()
	return fn()
}
