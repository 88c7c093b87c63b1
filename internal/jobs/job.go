// Package jobs owns the processing-job record and its lifecycle.
package jobs

import (
	"slices"
	"time"
)

// Status is the externally visible lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage is the orchestrator step a job is in.
type Stage string

const (
	StageCreated    Stage = "created"
	StageUploading  Stage = "uploading"
	StageParsing    Stage = "parsing"
	StageValidating Stage = "validating"
	StageMerging    Stage = "merging"
	StageGenerating Stage = "generating"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// FileStatus is the per-file result recorded in the manifest.
type FileStatus string

const (
	FileSucceeded   FileStatus = "success"
	FileFailed      FileStatus = "failed"
	FilePassthrough FileStatus = "passthrough"
)

// FileOutcome is one entry of the per-file manifest.
type FileOutcome struct {
	Name         string         `json:"name" firestore:"name"`
	Format       string         `json:"format" firestore:"format"`
	Status       FileStatus     `json:"status" firestore:"status"`
	Reason       string         `json:"reason,omitempty" firestore:"reason,omitempty"`
	FeatureCount int            `json:"featureCount" firestore:"featureCount"`
	IssueCount   int            `json:"issueCount,omitempty" firestore:"issueCount,omitempty"`
	Warnings     []string       `json:"warnings,omitempty" firestore:"warnings,omitempty"`
	ArtifactRef  string         `json:"artifactRef,omitempty" firestore:"artifactRef,omitempty"`
	Details      map[string]int `json:"details,omitempty" firestore:"details,omitempty"`
}

// Outputs references the generated artifacts.
type Outputs struct {
	GeoData       string `json:"geoData" firestore:"geoData"`
	Report        string `json:"report" firestore:"report"`
	Visualization string `json:"visualization" firestore:"visualization"`
}

// InputRef points at a staged input file.
type InputRef struct {
	Name        string `json:"name" firestore:"name"`
	ContentType string `json:"contentType,omitempty" firestore:"contentType,omitempty"`
	Size        int64  `json:"size" firestore:"size"`
	Ref         string `json:"ref" firestore:"ref"`
}

// Options are the caller's processing choices, stored with the job so any
// worker can run it.
type Options struct {
	AutoFix    bool `json:"autoFix" firestore:"autoFix"`
	StrictRows bool `json:"strictRows" firestore:"strictRows"`
}

// Job is the tracked unit of asynchronous pipeline work.
type Job struct {
	ID              string        `json:"id" firestore:"id"`
	Name            string        `json:"name" firestore:"name"`
	Status          Status        `json:"status" firestore:"status"`
	Stage           Stage         `json:"stage" firestore:"stage"`
	Progress        int           `json:"progress" firestore:"progress"`
	Message         string        `json:"message" firestore:"message"`
	CreatedAt       time.Time     `json:"createdAt" firestore:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt" firestore:"updatedAt"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty" firestore:"completedAt,omitempty"`
	Files           []FileOutcome `json:"files,omitempty" firestore:"files,omitempty"`
	Outputs         *Outputs      `json:"outputs,omitempty" firestore:"outputs,omitempty"`
	Error           string        `json:"error,omitempty" firestore:"error,omitempty"`
	Inputs          []InputRef    `json:"inputs,omitempty" firestore:"inputs,omitempty"`
	Options         Options       `json:"options" firestore:"options"`
	CancelRequested bool          `json:"cancelRequested,omitempty" firestore:"cancelRequested"`
	SucceededFiles  int           `json:"succeededFiles" firestore:"succeededFiles"`
	FailedFiles     int           `json:"failedFiles" firestore:"failedFiles"`
	FeatureCount    int           `json:"featureCount" firestore:"featureCount"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Outputs != nil {
		o := *j.Outputs
		c.Outputs = &o
	}
	c.Inputs = slices.Clone(j.Inputs)
	if j.Files != nil {
		c.Files = make([]FileOutcome, len(j.Files))
		for i, f := range j.Files {
			f.Warnings = slices.Clone(f.Warnings)
			if f.Details != nil {
				d := make(map[string]int, len(f.Details))
				for k, v := range f.Details {
					d[k] = v
				}
				f.Details = d
			}
			c.Files[i] = f
		}
	}
	return &c
}

// PartialSuccess reports whether the job completed with at least one failed
// file.
func (j *Job) PartialSuccess() bool {
	return j.Status == StatusCompleted && j.FailedFiles > 0
}

// tally recomputes the manifest counters.
func (j *Job) tally() {
	j.SucceededFiles, j.FailedFiles, j.FeatureCount = 0, 0, 0
	for _, f := range j.Files {
		switch f.Status {
		case FileSucceeded:
			j.SucceededFiles++
			j.FeatureCount += f.FeatureCount
		case FileFailed:
			j.FailedFiles++
		}
	}
}
