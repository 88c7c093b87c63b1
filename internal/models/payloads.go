package models

import "github.com/Lllllllleong/geoingestflow/internal/jobs"

// These structs define the JSON payloads exchanged between clients, the Cloud
// Workflow and the worker Cloud Functions.

// SubmitFile names one already-uploaded input object.
type SubmitFile struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	GCSUri      string `json:"gcsUri"`
}

// SubmitJobRequest is the input for the batch-submitter function.
type SubmitJobRequest struct {
	Name       string       `json:"name"`
	Files      []SubmitFile `json:"files"`
	AutoFix    bool         `json:"autoFix"`
	StrictRows bool         `json:"strictRows"`
}

// SubmitJobResponse is the output of the batch-submitter function.
type SubmitJobResponse struct {
	Status        string `json:"status"`
	JobID         string `json:"jobId"`
	ExecutionName string `json:"executionName,omitempty"`
}

// ProcessJobRequest is the workflow's call into the job-processor function.
type ProcessJobRequest struct {
	JobID       string `json:"jobId"`
	ExecutionID string `json:"executionId"`
}

// ProcessJobResponse is the output of the job-processor function.
type ProcessJobResponse struct {
	Status         string        `json:"status"`
	JobStatus      jobs.Status   `json:"jobStatus"`
	Error          string        `json:"error,omitempty"`
	SucceededFiles int           `json:"succeededFiles"`
	FailedFiles    int           `json:"failedFiles"`
	FeatureCount   int           `json:"featureCount"`
	Outputs        *jobs.Outputs `json:"outputs,omitempty"`
}

// JobRequest addresses one job, for status polling and cancellation.
type JobRequest struct {
	JobID string `json:"jobId"`
}

// JobListResponse is the output of a job listing.
type JobListResponse struct {
	Jobs []*jobs.Job `json:"jobs"`
}
