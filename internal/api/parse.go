package api

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/clinops/intake-tracker/internal/models"
)

// The upload and progress endpoints have changed shape several times
// (camelCase vs snake_case, wrapped in "data" or "job", ignored files as strings
// or objects). Every reader below accepts all of them.

func unwrap(body []byte, wrappers ...string) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, ErrMalformedResponse
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return gjson.Result{}, ErrMalformedResponse
	}
	for _, w := range wrappers {
		if inner := root.Get(w); inner.IsObject() {
			return inner, nil
		}
	}
	return root, nil
}

// first returns the first path of paths that exists in r.
func first(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func firstString(r gjson.Result, paths ...string) string {
	return strings.TrimSpace(first(r, paths...).String())
}

func firstInt(r gjson.Result, paths ...string) int {
	return int(first(r, paths...).Int())
}

func items(r gjson.Result) []models.Item {
	if !r.IsArray() {
		return nil
	}
	var out []models.Item
	r.ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			out = append(out, models.Item{Filename: v.String()})
			return true
		}
		out = append(out, models.Item{
			Filename: firstString(v, "filename", "fileName", "name", "file"),
			Message:  firstString(v, "reason", "message", "error"),
		})
		return true
	})
	return out
}

func names(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	var out []string
	r.ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			out = append(out, v.String())
		} else if name := firstString(v, "filename", "fileName", "name"); name != "" {
			out = append(out, name)
		}
		return true
	})
	return out
}

// ParseSubmissionResponse normalizes the upload endpoint reply.
func ParseSubmissionResponse(body []byte) (*models.SubmissionResponse, error) {
	r, err := unwrap(body, "data")
	if err != nil {
		return nil, fmt.Errorf("failed to parse submission response: %w", err)
	}

	resp := &models.SubmissionResponse{
		JobID:           firstString(r, "jobId", "job_id", "job.id"),
		UploadJobID:     firstString(r, "uploadJobId", "upload_job_id", "jobs.upload"),
		ProcessingJobID: firstString(r, "processingJobId", "processing_job_id", "jobs.processing"),
		BatchID:         firstString(r, "batchId", "batch_id", "queueId", "queue_id"),
		PayloadCount:    firstInt(r, "payloadCount", "payload_count", "acceptedCount"),
		IgnoredCount:    firstInt(r, "ignoredCount", "ignored_count"),
		Ignored:         items(first(r, "ignored", "ignoredFiles", "ignored_files")),
		Message:         firstString(r, "message", "error"),
		Manifest:        names(first(r, "manifest", "files")),
	}
	return resp, nil
}

// ParseJob normalizes a job progress record.
func ParseJob(body []byte) (*models.Job, error) {
	r, err := unwrap(body, "job", "data")
	if err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	return jobFrom(r), nil
}

func jobFrom(r gjson.Result) *models.Job {
	percent := first(r, "percent", "progress", "percentage")
	job := &models.Job{
		ID:              firstString(r, "id", "jobId", "job_id"),
		Percent:         clampPercent(percent.Float()),
		TotalSteps:      firstInt(r, "totalSteps", "total_steps"),
		CompletedSteps:  firstInt(r, "completedSteps", "completed_steps"),
		SuccessfulItems: items(first(r, "successfulItems", "successful_items", "successful")),
		FailedItems:     items(first(r, "failedItems", "failed_items", "failed")),
		CurrentFile:     firstString(r, "currentFile", "current_file"),
		Manifest:        names(first(r, "manifest")),
	}
	job.Status = NormalizeStatus(firstString(r, "status", "state"), job.Percent)
	return job
}

// ParseBatch normalizes a batch (queue) progress record.
func ParseBatch(body []byte) (*models.Batch, error) {
	r, err := unwrap(body, "batch", "data")
	if err != nil {
		return nil, fmt.Errorf("failed to parse batch: %w", err)
	}
	return batchFrom(r), nil
}

func batchFrom(r gjson.Result) *models.Batch {
	batch := &models.Batch{
		ID:             firstString(r, "id", "batchId", "batch_id"),
		OverallPercent: clampPercent(first(r, "overallPercent", "overall_percent", "percent", "progress").Float()),
		TotalJobs:      firstInt(r, "totalJobs", "total_jobs"),
		CompletedJobs:  firstInt(r, "completedJobs", "completed_jobs"),
		FailedJobs:     firstInt(r, "failedJobs", "failed_jobs"),
	}
	batch.Status = NormalizeStatus(firstString(r, "status", "state"), batch.OverallPercent)
	return batch
}

// ParseSnapshot decodes a pushed progress message. The message names its kind
// with "type" ("job" or "batch", default job) and carries the record either
// inline or under "job"/"batch"/"data".
func ParseSnapshot(body []byte, source models.Source) (models.Snapshot, error) {
	if !gjson.ValidBytes(body) {
		return models.Snapshot{}, ErrMalformedResponse
	}
	root := gjson.ParseBytes(body)
	kind := strings.ToLower(firstString(root, "type", "kind"))

	switch {
	case kind == "batch" || kind == "batch_update" || root.Get("batch").IsObject():
		r, err := unwrap(body, "batch", "data")
		if err != nil {
			return models.Snapshot{}, err
		}
		batch := batchFrom(r)
		if batch.ID == "" {
			return models.Snapshot{}, fmt.Errorf("batch snapshot without id: %w", ErrMalformedResponse)
		}
		return models.NewBatchSnapshot(batch, source), nil
	default:
		r, err := unwrap(body, "job", "data")
		if err != nil {
			return models.Snapshot{}, err
		}
		job := jobFrom(r)
		if job.ID == "" {
			return models.Snapshot{}, fmt.Errorf("job snapshot without id: %w", ErrMalformedResponse)
		}
		return models.NewJobSnapshot(job, source), nil
	}
}

// NormalizeStatus maps the service's status vocabulary onto JobStatus.
// Unknown values become processing once any progress is reported, pending before.
func NormalizeStatus(raw string, percent int) models.JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "done", "success", "succeeded":
		return models.StatusCompleted
	case "failed", "error", "errored", "cancelled", "canceled":
		return models.StatusFailed
	case "upload_complete", "uploaded", "upload-complete":
		return models.StatusUploadComplete
	case "processing", "running", "in_progress", "active":
		return models.StatusProcessing
	case "pending", "queued", "waiting", "created":
		return models.StatusPending
	}
	if percent > 0 {
		return models.StatusProcessing
	}
	return models.StatusPending
}

func clampPercent(p float64) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return int(p)
}
