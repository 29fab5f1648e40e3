// Package models defines data structures shared by the intake tracker.
package models

import "time"

// JobStatus is the lifecycle status reported by the extraction service for a job.
type JobStatus string

const (
	StatusPending        JobStatus = "pending"
	StatusProcessing     JobStatus = "processing"
	StatusUploadComplete JobStatus = "upload_complete"
	StatusCompleted      JobStatus = "completed"
	StatusFailed         JobStatus = "failed"
)

// Terminal reports whether no further progress is expected for this status.
// upload_complete is a phase boundary, not a terminal state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusUploadComplete, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Item is a per-file outcome inside a job.
type Item struct {
	Filename string `json:"filename"`
	Message  string `json:"message,omitempty"`
}

// Job is a single backend unit of work.
type Job struct {
	ID              string    `json:"id"`
	Status          JobStatus `json:"status"`
	Percent         int       `json:"percent"`
	TotalSteps      int       `json:"totalSteps"`
	CompletedSteps  int       `json:"completedSteps"`
	SuccessfulItems []Item    `json:"successfulItems,omitempty"`
	FailedItems     []Item    `json:"failedItems,omitempty"`
	CurrentFile     string    `json:"currentFile,omitempty"`

	// Manifest lists every originally submitted filename, used to show
	// items the backend has not acknowledged yet.
	Manifest []string `json:"manifest,omitempty"`
}

// Clone returns a deep copy so the tracker never shares slices with a delivery source.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.SuccessfulItems = append([]Item(nil), j.SuccessfulItems...)
	c.FailedItems = append([]Item(nil), j.FailedItems...)
	c.Manifest = append([]string(nil), j.Manifest...)
	return &c
}

// Batch aggregates multiple jobs tracked together (a queue on the backend).
type Batch struct {
	ID             string    `json:"id"`
	OverallPercent int       `json:"overallPercent"`
	TotalJobs      int       `json:"totalJobs"`
	CompletedJobs  int       `json:"completedJobs"`
	FailedJobs     int       `json:"failedJobs"`
	Status         JobStatus `json:"status"`
}

// SnapshotKind says which record a snapshot carries.
type SnapshotKind string

const (
	KindJob   SnapshotKind = "job"
	KindBatch SnapshotKind = "batch"
)

// Source identifies which update path delivered a snapshot.
type Source string

const (
	SourcePush Source = "push"
	SourcePull Source = "pull"
)

// Snapshot is one progress observation for a job or batch id.
// Exactly one of Job or Batch is set, matching Kind.
type Snapshot struct {
	Kind       SnapshotKind
	ID         string
	Source     Source
	ReceivedAt time.Time
	Job        *Job
	Batch      *Batch
}

// NewJobSnapshot wraps a job observation.
func NewJobSnapshot(job *Job, source Source) Snapshot {
	return Snapshot{
		Kind:       KindJob,
		ID:         job.ID,
		Source:     source,
		ReceivedAt: time.Now(),
		Job:        job,
	}
}

// NewBatchSnapshot wraps a batch observation.
func NewBatchSnapshot(batch *Batch, source Source) Snapshot {
	return Snapshot{
		Kind:       KindBatch,
		ID:         batch.ID,
		Source:     source,
		ReceivedAt: time.Now(),
		Batch:      batch,
	}
}
