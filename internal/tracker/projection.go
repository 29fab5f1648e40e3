package tracker

import (
	"time"

	"github.com/samber/lo"

	"github.com/clinops/intake-tracker/internal/models"
	"github.com/clinops/intake-tracker/internal/presentation"
)

// FileState is the per-file status shown in the expanded widget.
type FileState string

const (
	FilePending    FileState = "pending"
	FileInProgress FileState = "in_progress"
	FileSucceeded  FileState = "succeeded"
	FileFailed     FileState = "failed"
)

// FileStatus is one row of the expanded widget.
type FileStatus struct {
	Filename string    `json:"filename"`
	State    FileState `json:"state"`
	Message  string    `json:"message,omitempty"`
}

// Projection is the read-only view handed to renderers. It is rebuilt after
// every session change and shares no memory with the session.
type Projection struct {
	SessionID        string                  `json:"sessionId,omitempty"`
	Visibility       presentation.Visibility `json:"visibility"`
	DisplayedPercent int                     `json:"displayedPercent"`
	Phase            Phase                   `json:"phase"`
	State            State                   `json:"state"`
	PerFileStatus    []FileStatus            `json:"perFileStatus,omitempty"`
	IsActive         bool                    `json:"isActive"`
	// Starting is true for an active session with no snapshot yet.
	Starting     bool          `json:"starting"`
	Polling      bool          `json:"polling"`
	Banners      []Banner      `json:"banners,omitempty"`
	JobID        string        `json:"jobId,omitempty"`
	BatchID      string        `json:"batchId,omitempty"`
	Batch        *models.Batch `json:"batch,omitempty"`
	CurrentFile  string        `json:"currentFile,omitempty"`
	PollAttempt  int           `json:"pollAttempt"`
	LastUpdateAt time.Time     `json:"lastUpdateAt,omitzero"`
}

func (e *Engine) project() Projection {
	p := Projection{
		Visibility: e.machine.Visibility(),
		Phase:      PhaseNone,
		State:      StateIdle,
		IsActive:   e.machine.Active(),
		Starting:   e.machine.Starting(),
	}
	s := e.sess
	if s == nil {
		return p
	}

	p.SessionID = s.id
	p.Phase = s.phase
	p.State = s.state
	p.DisplayedPercent = s.combined
	p.Polling = s.polling
	p.JobID = s.activeJobID
	p.BatchID = s.activeBatchID
	p.PollAttempt = s.pollAttempt
	p.LastUpdateAt = s.lastUpdateAt
	p.PerFileStatus = fileStatuses(s.manifest, s.job)
	p.Banners = lo.Map(s.banners, func(b Banner, _ int) Banner {
		b.Items = append([]models.Item(nil), b.Items...)
		return b
	})
	if s.batch != nil {
		b := *s.batch
		p.Batch = &b
	}
	if s.job != nil && !s.job.Status.Terminal() {
		p.CurrentFile = s.job.CurrentFile
	}
	return p
}

// fileStatuses lists every known file once, in manifest order. A reported
// outcome overrides the in-flight marker, which overrides pending.
func fileStatuses(manifest []string, job *models.Job) []FileStatus {
	var order []string
	byName := make(map[string]FileStatus)

	add := func(fs FileStatus) {
		if _, seen := byName[fs.Filename]; !seen {
			order = append(order, fs.Filename)
		}
		byName[fs.Filename] = fs
	}

	names := manifest
	if job != nil && len(job.Manifest) > len(names) {
		names = job.Manifest
	}
	for _, name := range lo.Uniq(names) {
		add(FileStatus{Filename: name, State: FilePending})
	}

	if job != nil {
		if job.CurrentFile != "" && !job.Status.Terminal() {
			add(FileStatus{Filename: job.CurrentFile, State: FileInProgress})
		}
		for _, it := range job.SuccessfulItems {
			add(FileStatus{Filename: it.Filename, State: FileSucceeded, Message: it.Message})
		}
		for _, it := range job.FailedItems {
			add(FileStatus{Filename: it.Filename, State: FileFailed, Message: it.Message})
		}
	}

	return lo.Map(order, func(name string, _ int) FileStatus { return byName[name] })
}

func (e *Engine) publish() {
	if e.sess != nil {
		e.publishFor(e.sess.id)
	}
}

func (e *Engine) publishFor(sessionID string) {
	if e.bus == nil {
		return
	}
	p := e.project()
	if p.SessionID == "" {
		// Torn down
		p.SessionID = sessionID
		p.State = StateClosed
	}
	e.bus.PublishProjection(sessionID, p)
}
