package tracker

import (
	"context"
	"time"

	"github.com/clinops/intake-tracker/internal/events"
	"github.com/clinops/intake-tracker/internal/models"
)

// State is the lifecycle position of a tracking session.
type State string

const (
	StateIdle       State = "idle"
	StateUpload     State = "upload"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateStalled    State = "stalled"
	StateClosed     State = "closed"
)

// StartRequest describes what a new session tracks. At least one of the ids is required.
type StartRequest struct {
	// JobID is a single-phase job.
	JobID string
	// UploadJobID and ProcessingJobID together make a two-phase session.
	UploadJobID     string
	ProcessingJobID string
	BatchID         string

	// Manifest lists every submitted filename.
	Manifest []string
	// Banners raised before tracking started, e.g. server-ignored files.
	Banners []Banner

	// Resume marks a session re-attached after a restart. Cached presentation
	// flags are applied to it once it produces live data.
	Resume bool
}

func (r StartRequest) empty() bool {
	return r.JobID == "" && r.UploadJobID == "" && r.ProcessingJobID == "" && r.BatchID == ""
}

// Banner is a message shown above the progress widget.
type Banner struct {
	Level   events.BannerLevel `json:"level"`
	Message string             `json:"message"`
	Items   []models.Item      `json:"items,omitempty"`
}

// Summary is handed to OnComplete and OnFailed.
type Summary struct {
	SessionID string
	JobID     string
	BatchID   string
	Job       *models.Job
	Batch     *models.Batch
	Duration  time.Duration
}

// session is the tracking session. Only the engine loop touches it.
type session struct {
	id  string
	gen uint64

	ctx    context.Context
	cancel context.CancelFunc

	twoPhase        bool
	uploadJobID     string
	processingJobID string
	activeJobID     string
	activeBatchID   string
	phase           Phase
	state           State
	resume          bool

	job      *models.Job
	batch    *models.Batch
	manifest []string
	banners  []Banner

	// combined is the displayed percent, never lower than before within a phase
	combined     int
	pollAttempt  int
	lastUpdateAt time.Time
	startedAt    time.Time

	polling  bool
	inFlight bool
	ticker   *time.Ticker

	completed     bool
	failed        bool
	stalled       bool
	callbackFired bool

	completionTimer *time.Timer
	stallTimer      *time.Timer

	jobUnsub   func()
	batchUnsub func()
}

// primaryStatus returns status and percent of the record that decides completion:
// the tracked job, or the batch when no job is tracked.
func (s *session) primaryStatus() (models.JobStatus, int, bool) {
	if s.activeJobID != "" {
		if s.job == nil {
			return "", 0, false
		}
		return s.job.Status, s.job.Percent, true
	}
	if s.batch == nil {
		return "", 0, false
	}
	return s.batch.Status, s.batch.OverallPercent, true
}

func (s *session) hasData() bool {
	return s.job != nil || s.batch != nil
}

func (s *session) summary() Summary {
	sum := Summary{
		SessionID: s.id,
		JobID:     s.activeJobID,
		BatchID:   s.activeBatchID,
		Job:       s.job.Clone(),
		Duration:  time.Since(s.startedAt),
	}
	if s.batch != nil {
		b := *s.batch
		sum.Batch = &b
	}
	return sum
}

func (s *session) stopPolling() {
	s.polling = false
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *session) stopTimers() {
	if s.completionTimer != nil {
		s.completionTimer.Stop()
		s.completionTimer = nil
	}
	if s.stallTimer != nil {
		s.stallTimer.Stop()
		s.stallTimer = nil
	}
}
