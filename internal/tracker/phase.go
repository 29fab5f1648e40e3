package tracker

import (
	"math"

	"github.com/clinops/intake-tracker/internal/models"
)

// Phase is the step of a two-phase pipeline the session is tracking.
type Phase string

const (
	PhaseNone       Phase = "none"
	PhaseUpload     Phase = "upload"
	PhaseProcessing Phase = "processing"
)

// CombinedPercent maps the tracked job's percent onto one 0-100 scale.
//
// Single-phase sessions pass the percent through. In a two-phase session the
// upload phase covers [0, 100*w] and processing covers [100*w, 100].
func CombinedPercent(phase Phase, twoPhase bool, percent int, w float64) int {
	percent = clamp(percent)
	if !twoPhase {
		return percent
	}
	switch phase {
	case PhaseUpload:
		return floorPercent(float64(percent) * w)
	case PhaseProcessing:
		return floorPercent(100*w + float64(percent)*(1-w))
	}
	return 0
}

// floorPercent floors v, tolerating float error just below a whole number.
func floorPercent(v float64) int {
	return clamp(int(math.Floor(v + 1e-9)))
}

// uploadFinished reports the signal that moves a two-phase session on to processing.
// upload_complete counts here even though it never counts as job completion.
// A failed upload never finishes, whatever its percent.
func uploadFinished(job *models.Job) bool {
	if job == nil || job.Status == models.StatusFailed {
		return false
	}
	return job.Status == models.StatusCompleted ||
		job.Status == models.StatusUploadComplete ||
		job.Percent >= 100
}

// advancePhase switches an upload-phase session to the processing job once the
// upload job has finished. It returns true when the switch happened.
func (e *Engine) advancePhase(s *session) bool {
	if !s.twoPhase || s.phase != PhaseUpload || s.processingJobID == "" {
		return false
	}
	if !uploadFinished(s.job) {
		return false
	}

	e.logger.Info().
		Str("session", s.id).
		Str("upload_job", s.uploadJobID).
		Str("processing_job", s.processingJobID).
		Msg("Upload finished, tracking processing job")

	if s.jobUnsub != nil {
		s.jobUnsub()
	}
	s.activeJobID = s.processingJobID
	s.jobUnsub = e.subscribe(s, s.activeJobID)

	// Upload items do not describe processing outcomes; only the manifest carries over
	s.job = nil
	s.phase = PhaseProcessing
	s.combined = CombinedPercent(PhaseProcessing, true, 0, e.opts.UploadWeight)
	e.setState(s, StateProcessing, "upload finished")
	return true
}

func clamp(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
