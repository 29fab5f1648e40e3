package tracker

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/clinops/intake-tracker/internal/events"
	"github.com/clinops/intake-tracker/internal/models"
)

// IsComplete is the completion predicate. A phase boundary such as
// upload_complete never satisfies it.
func IsComplete(status models.JobStatus, percent int) bool {
	return status == models.StatusCompleted && percent == 100
}

// evaluate checks the primary record after a merge and moves the session to
// completed or failed. Each transition happens at most once per session.
func (e *Engine) evaluate(s *session) {
	if s.completed || s.failed {
		return
	}
	// A two-phase session still uploading cannot be done yet
	if s.twoPhase && s.phase == PhaseUpload {
		if status, _, ok := s.primaryStatus(); ok && status == models.StatusFailed {
			e.fail(s)
		}
		return
	}

	status, percent, ok := s.primaryStatus()
	if !ok {
		return
	}
	switch {
	case IsComplete(status, percent):
		e.complete(s)
	case status == models.StatusFailed:
		e.fail(s)
	}
}

// complete pins the display to 100 and arms the single auto-close timer.
// Polling stops here, so the next tick issues no request.
func (e *Engine) complete(s *session) {
	s.completed = true
	s.combined = 100
	s.stopPolling()
	if s.stallTimer != nil {
		s.stallTimer.Stop()
		s.stallTimer = nil
	}
	if s.completionTimer == nil {
		s.completionTimer = time.NewTimer(e.opts.CompletionDelay)
	}

	if s.job != nil && len(s.job.FailedItems) > 0 {
		e.addBanner(s, Banner{
			Level:   events.BannerWarning,
			Message: fmt.Sprintf("%d of %d file(s) could not be processed.", len(s.job.FailedItems), fileCount(s)),
			Items:   s.job.FailedItems,
		})
	}

	e.logger.Info().
		Str("session", s.id).
		Str("job", s.activeJobID).
		Dur("delay", e.opts.CompletionDelay).
		Msg("Processing complete")
	e.setState(s, StateCompleted, "completion detected")
}

// autoClose runs when the completion timer fires.
func (e *Engine) autoClose() {
	s := e.sess
	if s == nil {
		return
	}
	s.completionTimer = nil
	if !s.callbackFired {
		s.callbackFired = true
		e.fire(e.opts.OnComplete, s.summary())
	}
	e.teardown(StateClosed, "auto-closed after completion")
}

// fail stops polling and leaves the session visible so the user can read what
// went wrong.
func (e *Engine) fail(s *session) {
	s.failed = true
	s.stopPolling()
	if s.stallTimer != nil {
		s.stallTimer.Stop()
		s.stallTimer = nil
	}

	var items []models.Item
	if s.job != nil {
		items = s.job.FailedItems
	}
	e.addBanner(s, Banner{
		Level:   events.BannerError,
		Message: "Processing failed.",
		Items:   items,
	})

	e.logger.Error().Str("session", s.id).Str("job", s.activeJobID).Str("batch", s.activeBatchID).Msg("Processing failed")
	e.setState(s, StateFailed, "job failed")
	e.fire(e.opts.OnFailed, s.summary())
}

// markStalled runs when MaxTrackingDuration passes without a terminal state.
// Push updates still apply; only polling stops.
func (e *Engine) markStalled() {
	s := e.sess
	if s == nil {
		return
	}
	s.stallTimer = nil
	if s.completed || s.failed {
		return
	}
	s.stalled = true
	s.stopPolling()
	e.addBanner(s, Banner{
		Level:   events.BannerError,
		Message: fmt.Sprintf("Processing has not finished after %s and may be stalled.", e.opts.MaxTrackingDuration),
	})
	e.logger.Warn().
		Str("session", s.id).
		Dur("after", e.opts.MaxTrackingDuration).
		Time("last_update", s.lastUpdateAt).
		Msg("Tracking stalled")
	e.setState(s, StateStalled, "max tracking duration exceeded")
	e.publish()
}

func fileCount(s *session) int {
	if s.job == nil {
		return len(s.manifest)
	}
	names := append(append([]string(nil), s.manifest...), s.job.Manifest...)
	names = append(names, lo.Map(s.job.SuccessfulItems, func(it models.Item, _ int) string { return it.Filename })...)
	names = append(names, lo.Map(s.job.FailedItems, func(it models.Item, _ int) string { return it.Filename })...)
	return max(len(lo.Uniq(names)), s.job.TotalSteps)
}
