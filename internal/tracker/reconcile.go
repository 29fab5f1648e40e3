package tracker

import (
	"time"

	"github.com/clinops/intake-tracker/internal/models"
	"github.com/clinops/intake-tracker/internal/presentation"
)

// reconcile merges one snapshot into the session. It returns false when the
// snapshot was discarded because it is not for an id the session tracks.
func (e *Engine) reconcile(s *session, snap models.Snapshot) bool {
	switch {
	case snap.Kind == models.KindJob && snap.Job != nil && snap.ID == s.activeJobID:
		s.job = mergeJob(s.job, snap.Job)
	case snap.Kind == models.KindBatch && snap.Batch != nil && snap.ID == s.activeBatchID:
		s.batch = mergeBatch(s.batch, snap.Batch)
	default:
		e.logger.Debug().
			Str("session", s.id).
			Str("id", snap.ID).
			Str("source", string(snap.Source)).
			Msg("Discarding snapshot for untracked id")
		return false
	}

	s.lastUpdateAt = snap.ReceivedAt
	if s.lastUpdateAt.IsZero() {
		s.lastUpdateAt = time.Now()
	}

	// After a switch the processing record is empty until it reports,
	// leaving combined at the start of the processing range
	e.advancePhase(s)
	e.updateCombined(s)
	e.showData(s)
	return true
}

// updateCombined recomputes the displayed percent without letting it go down.
func (e *Engine) updateCombined(s *session) {
	if s.completed {
		s.combined = 100
		return
	}
	var percent int
	switch {
	case s.activeJobID != "" && s.job != nil:
		percent = s.job.Percent
	case s.activeJobID == "" && s.batch != nil:
		percent = s.batch.OverallPercent
	default:
		return
	}
	if next := CombinedPercent(s.phase, s.twoPhase, percent, e.opts.UploadWeight); next > s.combined {
		s.combined = next
	}
}

// showData makes the widget visible on the first snapshot of a session and,
// for a resumed session, applies the cached presentation flags.
func (e *Engine) showData(s *session) {
	if !e.machine.DataArrived() {
		return
	}
	if s.resume {
		if _, err := presentation.Restore(e.prefs, e.machine, true); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to restore widget preferences")
		}
	}
	e.savePrefs()
}

// mergeJob folds an incoming job observation into the current record.
//
// Status is last-arrival-wins until the record is terminal, after which it
// never changes. Percent and step counters never go down. An item list is only
// replaced by one at least as long, so a late, shorter response cannot hide
// outcomes already shown.
func mergeJob(cur, in *models.Job) *models.Job {
	if cur == nil {
		out := in.Clone()
		out.Percent = clamp(out.Percent)
		return out
	}

	out := cur.Clone()
	if !cur.Status.Terminal() && in.Status.Valid() {
		out.Status = in.Status
		if in.CurrentFile != "" {
			out.CurrentFile = in.CurrentFile
		}
	}
	out.Percent = max(cur.Percent, clamp(in.Percent))
	out.TotalSteps = max(cur.TotalSteps, in.TotalSteps)
	out.CompletedSteps = max(cur.CompletedSteps, in.CompletedSteps)

	if len(in.SuccessfulItems) >= len(cur.SuccessfulItems) {
		out.SuccessfulItems = append([]models.Item(nil), in.SuccessfulItems...)
	}
	if len(in.FailedItems) >= len(cur.FailedItems) {
		out.FailedItems = append([]models.Item(nil), in.FailedItems...)
	}
	if len(in.Manifest) > len(cur.Manifest) {
		out.Manifest = append([]string(nil), in.Manifest...)
	}
	return out
}

// mergeBatch applies the same rules to batch aggregates.
func mergeBatch(cur, in *models.Batch) *models.Batch {
	if cur == nil {
		out := *in
		out.OverallPercent = clamp(out.OverallPercent)
		return &out
	}

	out := *cur
	if !cur.Status.Terminal() && in.Status.Valid() {
		out.Status = in.Status
	}
	out.OverallPercent = max(cur.OverallPercent, clamp(in.OverallPercent))
	out.TotalJobs = max(cur.TotalJobs, in.TotalJobs)
	out.CompletedJobs = max(cur.CompletedJobs, in.CompletedJobs)
	out.FailedJobs = max(cur.FailedJobs, in.FailedJobs)
	return &out
}
