// Package dispatch sends an accepted batch to the extraction service and
// decides, from the reply, what kind of tracking to start.
package dispatch

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/clinops/intake-tracker/internal/events"
	"github.com/clinops/intake-tracker/internal/models"
	"github.com/clinops/intake-tracker/internal/tracker"
)

// Kind is the branch a submission response falls into.
type Kind string

const (
	OutcomeTotalRejection   Kind = "total_rejection"
	OutcomePartialRejection Kind = "partial_rejection"
	OutcomeTwoPhase         Kind = "two_phase"
	OutcomeSinglePhase      Kind = "single_phase"
	OutcomeHardFailure      Kind = "hard_failure"
)

// Outcome is the classified response.
type Outcome struct {
	Kind Kind
	// Banner is nil for a clean single or two-phase submission.
	Banner *tracker.Banner
	// Start is nil when no tracking session must be created.
	Start *tracker.StartRequest
}

// Tracks reports whether the outcome starts a tracking session.
func (o Outcome) Tracks() bool { return o.Start != nil }

// Classify maps a submission response onto exactly one outcome. The branches
// are checked in order, so the same response shape always yields the same
// outcome. submitted lists the uploaded filenames and seeds the manifest when
// the service does not send one.
func Classify(resp models.SubmissionResponse, submitted []string) Outcome {
	ignored := resp.IgnoredTotal()

	switch {
	case ignored > 0 && !resp.HasJob() && resp.PayloadCount == 0:
		return Outcome{
			Kind: OutcomeTotalRejection,
			Banner: &tracker.Banner{
				Level:   events.BannerError,
				Message: withReason(fmt.Sprintf("All %s skipped.", filesWere(ignored)), resp.Message),
				Items:   resp.Ignored,
			},
		}

	case ignored > 0 && resp.HasJob():
		return Outcome{
			Kind: OutcomePartialRejection,
			Banner: &tracker.Banner{
				Level:   events.BannerWarning,
				Message: withReason(fmt.Sprintf("%s skipped.", filesWere(ignored)), resp.Message),
				Items:   resp.Ignored,
			},
			Start: startRequest(resp, submitted),
		}

	case resp.UploadJobID != "" && resp.ProcessingJobID != "":
		return Outcome{Kind: OutcomeTwoPhase, Start: startRequest(resp, submitted)}

	case resp.HasJob():
		return Outcome{Kind: OutcomeSinglePhase, Start: startRequest(resp, submitted)}
	}

	return Outcome{
		Kind: OutcomeHardFailure,
		Banner: &tracker.Banner{
			Level:   events.BannerError,
			Message: withReason("No files were processed.", resp.Message),
			Items:   resp.Ignored,
		},
	}
}

// startRequest builds the tracking request. Both phase ids make a two-phase
// session; otherwise the single job id, or a lone phase id, is tracked.
func startRequest(resp models.SubmissionResponse, submitted []string) *tracker.StartRequest {
	req := &tracker.StartRequest{BatchID: resp.BatchID}
	if resp.UploadJobID != "" && resp.ProcessingJobID != "" {
		req.UploadJobID = resp.UploadJobID
		req.ProcessingJobID = resp.ProcessingJobID
	} else {
		req.JobID = lo.CoalesceOrEmpty(resp.JobID, resp.ProcessingJobID, resp.UploadJobID)
	}

	if len(resp.Manifest) > 0 {
		req.Manifest = append([]string(nil), resp.Manifest...)
	} else {
		skipped := lo.Map(resp.Ignored, func(it models.Item, _ int) string { return it.Filename })
		req.Manifest = lo.Without(submitted, skipped...)
	}
	return req
}

func filesWere(n int) string {
	if n == 1 {
		return "1 file was"
	}
	return fmt.Sprintf("%d files were", n)
}

func withReason(msg, reason string) string {
	if reason == "" {
		return msg
	}
	return msg + " " + reason
}
