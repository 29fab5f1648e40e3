package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/clinops/intake-tracker/internal/api"
	"github.com/clinops/intake-tracker/internal/events"
	"github.com/clinops/intake-tracker/internal/logging"
	"github.com/clinops/intake-tracker/internal/models"
	"github.com/clinops/intake-tracker/internal/tracker"
	"github.com/clinops/intake-tracker/internal/validation"
)

var (
	// ErrRejected is returned when the service refused every file.
	ErrRejected = errors.New("submission rejected")
	// ErrNothingProcessed is returned for a response with no job and no ignored files.
	ErrNothingProcessed = errors.New("no files were processed")
)

// Submitter uploads a batch. *api.Client implements it.
type Submitter interface {
	SubmitBatch(ctx context.Context, files []models.FileRef, meta models.SubmissionMeta, opts ...api.SubmitOption) (*models.SubmissionResponse, error)
}

// Starter begins tracking. *tracker.Engine implements it.
type Starter interface {
	Start(ctx context.Context, req tracker.StartRequest) (string, error)
}

// Dispatcher validates, uploads and hands the result to the tracker.
// Banners are published on the event bus as they are raised.
type Dispatcher struct {
	submitter Submitter
	starter   Starter
	bus       *events.EventBus
	limits    validation.Limits
	logger    *logging.Logger
}

// New creates a dispatcher. bus may be nil.
func New(submitter Submitter, starter Starter, bus *events.EventBus, limits validation.Limits, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Dispatcher{
		submitter: submitter,
		starter:   starter,
		bus:       bus,
		limits:    limits,
		logger:    logger.Named("dispatch"),
	}
}

// Result reports everything that happened to one submission.
type Result struct {
	Validation validation.Result
	Response   *models.SubmissionResponse
	Outcome    Outcome
	// SessionID is set when tracking started.
	SessionID string
}

// Submit validates files, uploads the accepted ones and starts tracking when
// the response calls for it. Nothing is sent when validation accepts no file.
func (d *Dispatcher) Submit(ctx context.Context, files []models.FileRef, meta models.SubmissionMeta, opts ...api.SubmitOption) (Result, error) {
	var res Result

	res.Validation = validation.ValidateBatch(files, d.limits)
	res.Validation = validation.SniffAccepted(res.Validation, d.limits, nil)

	var banners []tracker.Banner
	if b := validationBanner(res.Validation); b != nil {
		d.publish(*b)
		banners = append(banners, *b)
	}
	if err := res.Validation.Err(); err != nil {
		d.logger.Warn().Int("rejected", len(res.Validation.Rejected)).Msg("Nothing to submit")
		return res, err
	}

	accepted := res.Validation.Accepted
	d.logger.Info().Int("files", len(accepted)).Msg("Submitting batch")

	resp, err := d.submitter.SubmitBatch(ctx, accepted, meta, opts...)
	if err != nil {
		d.publish(tracker.Banner{Level: events.BannerError, Message: "Upload failed: " + err.Error()})
		return res, fmt.Errorf("failed to submit batch: %w", err)
	}
	res.Response = resp

	names := lo.Map(accepted, func(f models.FileRef, _ int) string { return f.Name })
	res.Outcome = Classify(*resp, names)

	d.logger.Info().
		Str("outcome", string(res.Outcome.Kind)).
		Str("job", resp.JobID).
		Str("upload_job", resp.UploadJobID).
		Str("processing_job", resp.ProcessingJobID).
		Int("payload", resp.PayloadCount).
		Int("ignored", resp.IgnoredTotal()).
		Msg("Submission classified")

	if b := res.Outcome.Banner; b != nil {
		d.publish(*b)
		banners = append(banners, *b)
	}

	switch res.Outcome.Kind {
	case OutcomeTotalRejection:
		return res, fmt.Errorf("%w: %s", ErrRejected, res.Outcome.Banner.Message)
	case OutcomeHardFailure:
		return res, ErrNothingProcessed
	}

	req := *res.Outcome.Start
	req.Banners = banners
	id, err := d.starter.Start(ctx, req)
	if err != nil {
		return res, fmt.Errorf("failed to start tracking: %w", err)
	}
	res.SessionID = id
	return res, nil
}

func (d *Dispatcher) publish(b tracker.Banner) {
	if d.bus != nil {
		d.bus.PublishBanner(b.Level, b.Message, b.Items)
	}
}

// validationBanner summarises files refused before upload. It is an error when
// nothing is left to send, a warning otherwise.
func validationBanner(res validation.Result) *tracker.Banner {
	if len(res.Rejected) == 0 {
		return nil
	}
	items := lo.Map(res.Rejected, func(r validation.Rejection, _ int) models.Item {
		return models.Item{Filename: r.Filename, Message: r.Reason}
	})

	if len(res.Accepted) == 0 {
		msg := res.Summary
		if msg == "" {
			msg = fmt.Sprintf("None of the %d selected file(s) can be submitted.", len(res.Rejected))
		}
		return &tracker.Banner{Level: events.BannerError, Message: msg, Items: items}
	}
	return &tracker.Banner{
		Level:   events.BannerWarning,
		Message: fmt.Sprintf("%s not submitted.", filesWere(len(res.Rejected))),
		Items:   items,
	}
}
