// Package api is the client for the document extraction service: batch upload
// and the job/batch progress endpoints used by the polling fallback.
package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/clinops/intake-tracker/internal/config"
	"github.com/clinops/intake-tracker/internal/constants"
	"github.com/clinops/intake-tracker/internal/http"
	"github.com/clinops/intake-tracker/internal/logging"
	"github.com/clinops/intake-tracker/internal/models"
	"github.com/clinops/intake-tracker/internal/ratelimit"
	"github.com/clinops/intake-tracker/internal/util/buffers"
)

const (
	uploadPath  = "/api/documents/upload"
	jobPath     = "/api/jobs/"
	batchPath   = "/api/batches/"
	maxBodySize = 4 << 20
)

// Client represents the extraction service API client
type Client struct {
	baseURL string
	apiKey  string

	// uploadClient streams multipart bodies and is never retried: a resent
	// upload would be reported back as duplicates.
	uploadClient *nethttp.Client
	// fetchClient retries transient failures a bounded number of times.
	fetchClient *retryablehttp.Client

	submitLimiter *ratelimit.RateLimiter
	pollLimiter   *ratelimit.RateLimiter
	logger        *logging.Logger
}

// NewClient creates a new API client
func NewClient(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, ErrEmptyBaseURL
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.Named("api")

	httpClient, err := http.NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	uploadClient := *httpClient
	uploadClient.Timeout = 0 // Large batches; bounded by the caller's context

	fetchHTTP := *httpClient
	fetchHTTP.Timeout = constants.HTTPClientTimeout

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &fetchHTTP
	retryClient.RetryMax = constants.PollRetryMax
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 1 * time.Second
	retryClient.Logger = logging.RetryLogger{L: logger}
	// Hand the final response back instead of a generic "giving up" error so
	// the status code survives into StatusError.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:       strings.TrimSuffix(cfg.APIBaseURL, "/"),
		apiKey:        cfg.APIKey,
		uploadClient:  &uploadClient,
		fetchClient:   retryClient,
		submitLimiter: ratelimit.NewSubmitLimiter(logger),
		pollLimiter:   ratelimit.NewPollLimiter(logger),
		logger:        logger,
	}, nil
}

func (c *Client) authorize(h nethttp.Header) {
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
	h.Set("Accept", "application/json")
}

type submitOptions struct {
	progress io.Writer
}

// SubmitOption configures SubmitBatch.
type SubmitOption func(*submitOptions)

// WithUploadProgress mirrors every file byte sent into w (typically a byte progress bar).
func WithUploadProgress(w io.Writer) SubmitOption {
	return func(o *submitOptions) { o.progress = w }
}

// SubmitBatch uploads the accepted files as one multipart request and returns
// the normalized reply. Each file goes out as a "files[]" part; metadata fields
// are sent as plain form values.
func (c *Client) SubmitBatch(ctx context.Context, files []models.FileRef, meta models.SubmissionMeta, opts ...SubmitOption) (*models.SubmissionResponse, error) {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := c.submitLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("submit rate limiter cancelled: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeMultipart(mw, files, meta, o.progress)
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, c.baseURL+uploadPath, pr)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req.Header)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.uploadClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		c.logger.Error().Err(err).Int("files", len(files)).Msg("Upload request failed")
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload response: %w", err)
	}

	// Business-rule rejections (quota, duplicates) come back as 4xx with the
	// normal body, so a parseable body wins over the status code.
	if resp.StatusCode >= 300 {
		parsed, perr := ParseSubmissionResponse(body)
		if perr != nil || (parsed.IgnoredTotal() == 0 && !parsed.HasJob()) {
			return nil, &StatusError{Op: "submit batch", StatusCode: resp.StatusCode, Body: string(body)}
		}
		return parsed, nil
	}

	parsed, err := ParseSubmissionResponse(body)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Int("files", len(files)).
		Int("payload", parsed.PayloadCount).
		Int("ignored", parsed.IgnoredTotal()).
		Dur("elapsed", time.Since(start)).
		Msg("Batch submitted")

	return parsed, nil
}

func writeMultipart(mw *multipart.Writer, files []models.FileRef, meta models.SubmissionMeta, progress io.Writer) error {
	for key, value := range meta.Fields() {
		if err := mw.WriteField(key, value); err != nil {
			return err
		}
	}

	for _, ref := range files {
		if err := writeFilePart(mw, ref, progress); err != nil {
			return err
		}
	}
	return nil
}

func writeFilePart(mw *multipart.Writer, ref models.FileRef, progress io.Writer) error {
	f, err := os.Open(ref.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", ref.Name, err)
	}
	defer f.Close()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[]"; filename="%s"`, escapeQuotes(ref.Name)))
	contentType := ref.DetectedMIME
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	var src io.Reader = f
	if progress != nil {
		src = io.TeeReader(f, progress)
	}
	buf := buffers.GetCopyBuffer()
	defer buffers.PutCopyBuffer(buf)
	if _, err := io.CopyBuffer(part, src, *buf); err != nil {
		return fmt.Errorf("failed to stream %s: %w", ref.Name, err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// FetchJobSnapshot reads the current progress of one job.
func (c *Client) FetchJobSnapshot(ctx context.Context, jobID string) (models.Snapshot, error) {
	body, err := c.get(ctx, "fetch job", jobPath+url.PathEscape(jobID))
	if err != nil {
		return models.Snapshot{}, err
	}
	job, err := ParseJob(body)
	if err != nil {
		return models.Snapshot{}, err
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return models.NewJobSnapshot(job, models.SourcePull), nil
}

// FetchBatchSnapshot reads the aggregate progress of a batch.
func (c *Client) FetchBatchSnapshot(ctx context.Context, batchID string) (models.Snapshot, error) {
	body, err := c.get(ctx, "fetch batch", batchPath+url.PathEscape(batchID))
	if err != nil {
		return models.Snapshot{}, err
	}
	batch, err := ParseBatch(body)
	if err != nil {
		return models.Snapshot{}, err
	}
	if batch.ID == "" {
		batch.ID = batchID
	}
	return models.NewBatchSnapshot(batch, models.SourcePull), nil
}

func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	if err := c.pollLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("poll rate limiter cancelled: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req.Header)

	resp, err := c.fetchClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read body: %w", op, err)
	}

	if resp.StatusCode != nethttp.StatusOK {
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
