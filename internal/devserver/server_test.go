package devserver

import (
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinops/intake-tracker/internal/api"
	"github.com/clinops/intake-tracker/internal/channel"
	"github.com/clinops/intake-tracker/internal/config"
	"github.com/clinops/intake-tracker/internal/dispatch"
	"github.com/clinops/intake-tracker/internal/events"
	"github.com/clinops/intake-tracker/internal/logging"
	"github.com/clinops/intake-tracker/internal/models"
	"github.com/clinops/intake-tracker/internal/tracker"
	"github.com/clinops/intake-tracker/internal/validation"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

type testEnv struct {
	server *Server
	http   *httptest.Server
	client *api.Client
	cfg    *config.Config
	dir    string
}

func newEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	if opts.StepInterval == 0 {
		opts.StepInterval = 10 * time.Millisecond
	}
	s := New(opts, logging.NewNopLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})

	cfg := config.Default()
	cfg.APIBaseURL = srv.URL
	cfg.APIKey = opts.APIKey

	client, err := api.NewClient(cfg, logging.NewNopLogger())
	require.NoError(t, err)

	return &testEnv{server: s, http: srv, client: client, cfg: cfg, dir: t.TempDir()}
}

func (e *testEnv) file(t *testing.T, name, content string) models.FileRef {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return models.FileRef{Name: name, Path: path, Size: int64(len(content))}
}

func (e *testEnv) waitJob(t *testing.T, id string, want models.JobStatus) *models.Job {
	t.Helper()
	var job *models.Job
	require.Eventually(t, func() bool {
		snap, err := e.client.FetchJobSnapshot(context.Background(), id)
		if err != nil {
			return false
		}
		job = snap.Job
		return job.Status == want
	}, waitFor, tick)
	return job
}

func TestServer_SinglePhaseLifecycle(t *testing.T) {
	env := newEnv(t, Options{})
	files := []models.FileRef{
		env.file(t, "intake.pdf", "%PDF-1.4 one"),
		env.file(t, "labs-fail.pdf", "%PDF-1.4 two"),
		env.file(t, "referral.pdf", "%PDF-1.4 three"),
	}

	resp, err := env.client.SubmitBatch(context.Background(), files, models.SubmissionMeta{PatientID: "p-1"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.JobID)
	assert.Empty(t, resp.UploadJobID)
	assert.Equal(t, 3, resp.PayloadCount)
	assert.Equal(t, []string{"intake.pdf", "labs-fail.pdf", "referral.pdf"}, resp.Manifest)

	job := env.waitJob(t, resp.JobID, models.StatusCompleted)
	assert.Equal(t, 100, job.Percent)
	assert.Equal(t, 3, job.CompletedSteps)
	assert.Len(t, job.SuccessfulItems, 2)
	require.Len(t, job.FailedItems, 1)
	assert.Equal(t, "labs-fail.pdf", job.FailedItems[0].Filename)

	snap, err := env.client.FetchBatchSnapshot(context.Background(), resp.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, snap.Batch.Status)
	assert.Equal(t, 1, snap.Batch.CompletedJobs)
}

func TestServer_AllFilesFailing(t *testing.T) {
	env := newEnv(t, Options{})
	resp, err := env.client.SubmitBatch(context.Background(),
		[]models.FileRef{env.file(t, "fail.pdf", "%PDF-1.4 x")}, models.SubmissionMeta{})
	require.NoError(t, err)

	job := env.waitJob(t, resp.JobID, models.StatusFailed)
	assert.Len(t, job.FailedItems, 1)
}

func TestServer_TwoPhase(t *testing.T) {
	env := newEnv(t, Options{TwoPhase: true})
	resp, err := env.client.SubmitBatch(context.Background(),
		[]models.FileRef{env.file(t, "a.pdf", "a"), env.file(t, "b.pdf", "b")}, models.SubmissionMeta{})
	require.NoError(t, err)

	require.NotEmpty(t, resp.UploadJobID)
	require.NotEmpty(t, resp.ProcessingJobID)
	assert.Empty(t, resp.JobID)

	up := env.waitJob(t, resp.UploadJobID, models.StatusUploadComplete)
	assert.Equal(t, 100, up.Percent)
	env.waitJob(t, resp.ProcessingJobID, models.StatusCompleted)
}

func TestServer_DuplicatesIgnored(t *testing.T) {
	env := newEnv(t, Options{})
	a := env.file(t, "a.pdf", "same bytes")

	_, err := env.client.SubmitBatch(context.Background(), []models.FileRef{a}, models.SubmissionMeta{})
	require.NoError(t, err)

	again := env.file(t, "a-copy.pdf", "same bytes")
	fresh := env.file(t, "c.pdf", "other bytes")
	resp, err := env.client.SubmitBatch(context.Background(), []models.FileRef{again, fresh}, models.SubmissionMeta{})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.PayloadCount)
	require.Len(t, resp.Ignored, 1)
	assert.Equal(t, "a-copy.pdf", resp.Ignored[0].Filename)
	assert.Equal(t, ReasonDuplicate, resp.Ignored[0].Message)
	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, []string{"c.pdf"}, resp.Manifest)

	out := dispatch.Classify(*resp, []string{"a-copy.pdf", "c.pdf"})
	assert.Equal(t, dispatch.OutcomePartialRejection, out.Kind)
}

func TestServer_QuotaRejectsEverything(t *testing.T) {
	env := newEnv(t, Options{Quota: 1})
	_, err := env.client.SubmitBatch(context.Background(), []models.FileRef{env.file(t, "a.pdf", "a")}, models.SubmissionMeta{})
	require.NoError(t, err)

	resp, err := env.client.SubmitBatch(context.Background(),
		[]models.FileRef{env.file(t, "b.pdf", "b"), env.file(t, "c.pdf", "c")}, models.SubmissionMeta{})
	require.NoError(t, err, "a business rejection is a parsed reply, not an error")

	assert.False(t, resp.HasJob())
	assert.Equal(t, 0, resp.PayloadCount)
	assert.Equal(t, 2, resp.IgnoredTotal())
	assert.Contains(t, resp.Message, "Upgrade your plan")

	out := dispatch.Classify(*resp, []string{"b.pdf", "c.pdf"})
	assert.Equal(t, dispatch.OutcomeTotalRejection, out.Kind)
	assert.False(t, out.Tracks())
}

func TestServer_UnknownJob(t *testing.T) {
	env := newEnv(t, Options{})
	_, err := env.client.FetchJobSnapshot(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))
}

func TestServer_RequiresKey(t *testing.T) {
	env := newEnv(t, Options{APIKey: "secret"})

	res, err := nethttp.Get(env.http.URL + "/api/jobs/x")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, nethttp.StatusUnauthorized, res.StatusCode)

	// The configured client sends the key.
	_, err = env.client.FetchJobSnapshot(context.Background(), "x")
	assert.True(t, api.IsNotFound(err))
}

func TestServer_Health(t *testing.T) {
	env := newEnv(t, Options{APIKey: "secret"})

	res, err := nethttp.Get(env.http.URL + "/api/health")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, nethttp.StatusOK, res.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_EmptyUpload(t *testing.T) {
	env := newEnv(t, Options{})
	_, err := env.client.SubmitBatch(context.Background(), nil, models.SubmissionMeta{})

	var se *api.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, nethttp.StatusBadRequest, se.StatusCode)
}

func TestStore_Admit(t *testing.T) {
	s := NewStore(2)
	accepted, ignored := s.Admit([]upload{
		{Name: "a.pdf", Digest: "1"},
		{Name: "a-again.pdf", Digest: "1"},
		{Name: "b.pdf", Digest: "2"},
		{Name: "c.pdf", Digest: "3"},
	})

	assert.Equal(t, []upload{{Name: "a.pdf", Digest: "1"}, {Name: "b.pdf", Digest: "2"}}, accepted)
	assert.Equal(t, []models.Item{
		{Filename: "a-again.pdf", Message: ReasonDuplicate},
		{Filename: "c.pdf", Message: ReasonQuota},
	}, ignored)
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore(0)
	s.PutJob(&models.Job{ID: "j", Status: models.StatusPending})

	job, ok := s.Job("j")
	require.True(t, ok)
	job.Status = models.StatusFailed

	again, _ := s.Job("j")
	assert.Equal(t, models.StatusPending, again.Status)

	_, err := s.UpdateJob("nope", func(*models.Job) {})
	assert.Error(t, err)
}

func TestServer_PushOverWebSocket(t *testing.T) {
	env := newEnv(t, Options{StepInterval: 20 * time.Millisecond})

	ch, err := channel.NewWebSocketChannel(env.http.URL, "", logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, ch.Connect(context.Background()))
	t.Cleanup(func() { _ = ch.Disconnect() })

	resp, err := env.client.SubmitBatch(context.Background(),
		[]models.FileRef{env.file(t, "a.pdf", "a"), env.file(t, "b.pdf", "b")}, models.SubmissionMeta{})
	require.NoError(t, err)

	updates, cancel := ch.Subscribe(resp.JobID)
	defer cancel()

	deadline := time.After(waitFor)
	for {
		select {
		case snap, ok := <-updates:
			require.True(t, ok)
			require.Equal(t, resp.JobID, snap.ID)
			assert.Equal(t, models.SourcePush, snap.Source)
			if snap.Job.Status == models.StatusCompleted {
				assert.Equal(t, 100, snap.Job.Percent)
				return
			}
		case <-deadline:
			t.Fatal("no completed update over the websocket")
		}
	}
}

func TestServer_BusPublisher(t *testing.T) {
	bus := events.NewEventBus(256)
	defer bus.Close()
	snaps := bus.Subscribe(events.EventSnapshot)

	env := newEnv(t, Options{Publishers: []Publisher{BusPublisher{Bus: bus}}})
	resp, err := env.client.SubmitBatch(context.Background(),
		[]models.FileRef{env.file(t, "a.pdf", "a")}, models.SubmissionMeta{})
	require.NoError(t, err)

	deadline := time.After(waitFor)
	seenBatch := false
	for {
		select {
		case ev := <-snaps:
			se, ok := ev.(*events.SnapshotEvent)
			require.True(t, ok)
			if se.Snapshot.Kind == models.KindBatch && se.Snapshot.ID == resp.BatchID {
				seenBatch = true
			}
			if se.Snapshot.ID == resp.JobID && se.Snapshot.Job.Status == models.StatusCompleted {
				assert.True(t, seenBatch, "batch progress is published alongside the job")
				return
			}
		case <-deadline:
			t.Fatal("no completed job on the bus")
		}
	}
}

// TestEndToEnd drives a submission through validation, upload, the push
// channel and the tracking engine until the completion callback fires.
func TestEndToEnd(t *testing.T) {
	for _, twoPhase := range []bool{false, true} {
		name := "single_phase"
		if twoPhase {
			name = "two_phase"
		}
		t.Run(name, func(t *testing.T) {
			env := newEnv(t, Options{TwoPhase: twoPhase})

			ch, err := channel.NewWebSocketChannel(env.http.URL, "", logging.NewNopLogger())
			require.NoError(t, err)
			require.NoError(t, ch.Connect(context.Background()))

			bus := events.NewEventBus(1024)
			var completed atomic.Int32
			var summary atomic.Value
			engine := tracker.NewEngine(env.client, ch, bus, nil, logging.NewNopLogger(), tracker.Options{
				PollInterval:    50 * time.Millisecond,
				CompletionDelay: 100 * time.Millisecond,
				OnComplete: func(s tracker.Summary) {
					summary.Store(s)
					completed.Add(1)
				},
			})
			t.Cleanup(func() {
				engine.Shutdown()
				_ = ch.Disconnect()
				bus.Close()
			})

			d := dispatch.New(env.client, engine, bus, validation.LimitsFromConfig(env.cfg), logging.NewNopLogger())
			res, err := d.Submit(context.Background(), []models.FileRef{
				env.file(t, "a.pdf", "%PDF-1.4 a"),
				env.file(t, "b-fail.pdf", "%PDF-1.4 b"),
				env.file(t, "notes.exe", "MZ"),
			}, models.SubmissionMeta{PatientID: "p-9"})
			require.NoError(t, err)
			require.NotEmpty(t, res.SessionID)
			assert.Len(t, res.Validation.Rejected, 1, "the .exe never leaves the machine")

			require.Eventually(t, func() bool { return completed.Load() == 1 }, waitFor, tick)
			sum := summary.Load().(tracker.Summary)
			assert.Equal(t, res.SessionID, sum.SessionID)
			require.NotNil(t, sum.Job)
			assert.Len(t, sum.Job.FailedItems, 1)

			require.Eventually(t, func() bool {
				return engine.Projection().State == tracker.StateClosed || !engine.Projection().IsActive
			}, waitFor, tick)
			assert.Equal(t, int32(1), completed.Load())
		})
	}
}
