package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/clinops/intake-tracker/internal/channel"
	"github.com/clinops/intake-tracker/internal/events"
	"github.com/clinops/intake-tracker/internal/logging"
	"github.com/clinops/intake-tracker/internal/models"
	"github.com/clinops/intake-tracker/internal/presentation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeFetcher serves whatever job or batch state the test last set.
type fakeFetcher struct {
	mu      sync.Mutex
	jobs    map[string]models.Job
	batches map[string]models.Batch
	// failures makes the next n fetches of any id fail
	failures int
	calls    map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		jobs:    make(map[string]models.Job),
		batches: make(map[string]models.Batch),
		calls:   make(map[string]int),
	}
}

func (f *fakeFetcher) setJob(j models.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.ID] = j
}

func (f *fakeFetcher) setBatch(b models.Batch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches[b.ID] = b
}

func (f *fakeFetcher) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func (f *fakeFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFetcher) FetchJobSnapshot(ctx context.Context, id string) (models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if f.failures > 0 {
		f.failures--
		return models.Snapshot{}, errors.New("connection reset")
	}
	j, ok := f.jobs[id]
	if !ok {
		return models.Snapshot{}, errors.New("job not found")
	}
	return models.NewJobSnapshot(j.Clone(), models.SourcePull), nil
}

func (f *fakeFetcher) FetchBatchSnapshot(ctx context.Context, id string) (models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if f.failures > 0 {
		f.failures--
		return models.Snapshot{}, errors.New("connection reset")
	}
	b, ok := f.batches[id]
	if !ok {
		return models.Snapshot{}, errors.New("batch not found")
	}
	return models.NewBatchSnapshot(&b, models.SourcePull), nil
}

type callbacks struct {
	completed atomic.Int32
	failed    atomic.Int32
	last      atomic.Pointer[Summary]
}

func (c *callbacks) wire(opts *Options) {
	opts.OnComplete = func(s Summary) {
		c.completed.Add(1)
		c.last.Store(&s)
	}
	opts.OnFailed = func(s Summary) {
		c.failed.Add(1)
		c.last.Store(&s)
	}
}

type harness struct {
	engine *Engine
	bus    *events.EventBus
	f      *fakeFetcher
	cb     *callbacks
}

func newHarness(t *testing.T, opts Options, prefs *presentation.PrefsStore) *harness {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	if opts.CompletionDelay == 0 {
		opts.CompletionDelay = 250 * time.Millisecond
	}

	h := &harness{
		bus: events.NewEventBus(1024),
		f:   newFakeFetcher(),
		cb:  &callbacks{},
	}
	h.cb.wire(&opts)

	ch := channel.NewBusChannel(h.bus, logging.NewNopLogger())
	require.NoError(t, ch.Connect(context.Background()))

	h.engine = NewEngine(h.f, ch, h.bus, prefs, logging.NewNopLogger(), opts)
	t.Cleanup(func() {
		h.engine.Shutdown()
		_ = ch.Disconnect()
		h.bus.Close()
	})
	return h
}

func (h *harness) start(t *testing.T, req StartRequest) string {
	t.Helper()
	id, err := h.engine.Start(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func (h *harness) push(job models.Job) {
	h.bus.PublishSnapshot(models.NewJobSnapshot(&job, models.SourcePush))
}

func (h *harness) waitState(t *testing.T, want State) Projection {
	t.Helper()
	var p Projection
	require.Eventually(t, func() bool {
		p = h.engine.Projection()
		return p.State == want
	}, waitFor, tick, "session never reached %s", want)
	return p
}

func (h *harness) waitClosed(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !h.engine.Projection().IsActive
	}, waitFor, tick, "session never closed")
}

// recordProjections collects every projection published on the bus.
func recordProjections(bus *events.EventBus) func() []Projection {
	ch := bus.Subscribe(events.EventProjection)
	var (
		mu  sync.Mutex
		got []Projection
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			pe, ok := ev.(*events.ProjectionEvent)
			if !ok {
				continue
			}
			if p, ok := pe.Projection.(Projection); ok {
				mu.Lock()
				got = append(got, p)
				mu.Unlock()
			}
		}
	}()
	return func() []Projection {
		bus.Unsubscribe(events.EventProjection, ch)
		<-done
		mu.Lock()
		defer mu.Unlock()
		return got
	}
}

func manifest(names ...string) []string { return names }

func TestEngine_SinglePhaseCompletes(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.f.setJob(models.Job{ID: "t1", Status: models.StatusProcessing, Percent: 40, TotalSteps: 3, CompletedSteps: 1})

	before := h.engine.Projection()
	assert.False(t, before.IsActive)
	assert.Equal(t, presentation.Hidden, before.Visibility)

	h.start(t, StartRequest{JobID: "t1", Manifest: manifest("a.pdf", "b.pdf", "c.pdf")})

	require.Eventually(t, func() bool {
		return h.engine.Projection().DisplayedPercent == 40
	}, waitFor, tick)
	p := h.engine.Projection()
	assert.True(t, p.IsActive)
	assert.False(t, p.Starting)
	assert.Equal(t, presentation.Minimized, p.Visibility, "new session opens minimized")
	assert.Equal(t, PhaseProcessing, p.Phase)
	assert.Len(t, p.PerFileStatus, 3)

	h.f.setJob(models.Job{
		ID: "t1", Status: models.StatusCompleted, Percent: 100, TotalSteps: 3, CompletedSteps: 3,
		SuccessfulItems: []models.Item{{Filename: "a.pdf"}, {Filename: "b.pdf"}, {Filename: "c.pdf"}},
	})

	p = h.waitState(t, StateCompleted)
	assert.Equal(t, 100, p.DisplayedPercent)
	assert.False(t, p.Polling)
	assert.True(t, p.IsActive, "widget stays up until the completion delay passes")

	h.waitClosed(t)
	assert.Equal(t, presentation.Hidden, h.engine.Projection().Visibility)
	require.Eventually(t, func() bool { return h.cb.completed.Load() == 1 }, waitFor, tick)

	sum := h.cb.last.Load()
	require.NotNil(t, sum)
	assert.Equal(t, "t1", sum.JobID)
	assert.Len(t, sum.Job.SuccessfulItems, 3)
}

func TestEngine_NoPollAfterCompletion(t *testing.T) {
	h := newHarness(t, Options{CompletionDelay: time.Second}, nil)
	h.f.setJob(models.Job{ID: "t1", Status: models.StatusCompleted, Percent: 100})

	h.start(t, StartRequest{JobID: "t1"})
	h.waitState(t, StateCompleted)

	calls := h.f.callCount("t1")
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, calls, h.f.callCount("t1"), "polls issued after completion")

	require.NoError(t, h.engine.Close())
}

func TestEngine_CallbackFiresOnce(t *testing.T) {
	h := newHarness(t, Options{PollInterval: time.Hour}, nil)

	h.start(t, StartRequest{JobID: "t1"})
	done := models.Job{ID: "t1", Status: models.StatusCompleted, Percent: 100}
	for range 5 {
		h.push(done)
	}
	h.waitState(t, StateCompleted)
	h.push(done)

	h.waitClosed(t)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), h.cb.completed.Load())
}

func TestEngine_UploadCompleteIsNotCompletion(t *testing.T) {
	h := newHarness(t, Options{PollInterval: time.Hour}, nil)
	h.start(t, StartRequest{JobID: "t1"})

	h.push(models.Job{ID: "t1", Status: models.StatusUploadComplete, Percent: 100})
	require.Eventually(t, func() bool {
		return h.engine.Projection().DisplayedPercent == 100
	}, waitFor, tick)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateProcessing, h.engine.Projection().State)
	assert.Zero(t, h.cb.completed.Load())
}

func TestEngine_TwoPhase(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	record := recordProjections(h.bus)

	h.f.setJob(models.Job{ID: "u1", Status: models.StatusProcessing, Percent: 60})
	h.f.setJob(models.Job{ID: "p1", Status: models.StatusPending})

	h.start(t, StartRequest{UploadJobID: "u1", ProcessingJobID: "p1", Manifest: manifest("1.pdf", "2.pdf", "3.pdf", "4.pdf")})

	require.Eventually(t, func() bool {
		return h.engine.Projection().DisplayedPercent == 30
	}, waitFor, tick)
	p := h.engine.Projection()
	assert.Equal(t, PhaseUpload, p.Phase)
	assert.Equal(t, "u1", p.JobID)

	// A processing update during upload belongs to the next phase
	h.push(models.Job{ID: "p1", Status: models.StatusProcessing, Percent: 90})

	h.f.setJob(models.Job{ID: "p1", Status: models.StatusProcessing, Percent: 20})
	h.f.setJob(models.Job{ID: "u1", Status: models.StatusCompleted, Percent: 100})

	require.Eventually(t, func() bool {
		p := h.engine.Projection()
		return p.Phase == PhaseProcessing && p.DisplayedPercent == 60
	}, waitFor, tick)
	assert.Equal(t, "p1", h.engine.Projection().JobID)

	h.f.setJob(models.Job{ID: "p1", Status: models.StatusCompleted, Percent: 100})
	h.waitClosed(t)
	require.Eventually(t, func() bool { return h.cb.completed.Load() == 1 }, waitFor, tick)

	last := map[Phase]int{}
	for _, p := range record() {
		switch p.Phase {
		case PhaseUpload:
			assert.Less(t, p.DisplayedPercent, 50)
		case PhaseProcessing:
			assert.GreaterOrEqual(t, p.DisplayedPercent, 50)
		default:
			continue
		}
		assert.GreaterOrEqual(t, p.DisplayedPercent, last[p.Phase], "percent went down within %s", p.Phase)
		last[p.Phase] = p.DisplayedPercent
	}
}

func TestEngine_FailedUploadDoesNotAdvance(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.f.setJob(models.Job{ID: "u1", Status: models.StatusFailed, Percent: 100})
	h.f.setJob(models.Job{ID: "p1", Status: models.StatusPending})

	h.start(t, StartRequest{UploadJobID: "u1", ProcessingJobID: "p1"})
	p := h.waitState(t, StateFailed)

	assert.Equal(t, PhaseUpload, p.Phase)
	assert.Equal(t, "u1", p.JobID)
	assert.Zero(t, h.f.callCount("p1"))
	require.Eventually(t, func() bool { return h.cb.failed.Load() == 1 }, waitFor, tick)
	assert.Zero(t, h.cb.completed.Load())
}

func TestEngine_ManualCloseSuppressesCallback(t *testing.T) {
	h := newHarness(t, Options{CompletionDelay: 300 * time.Millisecond}, nil)
	h.f.setJob(models.Job{ID: "t1", Status: models.StatusCompleted, Percent: 100})

	h.start(t, StartRequest{JobID: "t1"})
	h.waitState(t, StateCompleted)
	require.NoError(t, h.engine.Close())

	p := h.engine.Projection()
	assert.False(t, p.IsActive)
	assert.Equal(t, presentation.Hidden, p.Visibility)

	time.Sleep(450 * time.Millisecond)
	assert.Zero(t, h.cb.completed.Load())

	// Closing twice is harmless
	require.NoError(t, h.engine.Close())
}

func TestEngine_ManualCloseCompletesWhenConfigured(t *testing.T) {
	h := newHarness(t, Options{CompletionDelay: 300 * time.Millisecond, CompleteOnManualClose: true}, nil)
	h.f.setJob(models.Job{ID: "t1", Status: models.StatusCompleted, Percent: 100})

	h.start(t, StartRequest{JobID: "t1"})
	h.waitState(t, StateCompleted)
	require.NoError(t, h.engine.Close())

	require.Eventually(t, func() bool { return h.cb.completed.Load() == 1 }, waitFor, tick)
	time.Sleep(450 * time.Millisecond)
	assert.Equal(t, int32(1), h.cb.completed.Load())
}

func TestEngine_ManualCloseBeforeCompletion(t *testing.T) {
	h := newHarness(t, Options{CompleteOnManualClose: true}, nil)
	h.f.setJob(models.Job{ID: "t1", Status: models.StatusProcessing, Percent: 10})

	h.start(t, StartRequest{JobID: "t1"})
	require.NoError(t, h.engine.Close())

	h.f.setJob(models.Job{ID: "t1", Status: models.StatusCompleted, Percent: 100})
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, h.cb.completed.Load(), "no completion was detected before close")
	assert.ErrorIs(t, h.engine.Refresh(context.Background()), ErrNoSession)
}

func TestEngine_StalePullAfterTerminalPush(t *testing.T) {
	h := newHarness(t, Options{CompletionDelay: time.Second}, nil)
	h.f.setJob(models.Job{ID: "t1", Status: models.StatusProcessing, Percent: 40})

	h.start(t, StartRequest{JobID: "t1"})
	require.Eventually(t, func() bool {
		return h.engine.Projection().DisplayedPercent == 40
	}, waitFor, tick)

	h.push(models.Job{ID: "t1", Status: models.StatusCompleted, Percent: 100})
	h.waitState(t, StateCompleted)

	// A poll response that left the server before the push
	var gen uint64
	require.NoError(t, h.engine.call(context.Background(), func() { gen = h.engine.sess.gen }))
	stale := models.NewJobSnapshot(&models.Job{ID: "t1", Status: models.StatusProcessing, Percent: 40}, models.SourcePull)
	require.NoError(t, h.engine.call(context.Background(), func() { h.engine.receive(gen, stale) }))

	p := h.engine.Projection()
	assert.Equal(t, StateCompleted, p.State)
	assert.Equal(t, 100, p.DisplayedPercent)

	// A result from an older generation is ignored entirely
	require.NoError(t, h.engine.call(context.Background(), func() {
		h.engine.receive(gen-1, models.NewJobSnapshot(&models.Job{ID: "t1", Status: models.StatusFailed}, models.SourcePull))
	}))
	assert.Equal(t, StateCompleted, h.engine.Projection().State)
}

func TestEngine_PercentNeverRegresses(t *testing.T) {
	h := newHarness(t, Options{PollInterval: time.Hour}, nil)
	h.start(t, StartRequest{JobID: "t1"})

	h.push(models.Job{ID: "t1", Status: models.StatusProcessing, Percent: 70})
	require.Eventually(t, func() bool {
		return h.engine.Projection().DisplayedPercent == 70
	}, waitFor, tick)

	h.push(models.Job{ID: "t1", Status: models.StatusProcessing, Percent: 35})
	h.push(models.Job{ID: "other", Status: models.StatusProcessing, Percent: 99})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 70, h.engine.Projection().DisplayedPercent)
}

func TestEngine_PollErrorsAreSwallowed(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.f.setJob(models.Job{ID: "t1", Status: models.StatusProcessing, Percent: 25})
	h.f.failNext(5)

	h.start(t, StartRequest{JobID: "t1"})

	require.Eventually(t, func() bool {
		return h.engine.Projection().DisplayedPercent == 25
	}, waitFor, tick)
	assert.GreaterOrEqual(t, h.f.callCount("t1"), 6)
	assert.True(t, h.engine.Projection().IsActive)
}

func TestEngine_NewSessionReplacesOld(t *testing.T) {
	h := newHarness(t, Options{CompletionDelay: 200 * time.Millisecond}, nil)
	h.f.setJob(models.Job{ID: "t1", Status: models.StatusCompleted, Percent: 100})
	h.f.setJob(models.Job{ID: "t2", Status: models.StatusProcessing, Percent: 5})

	first := h.start(t, StartRequest{JobID: "t1"})
	h.waitState(t, StateCompleted)

	second := h.start(t, StartRequest{JobID: "t2"})
	assert.NotEqual(t, first, second)

	h.push(models.Job{ID: "t1", Status: models.StatusCompleted, Percent: 100})
	time.Sleep(350 * time.Millisecond)

	p := h.engine.Projection()
	assert.Equal(t, second, p.SessionID)
	assert.Equal(t, "t2", p.JobID)
	assert.Equal(t, StateProcessing, p.State)
	assert.Zero(t, h.cb.completed.Load(), "replaced session must not complete")
}

func TestEngine_FailedJobStaysVisible(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.f.setJob(models.Job{
		ID: "t1", Status: models.StatusFailed, Percent: 30,
		FailedItems: []models.Item{{Filename: "scan.pdf", Message: "unreadable"}},
	})

	h.start(t, StartRequest{JobID: "t1"})
	p := h.waitState(t, StateFailed)

	assert.True(t, p.IsActive)
	assert.False(t, p.Polling)
	assert.Equal(t, presentation.Minimized, p.Visibility)
	require.NotEmpty(t, p.Banners)
	assert.Equal(t, events.BannerError, p.Banners[len(p.Banners)-1].Level)

	calls := h.f.callCount("t1")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, h.f.callCount("t1"))
	assert.Equal(t, int32(1), h.cb.failed.Load())
	assert.Zero(t, h.cb.completed.Load())

	require.NoError(t, h.engine.Close())
	assert.False(t, h.engine.Projection().IsActive)
}

func TestEngine_CompletedWithFailedItemsWarns(t *testing.T) {
	h := newHarness(t, Options{CompletionDelay: time.Second}, nil)
	h.f.setJob(models.Job{
		ID: "t1", Status: models.StatusCompleted, Percent: 100,
		SuccessfulItems: []models.Item{{Filename: "a.pdf"}},
		FailedItems:     []models.Item{{Filename: "b.pdf", Message: "blank page"}},
	})

	h.start(t, StartRequest{JobID: "t1", Manifest: manifest("a.pdf", "b.pdf")})
	p := h.waitState(t, StateCompleted)

	require.Len(t, p.Banners, 1)
	assert.Equal(t, events.BannerWarning, p.Banners[0].Level)
	assert.Equal(t, "1 of 2 file(s) could not be processed.", p.Banners[0].Message)
	require.NoError(t, h.engine.Close())
}

func TestEngine_Stall(t *testing.T) {
	h := newHarness(t, Options{MaxTrackingDuration: 80 * time.Millisecond, CompletionDelay: time.Second}, nil)
	h.f.setJob(models.Job{ID: "t1", Status: models.StatusProcessing, Percent: 10})

	h.start(t, StartRequest{JobID: "t1"})
	p := h.waitState(t, StateStalled)
	assert.False(t, p.Polling)
	assert.True(t, p.IsActive)
	require.NotEmpty(t, p.Banners)

	// Refresh still reaches the server, and a late completion still counts
	calls := h.f.callCount("t1")
	h.f.setJob(models.Job{ID: "t1", Status: models.StatusCompleted, Percent: 100})
	require.NoError(t, h.engine.Refresh(context.Background()))
	h.waitState(t, StateCompleted)
	assert.Greater(t, h.f.callCount("t1"), calls)
}

func TestEngine_Refresh(t *testing.T) {
	h := newHarness(t, Options{PollInterval: time.Hour}, nil)
	assert.ErrorIs(t, h.engine.Refresh(context.Background()), ErrNoSession)

	h.f.setJob(models.Job{ID: "t1", Status: models.StatusProcessing, Percent: 10})
	h.start(t, StartRequest{JobID: "t1"})
	require.Eventually(t, func() bool { return h.f.callCount("t1") == 1 }, waitFor, tick)
	require.Eventually(t, func() bool {
		return h.engine.Projection().DisplayedPercent == 10
	}, waitFor, tick)

	h.f.setJob(models.Job{ID: "t1", Status: models.StatusProcessing, Percent: 55})
	require.Eventually(t, func() bool {
		_ = h.engine.Refresh(context.Background())
		return h.engine.Projection().DisplayedPercent == 55
	}, waitFor, 20*time.Millisecond)
}

func TestEngine_BatchOnly(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.f.setBatch(models.Batch{ID: "q1", OverallPercent: 50, TotalJobs: 2, CompletedJobs: 1, Status: models.StatusProcessing})

	h.start(t, StartRequest{BatchID: "q1"})
	require.Eventually(t, func() bool {
		return h.engine.Projection().DisplayedPercent == 50
	}, waitFor, tick)
	require.NotNil(t, h.engine.Projection().Batch)

	h.f.setBatch(models.Batch{ID: "q1", OverallPercent: 100, TotalJobs: 2, CompletedJobs: 2, Status: models.StatusCompleted})
	h.waitClosed(t)
	require.Eventually(t, func() bool { return h.cb.completed.Load() == 1 }, waitFor, tick)
}

func TestEngine_JobAndBatchPolledTogether(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	h.f.setJob(models.Job{ID: "t1", Status: models.StatusProcessing, Percent: 20})
	h.f.setBatch(models.Batch{ID: "q1", OverallPercent: 10, TotalJobs: 3, Status: models.StatusProcessing})

	h.start(t, StartRequest{JobID: "t1", BatchID: "q1"})
	require.Eventually(t, func() bool {
		p := h.engine.Projection()
		return p.DisplayedPercent == 20 && p.Batch != nil && p.Batch.OverallPercent == 10
	}, waitFor, tick)
	assert.Greater(t, h.f.callCount("q1"), 0)
}

func TestEngine_StartingBeforeData(t *testing.T) {
	h := newHarness(t, Options{PollInterval: time.Hour}, nil)

	h.start(t, StartRequest{JobID: "t1"})
	p := h.engine.Projection()
	assert.True(t, p.IsActive)
	assert.True(t, p.Starting)
	assert.Equal(t, presentation.Hidden, p.Visibility, "no widget before the first snapshot")
	assert.False(t, h.engine.Toggle())

	h.push(models.Job{ID: "t1", Status: models.StatusProcessing, Percent: 1})
	require.Eventually(t, func() bool {
		return h.engine.Projection().Visibility == presentation.Minimized
	}, waitFor, tick)

	assert.True(t, h.engine.Toggle())
	assert.Equal(t, presentation.Expanded, h.engine.Projection().Visibility)
}

func TestEngine_StartRequiresID(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	_, err := h.engine.Start(context.Background(), StartRequest{Manifest: manifest("a.pdf")})
	assert.ErrorIs(t, err, ErrNothingToTrack)
}

func TestEngine_StoppedEngine(t *testing.T) {
	e := NewEngine(newFakeFetcher(), nil, nil, nil, nil, Options{})
	e.Shutdown()
	e.Shutdown()

	_, err := e.Start(context.Background(), StartRequest{JobID: "t1"})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, presentation.Hidden, e.Projection().Visibility)
}

func TestEngine_PrefsLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ui-prefs.json")
	store := presentation.NewPrefsStore(path)
	require.NoError(t, store.Save(presentation.Prefs{Open: true, Minimized: false}))

	h := newHarness(t, Options{PollInterval: time.Hour}, store)

	// A fresh submission ignores the cached expanded flag
	h.start(t, StartRequest{JobID: "t1"})
	h.push(models.Job{ID: "t1", Status: models.StatusProcessing, Percent: 5})
	require.Eventually(t, func() bool {
		return h.engine.Projection().Visibility == presentation.Minimized
	}, waitFor, tick)

	prefs, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, presentation.Prefs{Open: true, Minimized: true}, prefs)

	assert.True(t, h.engine.Toggle())
	prefs, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, presentation.Prefs{Open: true, Minimized: false}, prefs)

	require.NoError(t, h.engine.Close())
	prefs, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, presentation.Prefs{}, prefs, "closing clears cached flags")
}

func TestEngine_ResumeRestoresPrefs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ui-prefs.json")
	store := presentation.NewPrefsStore(path)
	require.NoError(t, store.Save(presentation.Prefs{Open: true, Minimized: false}))

	h := newHarness(t, Options{PollInterval: time.Hour}, store)
	h.start(t, StartRequest{JobID: "t1", Resume: true})

	p := h.engine.Projection()
	assert.Equal(t, presentation.Hidden, p.Visibility, "flags wait for live data")

	h.push(models.Job{ID: "t1", Status: models.StatusProcessing, Percent: 5})
	require.Eventually(t, func() bool {
		return h.engine.Projection().Visibility == presentation.Expanded
	}, waitFor, tick)
}

func TestEngine_ResumeWithoutDataDiscardsPrefs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ui-prefs.json")
	store := presentation.NewPrefsStore(path)
	require.NoError(t, store.Save(presentation.Prefs{Open: true, Minimized: false}))

	h := newHarness(t, Options{PollInterval: time.Hour}, store)
	h.start(t, StartRequest{JobID: "gone", Resume: true})
	require.NoError(t, h.engine.Close())

	prefs, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, presentation.Prefs{}, prefs)
}
