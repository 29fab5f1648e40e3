// Package tracker follows a submitted batch until its backend job finishes.
//
// One Engine goroutine owns the tracking session. Push deliveries, poll
// results, timer firings and caller requests all reach it as messages, so the
// session only ever changes inside that goroutine and never ends up half-updated.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinops/intake-tracker/internal/channel"
	"github.com/clinops/intake-tracker/internal/config"
	"github.com/clinops/intake-tracker/internal/constants"
	"github.com/clinops/intake-tracker/internal/events"
	"github.com/clinops/intake-tracker/internal/logging"
	"github.com/clinops/intake-tracker/internal/models"
	"github.com/clinops/intake-tracker/internal/presentation"
)

var (
	// ErrNoSession is returned when an operation needs an active session.
	ErrNoSession = errors.New("no active tracking session")
	// ErrNothingToTrack is returned by Start when the request carries no id.
	ErrNothingToTrack = errors.New("start request has no job or batch id")
	// ErrStopped is returned after Shutdown.
	ErrStopped = errors.New("tracker stopped")
)

// Fetcher pulls snapshots on demand. *api.Client implements it.
type Fetcher interface {
	FetchJobSnapshot(ctx context.Context, jobID string) (models.Snapshot, error)
	FetchBatchSnapshot(ctx context.Context, batchID string) (models.Snapshot, error)
}

// Options tune the engine. Zero durations fall back to the defaults in constants.
type Options struct {
	PollInterval    time.Duration
	CompletionDelay time.Duration
	// UploadWeight is the share of the combined percent given to the upload phase.
	UploadWeight float64
	// MaxTrackingDuration stops polling a session that has not terminated.
	// Zero disables the cutoff.
	MaxTrackingDuration time.Duration
	// CompleteOnManualClose fires OnComplete when the user closes a session
	// whose completion was already detected but whose auto-close is pending.
	CompleteOnManualClose bool

	// OnComplete is called once per completed session, after the completion delay.
	OnComplete func(Summary)
	// OnFailed is called once per session whose job failed.
	OnFailed func(Summary)
}

// OptionsFromConfig copies the tracking settings out of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval:          cfg.PollInterval,
		CompletionDelay:       cfg.CompletionDelay,
		UploadWeight:          cfg.UploadWeight,
		MaxTrackingDuration:   cfg.MaxTrackingDuration,
		CompleteOnManualClose: cfg.CompleteOnManualClose,
	}
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = constants.PollInterval
	}
	if o.CompletionDelay <= 0 {
		o.CompletionDelay = constants.CompletionDelay
	}
	if o.UploadWeight <= 0 || o.UploadWeight >= 1 {
		o.UploadWeight = constants.DefaultUploadWeight
	}
	if o.MaxTrackingDuration < 0 {
		o.MaxTrackingDuration = 0
	}
}

// Engine runs tracking sessions, one at a time.
type Engine struct {
	fetcher Fetcher
	channel channel.ProgressChannel
	bus     *events.EventBus
	prefs   *presentation.PrefsStore
	logger  *logging.Logger
	opts    Options

	machine *presentation.Machine
	sess    *session
	gen     uint64

	cmds     chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// helper goroutines: poll requests, push forwarders and callbacks
	wg sync.WaitGroup
}

// NewEngine creates an engine and starts its loop. bus and prefs may be nil.
func NewEngine(fetcher Fetcher, ch channel.ProgressChannel, bus *events.EventBus, prefs *presentation.PrefsStore, logger *logging.Logger, opts Options) *Engine {
	if ch == nil {
		ch = channel.Nop{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	opts.applyDefaults()

	e := &Engine{
		fetcher: fetcher,
		channel: ch,
		bus:     bus,
		prefs:   prefs,
		logger:  logger.Named("tracker"),
		opts:    opts,
		machine: presentation.NewMachine(),
		cmds:    make(chan func()),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go e.loop()
	return e
}

func (e *Engine) loop() {
	defer close(e.done)

	for {
		var tick, completion, stall <-chan time.Time
		if s := e.sess; s != nil {
			if s.ticker != nil {
				tick = s.ticker.C
			}
			if s.completionTimer != nil {
				completion = s.completionTimer.C
			}
			if s.stallTimer != nil {
				stall = s.stallTimer.C
			}
		}

		select {
		case <-e.quit:
			if e.sess != nil {
				e.teardown(StateClosed, "shutdown")
			}
			return
		case fn := <-e.cmds:
			fn()
		case <-tick:
			e.poll("tick")
		case <-completion:
			e.autoClose()
		case <-stall:
			e.markStalled()
		}
	}
}

// call runs fn on the loop and waits for it to finish.
func (e *Engine) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case e.cmds <- func() { defer close(finished); fn() }:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// post hands fn to the loop from a helper goroutine. It gives up when the
// helper's session is torn down.
func (e *Engine) post(ctx context.Context, fn func()) {
	select {
	case e.cmds <- fn:
	case <-ctx.Done():
	case <-e.done:
	}
}

// Start replaces any current session with a new one and returns its id.
// The replaced session is torn down without firing callbacks.
func (e *Engine) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.empty() {
		return "", ErrNothingToTrack
	}
	var id string
	err := e.call(ctx, func() { id = e.start(req) })
	return id, err
}

// Close tears down the current session at the user's request. Closing with no
// session is a no-op.
func (e *Engine) Close() error {
	return e.call(context.Background(), e.manualClose)
}

// Refresh polls the current session immediately.
func (e *Engine) Refresh(ctx context.Context) error {
	var err error
	if cerr := e.call(ctx, func() {
		if e.sess == nil {
			err = ErrNoSession
			return
		}
		// Also works on a stalled session
		e.poll("refresh")
	}); cerr != nil {
		return cerr
	}
	return err
}

// Toggle switches the widget between minimized and expanded.
func (e *Engine) Toggle() bool {
	var changed bool
	_ = e.call(context.Background(), func() {
		changed = e.machine.Toggle()
		if changed {
			e.savePrefs()
			e.publish()
		}
	})
	return changed
}

// Projection returns the current read-only view of the engine.
func (e *Engine) Projection() Projection {
	p := Projection{Visibility: presentation.Hidden, Phase: PhaseNone, State: StateIdle}
	_ = e.call(context.Background(), func() { p = e.project() })
	return p
}

// Shutdown tears down any session, stops the loop and waits for helper
// goroutines, including running callbacks.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.quit) })
	<-e.done
	e.wg.Wait()
}

func (e *Engine) start(req StartRequest) string {
	if e.sess != nil {
		e.teardown(StateClosed, "replaced by a new submission")
	}

	e.gen++
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:            uuid.NewString(),
		gen:           e.gen,
		ctx:           ctx,
		cancel:        cancel,
		activeBatchID: req.BatchID,
		manifest:      append([]string(nil), req.Manifest...),
		banners:       append([]Banner(nil), req.Banners...),
		resume:        req.Resume,
		startedAt:     time.Now(),
		state:         StateIdle,
	}

	switch {
	case req.UploadJobID != "" && req.ProcessingJobID != "":
		s.twoPhase = true
		s.uploadJobID = req.UploadJobID
		s.processingJobID = req.ProcessingJobID
		s.activeJobID = req.UploadJobID
		s.phase = PhaseUpload
	default:
		s.activeJobID = firstNonEmpty(req.JobID, req.ProcessingJobID, req.UploadJobID)
		s.phase = PhaseProcessing
	}

	e.sess = s
	e.machine.SessionStarted()

	if s.activeJobID != "" {
		s.jobUnsub = e.subscribe(s, s.activeJobID)
	}
	if s.activeBatchID != "" {
		s.batchUnsub = e.subscribe(s, s.activeBatchID)
	}

	s.polling = true
	s.ticker = time.NewTicker(e.opts.PollInterval)
	if e.opts.MaxTrackingDuration > 0 {
		s.stallTimer = time.NewTimer(e.opts.MaxTrackingDuration)
	}

	e.logger.Info().
		Str("session", s.id).
		Str("job", s.activeJobID).
		Str("batch", s.activeBatchID).
		Str("phase", string(s.phase)).
		Msg("Tracking started")

	if s.phase == PhaseUpload {
		e.setState(s, StateUpload, "submission accepted")
	} else {
		e.setState(s, StateProcessing, "submission accepted")
	}

	e.poll("start")
	e.publish()
	return s.id
}

// subscribe opens a push stream for id and forwards it into the loop.
func (e *Engine) subscribe(s *session, id string) func() {
	stream, cancelStream := e.channel.Subscribe(id)
	ctx, cancel := context.WithCancel(s.ctx)
	gen := s.gen

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-stream:
				if !ok {
					return
				}
				e.post(ctx, func() { e.receive(gen, snap) })
			}
		}
	}()

	return func() {
		cancel()
		cancelStream()
	}
}

func (e *Engine) manualClose() {
	s := e.sess
	if s == nil {
		return
	}
	fire := e.opts.CompleteOnManualClose && s.completed && !s.callbackFired
	if fire {
		s.callbackFired = true
		e.fire(e.opts.OnComplete, s.summary())
	}
	e.logger.Info().Str("session", s.id).Bool("callback", fire).Msg("Tracking closed by user")
	e.teardown(StateClosed, "closed by user")
}

// teardown stops everything the current session owns and detaches it.
func (e *Engine) teardown(final State, reason string) {
	s := e.sess
	if s == nil {
		return
	}
	s.stopPolling()
	s.stopTimers()
	if s.jobUnsub != nil {
		s.jobUnsub()
	}
	if s.batchUnsub != nil {
		s.batchUnsub()
	}
	s.cancel()

	e.setState(s, final, reason)
	e.sess = nil
	e.machine.Close()
	e.clearPrefs()
	e.publishFor(s.id)
}

// fire runs a callback off the loop so a slow or re-entrant callback cannot
// stall tracking.
func (e *Engine) fire(cb func(Summary), sum Summary) {
	if cb == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		cb(sum)
	}()
}

func (e *Engine) setState(s *session, next State, reason string) {
	if s.state == next {
		return
	}
	prev := s.state
	s.state = next
	if e.bus != nil {
		e.bus.PublishSessionState(s.id, string(prev), string(next), s.activeJobID, reason)
	}
}

func (e *Engine) addBanner(s *session, b Banner) {
	s.banners = append(s.banners, b)
	if e.bus != nil {
		e.bus.PublishBanner(b.Level, b.Message, b.Items)
	}
}

func (e *Engine) savePrefs() {
	if e.sess == nil || !e.sess.hasData() {
		return
	}
	if err := e.prefs.Save(e.machine.Prefs()); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to save widget preferences")
	}
}

func (e *Engine) clearPrefs() {
	if err := e.prefs.Clear(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to clear widget preferences")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
