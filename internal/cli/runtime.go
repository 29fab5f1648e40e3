package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/clinops/intake-tracker/internal/api"
	"github.com/clinops/intake-tracker/internal/channel"
	"github.com/clinops/intake-tracker/internal/config"
	"github.com/clinops/intake-tracker/internal/constants"
	"github.com/clinops/intake-tracker/internal/events"
	"github.com/clinops/intake-tracker/internal/logging"
	"github.com/clinops/intake-tracker/internal/presentation"
	"github.com/clinops/intake-tracker/internal/progress"
	"github.com/clinops/intake-tracker/internal/tracker"
)

var (
	errProcessingFailed = errors.New("processing failed")
	errStalled          = errors.New("tracking stalled")
)

// loadConfig loads the configuration and applies the global flags on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config) {
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if apiBaseURL != "" {
		cfg.APIBaseURL = apiBaseURL
	}
	if channelMode != "" {
		cfg.ChannelMode = channelMode
	}
}

// connectChannel opens the configured push channel. Any failure falls back
// to polling only.
func connectChannel(ctx context.Context, cfg *config.Config, logger *logging.Logger) channel.ProgressChannel {
	var (
		ch  channel.ProgressChannel
		err error
	)
	switch cfg.ChannelMode {
	case "websocket":
		ch, err = channel.NewWebSocketChannel(cfg.APIBaseURL, cfg.APIKey, logger)
	case "redis":
		ch, err = channel.NewRedisChannel(cfg.RedisURL, logger)
	default:
		return channel.Nop{}
	}
	if err != nil {
		logger.Warn().Err(err).Str("mode", cfg.ChannelMode).Msg("Push channel not configured, polling only")
		return channel.Nop{}
	}

	connectCtx, cancel := context.WithTimeout(ctx, constants.HTTPTLSHandshakeTimeout)
	defer cancel()
	if err := ch.Connect(connectCtx); err != nil {
		logger.Warn().Err(err).Str("mode", cfg.ChannelMode).Msg("Push channel unavailable, polling only")
		_ = ch.Disconnect()
		return channel.Nop{}
	}
	return ch
}

type outcome struct {
	summary tracker.Summary
	failed  bool
}

// tracking wires the engine to the terminal for one command run.
type tracking struct {
	cfg      *config.Config
	client   *api.Client
	channel  channel.ProgressChannel
	bus      *events.EventBus
	engine   *tracker.Engine
	ui       *progress.TrackerUI
	out      io.Writer
	expanded bool

	outcomes    chan outcome
	projections <-chan events.Event
	states      <-chan events.Event
	stopUI      context.CancelFunc
	uiDone      chan struct{}
}

func newTracking(ctx context.Context, cfg *config.Config, logger *logging.Logger, expanded bool) (*tracking, error) {
	client, err := api.NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	t := &tracking{
		cfg:      cfg,
		client:   client,
		channel:  connectChannel(ctx, cfg, logger),
		bus:      events.NewEventBus(constants.EventBusDefaultBuffer),
		ui:       progress.NewTrackerUI(),
		out:      os.Stdout,
		expanded: expanded,
		outcomes: make(chan outcome, 2),
		uiDone:   make(chan struct{}),
	}

	opts := tracker.OptionsFromConfig(cfg)
	opts.OnComplete = func(s tracker.Summary) { t.report(outcome{summary: s}) }
	opts.OnFailed = func(s tracker.Summary) { t.report(outcome{summary: s, failed: true}) }
	t.engine = tracker.NewEngine(client, t.channel, t.bus, presentation.NewPrefsStore(cfg.PrefsPath), logger, opts)

	t.projections = t.bus.Subscribe(events.EventProjection)
	t.states = t.bus.Subscribe(events.EventSessionState)
	render := t.ui.Attach(t.bus)
	uiCtx, stop := context.WithCancel(context.Background())
	t.stopUI = stop
	go func() {
		defer close(t.uiDone)
		render(uiCtx)
	}()
	return t, nil
}

func (t *tracking) report(o outcome) {
	select {
	case t.outcomes <- o:
	default:
	}
}

// follow blocks until the session completes, fails or stalls, or ctx ends.
// Cancelling closes the session without reporting completion.
//
// Bus events can be dropped when a subscriber falls behind, so the engine is
// also asked directly for a stall on every poll interval.
func (t *tracking) follow(ctx context.Context, sessionID string) error {
	check := time.NewTicker(constants.PollInterval)
	defer check.Stop()

	states := t.states
	toggled := false
	for {
		select {
		case <-ctx.Done():
			_ = t.engine.Close()
			return ctx.Err()

		case o := <-t.outcomes:
			if o.failed {
				return fmt.Errorf("%w: job %s", errProcessingFailed, o.summary.JobID)
			}
			fmt.Fprintf(t.out, "Finished %s in %s\n", o.summary.JobID, o.summary.Duration.Round(time.Second))
			return nil

		case ev, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if se, ok := ev.(*events.SessionStateEvent); ok && se.SessionID == sessionID && se.NewState == string(tracker.StateStalled) {
				return errStalled
			}

		case <-check.C:
			if p := t.engine.Projection(); p.SessionID == sessionID && p.State == tracker.StateStalled {
				return errStalled
			}

		case ev, ok := <-t.projections:
			if !ok {
				return nil
			}
			pe, ok := ev.(*events.ProjectionEvent)
			if !ok || pe.SessionID != sessionID {
				continue
			}
			p, ok := pe.Projection.(tracker.Projection)
			if !ok {
				continue
			}
			if t.expanded && !toggled && p.Visibility == presentation.Minimized {
				toggled = t.engine.Toggle()
			}
			if p.State == tracker.StateStalled {
				return errStalled
			}
		}
	}
}

func (t *tracking) close() {
	t.engine.Shutdown()
	_ = t.channel.Disconnect()
	t.stopUI()
	<-t.uiDone
	t.ui.Close()
	t.bus.Close()
}
