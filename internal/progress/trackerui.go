package progress

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/clinops/intake-tracker/internal/constants"
	"github.com/clinops/intake-tracker/internal/events"
	"github.com/clinops/intake-tracker/internal/models"
	"github.com/clinops/intake-tracker/internal/presentation"
	"github.com/clinops/intake-tracker/internal/tracker"
)

// TrackerUI draws the tracking projection as a single mpb bar. The bar eases
// toward the projected percent on its own tick; the projection itself never
// carries animation state.
type TrackerUI struct {
	out        io.Writer
	progress   *mpb.Progress
	isTerminal bool

	mu      sync.Mutex
	bar     *mpb.Bar
	target  tracker.Projection
	shown   float64
	files   map[string]tracker.FileState
	state   tracker.State
	step    int // last printed tens of percent, non-TTY only
	session string

	// label is read by the mpb render goroutine, which must not take mu.
	label atomic.Value
}

// NewTrackerUI renders on stderr, with bars only when stderr is a terminal.
func NewTrackerUI() *TrackerUI {
	isTerminal := term.IsTerminal(int(os.Stderr.Fd()))
	if isTerminal {
		enableANSI(os.Stderr)
	}
	return NewTrackerUIWithOutput(os.Stderr, isTerminal)
}

// NewTrackerUIWithOutput renders on out. Without bars, progress is printed
// as one line per state change or ten percent step.
func NewTrackerUIWithOutput(out io.Writer, bars bool) *TrackerUI {
	u := &TrackerUI{
		out:        out,
		isTerminal: bars,
		files:      make(map[string]tracker.FileState),
		step:       -1,
	}
	if bars {
		u.progress = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(constants.RenderInterval),
			mpb.WithWidth(80),
		)
	}
	return u
}

// Run feeds the UI from the bus until ctx is done or the bus closes.
func (u *TrackerUI) Run(ctx context.Context, bus *events.EventBus) {
	u.Attach(bus)(ctx)
}

// Attach subscribes to bus right away and returns the render loop to run in
// a goroutine, so nothing published after Attach returns is missed.
func (u *TrackerUI) Attach(bus *events.EventBus) func(ctx context.Context) {
	projections := bus.Subscribe(events.EventProjection)
	banners := bus.Subscribe(events.EventBanner)

	return func(ctx context.Context) {
		defer bus.Unsubscribe(events.EventProjection, projections)
		defer bus.Unsubscribe(events.EventBanner, banners)

		ticker := time.NewTicker(constants.RenderInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-projections:
				if !ok {
					return
				}
				if pe, ok := ev.(*events.ProjectionEvent); ok {
					if p, ok := pe.Projection.(tracker.Projection); ok {
						u.Update(p)
					}
				}
			case ev, ok := <-banners:
				if !ok {
					return
				}
				if be, ok := ev.(*events.BannerEvent); ok {
					u.Banner(be.Level, be.Message, be.Items)
				}
			case <-ticker.C:
				u.Tick()
			}
		}
	}
}

// Update takes a new projection.
func (u *TrackerUI) Update(p tracker.Projection) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if p.SessionID != u.session {
		u.resetLocked(p.SessionID)
	}
	u.target = p
	u.label.Store(phaseLabel(p) + currentFileSuffix(p))

	if p.State != u.state {
		u.state = p.State
		u.printStateLocked(p)
	}

	if p.Visibility == presentation.Hidden {
		u.dropBarLocked(p.State == tracker.StateClosed)
		return
	}

	if u.isTerminal && u.bar == nil {
		u.bar = u.newBarLocked()
	}
	if !u.isTerminal {
		if step := p.DisplayedPercent / 10; step != u.step {
			u.step = step
			u.printf("%s %3d%%%s\n", phaseLabel(p), p.DisplayedPercent, currentFileSuffix(p))
		}
	}
	if p.Visibility == presentation.Expanded {
		u.printFilesLocked(p.PerFileStatus)
	}
}

// Tick advances the eased bar by one frame.
func (u *TrackerUI) Tick() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.shown = Ease(u.shown, float64(u.target.DisplayedPercent), constants.EaseFactor)
	if u.bar != nil {
		u.bar.SetCurrent(int64(math.Round(u.shown)))
	}
}

// Shown returns the eased percent currently on screen.
func (u *TrackerUI) Shown() float64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.shown
}

// Banner prints a message above the bar.
func (u *TrackerUI) Banner(level events.BannerLevel, msg string, items []models.Item) {
	u.mu.Lock()
	defer u.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", bannerMark(level), msg)
	for _, it := range items {
		if it.Message != "" {
			fmt.Fprintf(&b, "    %s: %s\n", it.Filename, it.Message)
		} else {
			fmt.Fprintf(&b, "    %s\n", it.Filename)
		}
	}
	u.printf("%s", b.String())
}

// Writer returns a writer that prints above the bar.
func (u *TrackerUI) Writer() io.Writer {
	if u.progress != nil {
		return u.progress
	}
	return u.out
}

// Close removes the bar and waits for the final render.
func (u *TrackerUI) Close() {
	u.mu.Lock()
	u.dropBarLocked(false)
	u.mu.Unlock()
	if u.progress != nil {
		u.progress.Wait()
	}
}

func (u *TrackerUI) resetLocked(session string) {
	u.dropBarLocked(false)
	u.session = session
	u.shown = 0
	u.step = -1
	u.state = ""
	u.files = make(map[string]tracker.FileState)
}

func (u *TrackerUI) newBarLocked() *mpb.Bar {
	return u.progress.New(100,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string {
				label, _ := u.label.Load().(string)
				return label
			}, decor.WCSyncSpaceR),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.BarRemoveOnComplete(),
	)
}

// dropBarLocked ends the bar, filling it first when the session finished normally.
func (u *TrackerUI) dropBarLocked(finished bool) {
	if u.bar == nil {
		return
	}
	if finished && u.target.DisplayedPercent == 100 {
		u.bar.SetCurrent(100)
		u.bar.SetTotal(100, true)
	} else {
		u.bar.Abort(true)
	}
	u.bar = nil
}

func (u *TrackerUI) printStateLocked(p tracker.Projection) {
	switch p.State {
	case tracker.StateCompleted:
		succeeded, failed := countFiles(p.PerFileStatus)
		if failed > 0 {
			u.printf("✓ Processing complete: %d succeeded, %d failed\n", succeeded, failed)
		} else {
			u.printf("✓ Processing complete\n")
		}
	case tracker.StateFailed:
		u.printf("✗ Processing failed\n")
	case tracker.StateProcessing:
		if p.Phase == tracker.PhaseProcessing && p.JobID != "" {
			u.printf("→ Processing %s\n", p.JobID)
		}
	case tracker.StateUpload:
		u.printf("→ Uploading %s\n", p.JobID)
	}
}

// printFilesLocked prints each file once per state it reaches.
func (u *TrackerUI) printFilesLocked(files []tracker.FileStatus) {
	for _, f := range files {
		if u.files[f.Filename] == f.State {
			continue
		}
		u.files[f.Filename] = f.State
		switch f.State {
		case tracker.FileSucceeded:
			u.printf("  ✓ %s\n", truncatePath(f.Filename, 2))
		case tracker.FileFailed:
			u.printf("  ✗ %s: %s\n", truncatePath(f.Filename, 2), f.Message)
		case tracker.FileInProgress:
			u.printf("  … %s\n", truncatePath(f.Filename, 2))
		}
	}
}

func (u *TrackerUI) printf(format string, args ...any) {
	fmt.Fprintf(u.Writer(), format, args...)
}

func phaseLabel(p tracker.Projection) string {
	switch {
	case p.State == tracker.StateStalled:
		return "Stalled"
	case p.State == tracker.StateFailed:
		return "Failed"
	case p.State == tracker.StateCompleted:
		return "Done"
	case p.Starting:
		return "Starting"
	case p.Phase == tracker.PhaseUpload:
		return "Uploading"
	}
	return "Processing"
}

func currentFileSuffix(p tracker.Projection) string {
	if p.CurrentFile == "" {
		return ""
	}
	return " " + truncatePath(p.CurrentFile, 2)
}

func countFiles(files []tracker.FileStatus) (succeeded, failed int) {
	for _, f := range files {
		switch f.State {
		case tracker.FileSucceeded:
			succeeded++
		case tracker.FileFailed:
			failed++
		}
	}
	return succeeded, failed
}

func bannerMark(level events.BannerLevel) string {
	switch level {
	case events.BannerError:
		return "✗"
	case events.BannerWarning:
		return "⚠"
	}
	return "ℹ"
}

// truncatePath keeps the last maxComponents parts of a path.
// Example: truncatePath("/a/b/c/d/file.pdf", 2) → "…/d/file.pdf"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	return "…/" + strings.Join(parts[len(parts)-maxComponents:], "/")
}
