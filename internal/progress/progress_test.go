package progress

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinops/intake-tracker/internal/events"
	"github.com/clinops/intake-tracker/internal/models"
	"github.com/clinops/intake-tracker/internal/presentation"
	"github.com/clinops/intake-tracker/internal/tracker"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEase(t *testing.T) {
	tests := []struct {
		name          string
		shown, target float64
		factor        float64
		want          float64
	}{
		{"moves a fraction of the gap", 0, 100, 0.5, 50},
		{"snaps when close", 99.6, 100, 0.5, 100},
		{"drops immediately", 80, 50, 0.35, 50},
		{"holds at target", 40, 40, 0.35, 40},
		{"bad factor jumps", 10, 60, 0, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Ease(tt.shown, tt.target, tt.factor), 1e-9)
		})
	}
}

func TestEase_ConvergesWithoutOvershoot(t *testing.T) {
	shown := 0.0
	for i := 0; i < 100 && shown != 73; i++ {
		next := Ease(shown, 73, 0.35)
		require.GreaterOrEqual(t, next, shown)
		require.LessOrEqual(t, next, 73.0)
		shown = next
	}
	assert.Equal(t, 73.0, shown)
}

func TestTruncatePath(t *testing.T) {
	assert.Equal(t, "…/d/file.pdf", truncatePath("/a/b/c/d/file.pdf", 2))
	assert.Equal(t, "file.pdf", truncatePath("file.pdf", 2))
}

func projection(session string, state tracker.State, pct int) tracker.Projection {
	return tracker.Projection{
		SessionID:        session,
		Visibility:       presentation.Minimized,
		DisplayedPercent: pct,
		Phase:            tracker.PhaseProcessing,
		State:            state,
		IsActive:         true,
		JobID:            "job-1",
	}
}

func TestTrackerUI_PlainOutput(t *testing.T) {
	var out syncBuffer
	u := NewTrackerUIWithOutput(&out, false)

	u.Update(projection("s1", tracker.StateProcessing, 0))
	u.Update(projection("s1", tracker.StateProcessing, 5))
	u.Update(projection("s1", tracker.StateProcessing, 42))
	u.Update(projection("s1", tracker.StateCompleted, 100))
	u.Close()

	text := out.String()
	assert.Contains(t, text, "→ Processing job-1")
	assert.Contains(t, text, "Processing   0%")
	assert.NotContains(t, text, "  5%", "steps below ten percent are not printed")
	assert.Contains(t, text, "Processing  42%")
	assert.Contains(t, text, "✓ Processing complete")
}

func TestTrackerUI_ExpandedPrintsFileTransitionsOnce(t *testing.T) {
	var out syncBuffer
	u := NewTrackerUIWithOutput(&out, false)

	p := projection("s1", tracker.StateProcessing, 50)
	p.Visibility = presentation.Expanded
	p.PerFileStatus = []tracker.FileStatus{
		{Filename: "a.pdf", State: tracker.FileSucceeded},
		{Filename: "b.pdf", State: tracker.FileFailed, Message: "unreadable"},
	}
	u.Update(p)
	u.Update(p)

	text := out.String()
	assert.Equal(t, 1, strings.Count(text, "✓ a.pdf"))
	assert.Equal(t, 1, strings.Count(text, "✗ b.pdf: unreadable"))
}

func TestTrackerUI_EasesTowardTarget(t *testing.T) {
	u := NewTrackerUIWithOutput(&syncBuffer{}, false)
	u.Update(projection("s1", tracker.StateProcessing, 80))

	u.Tick()
	first := u.Shown()
	assert.Greater(t, first, 0.0)
	assert.Less(t, first, 80.0)

	for i := 0; i < 50; i++ {
		u.Tick()
	}
	assert.Equal(t, 80.0, u.Shown())

	u.Update(projection("s2", tracker.StateProcessing, 10))
	assert.Equal(t, 0.0, u.Shown(), "a new session starts from zero")
}

func TestTrackerUI_Banner(t *testing.T) {
	var out syncBuffer
	u := NewTrackerUIWithOutput(&out, false)
	u.Banner(events.BannerWarning, "1 file was skipped.", []models.Item{{Filename: "x.pdf", Message: "duplicate"}})

	assert.Contains(t, out.String(), "⚠ 1 file was skipped.")
	assert.Contains(t, out.String(), "x.pdf: duplicate")
}

func TestTrackerUI_BarsCloseCleanly(t *testing.T) {
	var out syncBuffer
	u := NewTrackerUIWithOutput(&out, true)

	u.Update(projection("s1", tracker.StateProcessing, 30))
	u.Tick()
	u.Update(projection("s1", tracker.StateClosed, 100))

	done := make(chan struct{})
	go func() {
		u.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestTrackerUI_RunFromBus(t *testing.T) {
	bus := events.NewEventBus(16)
	defer bus.Close()

	var out syncBuffer
	u := NewTrackerUIWithOutput(&out, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx, bus)
		close(done)
	}()

	// Run subscribes asynchronously; keep publishing until the line shows up.
	require.Eventually(t, func() bool {
		bus.PublishProjection("s1", projection("s1", tracker.StateProcessing, 60))
		bus.PublishBanner(events.BannerInfo, "hello", nil)
		return strings.Contains(out.String(), "Processing  60%") && strings.Contains(out.String(), "ℹ hello")
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}

func TestUploadBar_CountsBytes(t *testing.T) {
	var out syncBuffer
	b := NewUploadBarWithOutput(&out, 10, "uploading", false)

	n, err := b.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.EqualValues(t, 5, b.Sent())
	b.Finish()
}
