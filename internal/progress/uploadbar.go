package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// UploadBar shows bytes sent during a submission. It is an io.Writer so it can
// be handed to api.WithUploadProgress; every byte written advances the bar.
type UploadBar struct {
	bar *progressbar.ProgressBar
	// sent is counted here; a hidden progressbar does no byte accounting.
	sent atomic.Int64
}

// NewUploadBar creates a byte bar on stderr, hidden when stderr is not a terminal.
func NewUploadBar(total int64, description string) *UploadBar {
	return NewUploadBarWithOutput(os.Stderr, total, description, term.IsTerminal(int(os.Stderr.Fd())))
}

// NewUploadBarWithOutput creates a byte bar on w.
func NewUploadBarWithOutput(w io.Writer, total int64, description string, visible bool) *UploadBar {
	return &UploadBar{bar: progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(visible),
		progressbar.OptionSetVisibility(visible),
	)}
}

func (b *UploadBar) Write(p []byte) (int, error) {
	b.sent.Add(int64(len(p)))
	return b.bar.Write(p)
}

// Sent returns the number of bytes counted so far.
func (b *UploadBar) Sent() int64 {
	return b.sent.Load()
}

// Finish fills the bar.
func (b *UploadBar) Finish() {
	_ = b.bar.Finish()
}

// Abandon leaves the bar where it stopped, for a failed upload.
func (b *UploadBar) Abandon() {
	_ = b.bar.Exit()
}
