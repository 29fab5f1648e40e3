//go:build windows

package progress

import (
	"os"

	"golang.org/x/sys/windows"
)

const enableVirtualTerminalProcessing = 0x0004

// enableANSI turns on escape sequence handling for a Windows console so the
// bar can redraw in place. Redirected handles are left alone.
func enableANSI(f *os.File) {
	h := windows.Handle(f.Fd())
	var mode uint32
	if windows.GetConsoleMode(h, &mode) != nil {
		return
	}
	if mode&enableVirtualTerminalProcessing == 0 {
		_ = windows.SetConsoleMode(h, mode|enableVirtualTerminalProcessing)
	}
}
