// Package progress renders upload and commit progress on the terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Meter receives progress updates for one transfer or commit.
type Meter interface {
	Add64(n int64) error
	Set64(n int64) error
	Finish() error
}

// Factory creates meters for the phases of a partition transfer.
type Factory interface {
	// Transfer tracks total bytes being streamed to the device.
	Transfer(desc string, total int64) Meter
	// Commit tracks an estimated commit duration in milliseconds.
	Commit(desc string, estimate time.Duration) Meter
}

// Bars draws progress bars to Writer, or stderr when Writer is nil.
type Bars struct {
	Writer io.Writer
}

func (b Bars) out() io.Writer {
	if b.Writer == nil {
		return os.Stderr
	}
	return b.Writer
}

func (b Bars) Transfer(desc string, total int64) Meter {
	w := b.out()
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
}

func (b Bars) Commit(desc string, estimate time.Duration) Meter {
	w := b.out()
	return progressbar.NewOptions64(estimate.Milliseconds(),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w, " [OK]") }),
	)
}

// Discard is a Factory whose meters drop every update.
type Discard struct{}

type nopMeter struct{}

func (nopMeter) Add64(int64) error { return nil }
func (nopMeter) Set64(int64) error { return nil }
func (nopMeter) Finish() error     { return nil }

func (Discard) Transfer(string, int64) Meter       { return nopMeter{} }
func (Discard) Commit(string, time.Duration) Meter { return nopMeter{} }
