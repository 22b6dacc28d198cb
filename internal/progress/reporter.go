// SPDX-License-Identifier: LGPL-3.0-or-later

// Package progress reports per-disk copy progress, adapted from the
// teacher's progress.BarProgress. The interface is unchanged; only the
// constructors are trimmed to what the copy engine needs (one bar per
// disk, sized in bytes, rather than the teacher's download/export/multi
// variants).
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Reporter is the copy engine's view of a progress indicator; nil-safe
// methods let a disabled reporter be passed around as a plain nil value.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Add(count int64)
	Finish()
	Close() error
}

// BarProgress wraps a progressbar.ProgressBar, matching the teacher's
// nil-receiver-safe method set so a quiet run can pass around a nil
// *BarProgress without branching at every call site.
type BarProgress struct {
	bar *progressbar.ProgressBar
}

// NewDiskCopyProgress returns a byte-counted progress bar labeled for one
// disk's copy, matching the teacher's throttle and completion-newline
// conventions.
func NewDiskCopyProgress(writer io.Writer, deviceName string, totalBytes int64) *BarProgress {
	bar := progressbar.NewOptions64(totalBytes,
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetDescription(fmt.Sprintf("Copying %s:", deviceName)),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetElapsedTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(writer, "\n")
		}),
	)
	return &BarProgress{bar: bar}
}

func (b *BarProgress) Start(total int64, description string) {
	if b == nil || b.bar == nil {
		return
	}
	b.bar.ChangeMax64(total)
	b.bar.Describe(description)
	b.bar.Reset()
}

func (b *BarProgress) Update(current int64) {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Set64(current)
}

func (b *BarProgress) Add(count int64) {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Add64(count)
}

func (b *BarProgress) Finish() {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Finish()
}

func (b *BarProgress) Close() error {
	if b == nil || b.bar == nil {
		return nil
	}
	return b.bar.Close()
}
