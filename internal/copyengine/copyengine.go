// SPDX-License-Identifier: LGPL-3.0-or-later

package copyengine

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"hyperv2kvm/internal/model"
	"hyperv2kvm/internal/progress"
)

// overlayOps is the subset of *overlay.Manager the copy engine drives,
// pulled out as an interface so tests can substitute a fake instead of
// shelling out to a real qemu-img.
type overlayOps interface {
	VerifyHasBackingFile(ctx context.Context, overlayPath string) error
	Convert(ctx context.Context, overlayPath, destPath, transferFormat string, compressed bool) error
}

// Preallocation mirrors the §4.9 -oa values passed to CreateDestination.
type Preallocation string

const (
	PreallocationNone      Preallocation = ""
	PreallocationSparse    Preallocation = "sparse"
	PreallocationPreallocated Preallocation = "full"
)

// CreateOptions is the parameter set an output adapter receives to create
// a destination disk (§4.9 step 2).
type CreateOptions struct {
	SizeBytes     int64
	Preallocation Preallocation
	Compat        string // "1.1" when the target format is qcow2, else ""
}

// Sink is the slice of an output adapter the copy engine drives directly:
// destination creation, the per-target transfer format (which may differ
// from the final on-disk format when streaming to a remote uploader), and
// the post-copy notification hook.
type Sink interface {
	CreateDestination(ctx context.Context, target model.TargetDisk, opts CreateOptions) error
	TransferFormat(target model.TargetDisk) string
	DiskCopied(ctx context.Context, target model.TargetDisk, index, total int) error
}

// Engine runs the §4.9 sequential copy loop.
type Engine struct {
	overlays      overlayOps
	guard         *CleanupGuard
	compressed    bool
	preallocation Preallocation
	progressFor   func(deviceName string, totalBytes int64) progress.Reporter
}

// NewEngine builds a copy engine using mgr for the underlying qemu-img
// operations and guard for target cleanup bookkeeping. mgr is ordinarily
// an *overlay.Manager.
func NewEngine(mgr overlayOps, guard *CleanupGuard, compressed bool, preallocation Preallocation) *Engine {
	return &Engine{overlays: mgr, guard: guard, compressed: compressed, preallocation: preallocation}
}

// WithProgress installs a factory used to report per-disk copy progress;
// a nil factory (the default) disables progress reporting entirely.
func (e *Engine) WithProgress(factory func(deviceName string, totalBytes int64) progress.Reporter) *Engine {
	e.progressFor = factory
	return e
}

// CopyAll copies every target in order, notifying sink after each one
// completes so it may begin side effects (uploads, commits) for finished
// disks before the rest are done (§4.9 step 5). The first subprocess
// failure aborts the remaining copies; cleanup is left to the guard.
func (e *Engine) CopyAll(ctx context.Context, targets []model.TargetDisk, sink Sink) error {
	total := len(targets)
	for i, target := range targets {
		if err := e.copyOne(ctx, target, sink); err != nil {
			return fmt.Errorf("copy target %d/%d (%s): %w", i+1, total, target.File, err)
		}
		if err := sink.DiskCopied(ctx, target, i+1, total); err != nil {
			return fmt.Errorf("disk_copied hook for target %d/%d: %w", i+1, total, err)
		}
	}
	return nil
}

func (e *Engine) copyOne(ctx context.Context, target model.TargetDisk, sink Sink) error {
	ov := target.Overlay

	if err := e.overlays.VerifyHasBackingFile(ctx, ov.Path); err != nil {
		return err
	}

	if !target.File.IsURI() && !isBlockDevice(target.File.Path) {
		opts := CreateOptions{SizeBytes: ov.VirtualSize, Preallocation: e.preallocation}
		if target.Format == "qcow2" {
			opts.Compat = "1.1"
		}
		if err := sink.CreateDestination(ctx, target, opts); err != nil {
			return fmt.Errorf("create destination: %w", err)
		}
		e.guard.Register(target.File.Path)
	}

	transferFormat := sink.TransferFormat(target)
	if transferFormat == "" {
		transferFormat = target.Format
	}

	reporter := e.startProgress(ov)
	if err := e.overlays.Convert(ctx, ov.Path, target.File.String(), transferFormat, e.compressed); err != nil {
		if reporter != nil {
			reporter.Close()
		}
		return err
	}
	if reporter != nil {
		reporter.Finish()
		reporter.Close()
	}

	if !target.File.IsURI() {
		actual, err := measureFileSize(target.File.Path)
		if err == nil {
			ov.Stats.ActualSize = &actual
		}
	}

	return nil
}

func (e *Engine) startProgress(ov *model.Overlay) progress.Reporter {
	if e.progressFor == nil {
		return nil
	}
	r := e.progressFor(ov.DeviceName, ov.VirtualSize)
	if r != nil {
		r.Start(ov.VirtualSize, ov.DeviceName)
	}
	return r
}

// measureFileSize shells out to `du --block-size=1` rather than os.Stat's
// apparent size, since a destination qcow2 file's allocated size (what
// `du` reports) is the number that matters for the manifest's
// actual_size, especially for sparse or preallocated targets.
func measureFileSize(path string) (int64, error) {
	cmd := exec.Command("du", "--block-size=1", path)
	out, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return 0, fmt.Errorf("unexpected du output for %s", path)
	}
	return strconv.ParseInt(fields[0], 10, 64)
}
