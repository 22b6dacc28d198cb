// SPDX-License-Identifier: LGPL-3.0-or-later

// Package overlay creates and inspects the qcow2 copy-on-write overlays
// that sit between a read-only source disk and the guest appliance (§4.3),
// by shelling out to qemu-img the same way the teacher's V2V converter
// shells out to virt-v2v and qemu-img: resolve the binary once via
// exec.LookPath, build an argument slice, run it with CombinedOutput, and
// turn a non-zero exit into a wrapped error carrying the captured output.
package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"hyperv2kvm/internal/model"
)

// Manager creates and verifies qcow2 overlays with qemu-img.
type Manager struct {
	qemuImgBin string
}

// NewManager resolves qemu-img on PATH, failing fast the way
// NewV2VConverter fails fast on a missing virt-v2v.
func NewManager() (*Manager, error) {
	bin, err := exec.LookPath("qemu-img")
	if err != nil {
		return nil, fmt.Errorf("qemu-img not found in PATH (install qemu-img): %w", err)
	}
	return &Manager{qemuImgBin: bin}, nil
}

// ProbeVirtualSize runs qemu-img info against a source disk's URI directly,
// before any overlay exists, to learn the size an overlay must report
// (§4.3 step 4). A zero result is not an error here; the caller decides
// whether that is fatal, since the overlay manager itself only rejects a
// zero size at construction (model.NewOverlay).
func (m *Manager) ProbeVirtualSize(ctx context.Context, uri string) (int64, error) {
	out, err := m.run(ctx, "info", "--output=json", uri)
	if err != nil {
		return 0, fmt.Errorf("inspect source %s: %w: %s", uri, err, out)
	}
	info, err := parseImgInfo([]byte(out))
	if err != nil {
		return 0, fmt.Errorf("parse qemu-img info for %s: %w", uri, err)
	}
	return info.VirtualSize, nil
}

// CreateOverlay creates a qcow2 v3 file backed by src, sized to
// virtualSize, and returns the populated model.Overlay on success (§4.3
// steps 1-4). deviceName must already be resolved via
// model.DeviceNameForIndex.
func (m *Manager) CreateOverlay(ctx context.Context, src model.SourceDisk, overlayPath, deviceName string, virtualSize int64) (*model.Overlay, error) {
	ov, err := model.NewOverlay(src, overlayPath, deviceName, virtualSize)
	if err != nil {
		return nil, err
	}

	args := []string{
		"create",
		"-f", "qcow2",
		"-F", backingFormat(src.DeclaredFormat),
		"-b", src.URI,
		"-o", "compat=1.1",
		overlayPath,
	}
	if out, err := m.run(ctx, args...); err != nil {
		return nil, fmt.Errorf("create overlay for %s: %w: %s", deviceName, err, out)
	}

	if err := m.verifyBacking(ctx, overlayPath, src.URI, virtualSize); err != nil {
		return nil, err
	}

	return ov, nil
}

// backingFormat maps a declared source format to the -F value qemu-img
// expects; an undeclared format is passed through as "raw", matching
// qemu-img's own default probing behavior for untyped block backends.
func backingFormat(declared string) string {
	if declared == "" {
		return "raw"
	}
	return declared
}

type imgInfo struct {
	VirtualSize int64  `json:"virtual-size"`
	Format      string `json:"format"`
	BackingFilename string `json:"backing-filename"`
}

// verifyBacking runs qemu-img info on the new overlay and confirms its
// backing file and virtual size match what was requested, catching a
// silently-truncated or misattached overlay before the appliance ever
// mounts it.
func (m *Manager) verifyBacking(ctx context.Context, overlayPath, wantBacking string, wantSize int64) error {
	out, err := m.run(ctx, "info", "--output=json", overlayPath)
	if err != nil {
		return fmt.Errorf("inspect overlay %s: %w: %s", overlayPath, err, out)
	}
	info, err := parseImgInfo([]byte(out))
	if err != nil {
		return fmt.Errorf("parse qemu-img info for %s: %w", overlayPath, err)
	}
	return checkBacking(info, overlayPath, wantBacking, wantSize)
}

func parseImgInfo(data []byte) (imgInfo, error) {
	var info imgInfo
	err := json.Unmarshal(data, &info)
	return info, err
}

func checkBacking(info imgInfo, overlayPath, wantBacking string, wantSize int64) error {
	if info.VirtualSize != wantSize {
		return fmt.Errorf("overlay %s virtual size %d does not match requested %d", overlayPath, info.VirtualSize, wantSize)
	}
	if info.BackingFilename != "" && info.BackingFilename != wantBacking {
		return fmt.Errorf("overlay %s backing file %q does not match source %q", overlayPath, info.BackingFilename, wantBacking)
	}
	return nil
}

// VerifyHasBackingFile re-checks, immediately before copy (§4.9 step 1),
// that overlayPath still reports a backing file. A missing backing file at
// this point means the overlay was corrupted or rewritten after creation,
// and copying it further would silently produce a blank target disk.
func (m *Manager) VerifyHasBackingFile(ctx context.Context, overlayPath string) error {
	out, err := m.run(ctx, "info", "--output=json", overlayPath)
	if err != nil {
		return fmt.Errorf("inspect overlay %s: %w: %s", overlayPath, err, out)
	}
	info, err := parseImgInfo([]byte(out))
	if err != nil {
		return fmt.Errorf("parse qemu-img info for %s: %w", overlayPath, err)
	}
	if info.BackingFilename == "" {
		return fmt.Errorf("overlay %s has no backing file", overlayPath)
	}
	return nil
}

// Convert runs a qemu-img convert from overlayPath to destPath in
// transferFormat, matching §4.9 step 3's `img-convert -n -f qcow2 -O
// <transfer_format> [-c] -S 64k`.
func (m *Manager) Convert(ctx context.Context, overlayPath, destPath, transferFormat string, compressed bool) error {
	args := []string{"convert", "-n", "-f", "qcow2", "-O", transferFormat}
	if compressed {
		args = append(args, "-c")
	}
	args = append(args, "-S", "64k", overlayPath, destPath)
	if out, err := m.run(ctx, args...); err != nil {
		return fmt.Errorf("convert %s to %s: %w: %s", overlayPath, destPath, err, out)
	}
	return nil
}

// Commit merges an overlay's writes back into its backing file, used by
// --in-place conversions after the copy step (§4.1, §4.9's in-place path).
func (m *Manager) Commit(ctx context.Context, overlayPath string) error {
	out, err := m.run(ctx, "commit", overlayPath)
	if err != nil {
		return fmt.Errorf("commit overlay %s: %w: %s", overlayPath, err, out)
	}
	return nil
}

func (m *Manager) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, m.qemuImgBin, args...)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
