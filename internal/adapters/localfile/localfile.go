// SPDX-License-Identifier: LGPL-3.0-or-later

// Package localfile implements the simplest §6 output adapter: place
// converted disks under a local directory and write the run manifest
// alongside them as JSON (<name>.manifest.json), the way the teacher
// always keeps a local artifact
// copy regardless of which cloud destination a run also targets.
package localfile

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"hyperv2kvm/internal/copyengine"
	"hyperv2kvm/internal/manifest"
	"hyperv2kvm/internal/model"
)

type Config struct {
	OutputDir string
}

type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter { return &Adapter{cfg: cfg} }

func (a *Adapter) AsOptions() string { return fmt.Sprintf("localfile(%s)", a.cfg.OutputDir) }

func (a *Adapter) Precheck(ctx context.Context) error {
	return os.MkdirAll(a.cfg.OutputDir, 0o755)
}

func (a *Adapter) SupportedFirmware() []model.FirmwareHint {
	return []model.FirmwareHint{model.FirmwareBIOS, model.FirmwareUEFI}
}

func (a *Adapter) CheckTargetFirmware(model.TargetFirmware) error { return nil }

func (a *Adapter) OverrideOutputFormat(ov *model.Overlay) (string, bool) { return "", false }

func (a *Adapter) PrepareTargets(ctx context.Context, name string, overlays []*model.Overlay, formats map[string]string, caps model.GrantedCapabilities) ([]model.TargetFileRef, error) {
	refs := make([]model.TargetFileRef, len(overlays))
	for i, ov := range overlays {
		ext := formats[ov.DeviceName]
		refs[i] = model.TargetFileRef{Path: filepath.Join(a.cfg.OutputDir, fmt.Sprintf("%s-%s.%s", name, ov.DeviceName, ext))}
	}
	return refs, nil
}

func (a *Adapter) CreateDestination(ctx context.Context, target model.TargetDisk, opts copyengine.CreateOptions) error {
	args := []string{"create", "-f", target.Format}
	if opts.Preallocation != "" {
		args = append(args, "-o", "preallocation="+string(opts.Preallocation))
	}
	args = append(args, target.File.Path, fmt.Sprintf("%d", opts.SizeBytes))
	out, err := exec.CommandContext(ctx, "qemu-img", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("qemu-img create %s: %w: %s", target.File.Path, err, out)
	}
	return nil
}

func (a *Adapter) TransferFormat(target model.TargetDisk) string { return target.Format }

func (a *Adapter) DiskCopied(ctx context.Context, target model.TargetDisk, index, total int) error {
	return nil
}

func (a *Adapter) CreateMetadata(ctx context.Context, source *model.Source, targets []model.TargetDisk, buses model.TargetBusAssignment, caps model.GrantedCapabilities, insp *model.Inspect, fw model.TargetFirmware) error {
	firmwareHint := model.FirmwareBIOS
	if fw.UEFI {
		firmwareHint = model.FirmwareUEFI
	}

	b := manifest.NewBuilder("hyperv2kvm").
		WithSource(source).
		WithVM(source, firmwareHint, insp.Type, insp.Distro).
		WithCapabilities(caps).
		WithInspection(insp)

	for i, t := range targets {
		var estimated, actual *int64
		if t.Overlay != nil {
			estimated = t.Overlay.Stats.EstimatedSize
			actual = t.Overlay.Stats.ActualSize
		}
		var virtual int64
		if t.Overlay != nil {
			virtual = t.Overlay.VirtualSize
		}
		deviceName := ""
		if t.Overlay != nil {
			deviceName = t.Overlay.DeviceName
		}
		sourceFormat := ""
		if t.Overlay != nil {
			sourceFormat = t.Overlay.Source.DeclaredFormat
		}
		b.AddDisk(manifest.Disk{
			ID:             deviceName,
			SourceFormat:   sourceFormat,
			TargetFormat:   t.Format,
			LocalPath:      t.File.Path,
			URI:            t.File.URI,
			Bus:            buses.Bus.String(),
			VirtualBytes:   virtual,
			EstimatedBytes: estimated,
			ActualBytes:    actual,
			BootOrderHint:  i,
		})
	}

	mf, err := b.Build()
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}

	jsonPath := filepath.Join(a.cfg.OutputDir, source.Name+".manifest.json")
	if err := manifest.WriteToFile(mf, jsonPath); err != nil {
		return fmt.Errorf("write manifest %s: %w", jsonPath, err)
	}
	return nil
}
