// SPDX-License-Identifier: LGPL-3.0-or-later

package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"hyperv2kvm/internal/adapters"
	"hyperv2kvm/internal/appliance"
	"hyperv2kvm/internal/convert"
	"hyperv2kvm/internal/copyengine"
	"hyperv2kvm/internal/estimator"
	"hyperv2kvm/internal/formatresolve"
	"hyperv2kvm/internal/logger"
	"hyperv2kvm/internal/manifest"
	"hyperv2kvm/internal/model"
	"hyperv2kvm/internal/planner"
	"hyperv2kvm/internal/progress"
)

// applianceFactory builds an Appliance rooted at mountDir, mounted
// read-write or read-only. Tests substitute a fake; production code leaves
// Driver.NewAppliance nil and gets the real guestfs-backed implementation.
type applianceFactory func(mountDir string, readWrite bool) appliance.Appliance

// overlayManager is the slice of *overlay.Manager the driver drives,
// pulled out as an interface for the same reason copyengine does: tests
// substitute a fake instead of shelling out to a real qemu-img.
type overlayManager interface {
	ProbeVirtualSize(ctx context.Context, uri string) (int64, error)
	CreateOverlay(ctx context.Context, src model.SourceDisk, overlayPath, deviceName string, virtualSize int64) (*model.Overlay, error)
	VerifyHasBackingFile(ctx context.Context, overlayPath string) error
	Convert(ctx context.Context, overlayPath, destPath, transferFormat string, compressed bool) error
}

// Driver owns every collaborator one conversion run needs and exposes the
// single Run entry point, in the style of the teacher's PipelineExecutor:
// a config/collaborator bag plus one method, rather than free functions
// threading everything through arguments.
type Driver struct {
	Input    adapters.Input
	Output   adapters.Output
	Overlays overlayManager
	Convert  *convert.Registry
	Logger   logger.Logger
	ToolName string // recorded as manifest.Metadata.Tool

	// Stdout receives --print-source and --print-estimate output. Defaults
	// to os.Stdout when nil.
	Stdout io.Writer

	// NewAppliance overrides how an Appliance is constructed; nil selects
	// appliance.New / appliance.NewReadWrite.
	NewAppliance applianceFactory

	// ProgressFactory, when set, is forwarded to the copy engine for
	// per-disk progress reporting (§4.9). Nil disables progress output.
	ProgressFactory func(deviceName string, totalBytes int64) progress.Reporter

	// CheckDependencies overrides the host tool-availability preflight
	// check; nil selects appliance.CheckDependencies. Tests substitute a
	// no-op so they don't depend on libguestfs-tools being on the test
	// runner's PATH.
	CheckDependencies func() error
}

func (d *Driver) stdout() io.Writer {
	if d.Stdout != nil {
		return d.Stdout
	}
	return os.Stdout
}

func (d *Driver) applianceFor(mountDir string, readWrite bool) appliance.Appliance {
	if d.NewAppliance != nil {
		return d.NewAppliance(mountDir, readWrite)
	}
	if readWrite {
		return appliance.NewReadWrite(mountDir)
	}
	return appliance.New(mountDir)
}

// Run executes one conversion end to end. A nil *manifest.Manifest with a
// nil error means the run succeeded without emitting metadata: print-source,
// print-estimate, and in-place mode all take this path (§4.2, §4.10, §8
// scenarios 5 and 6).
func (d *Driver) Run(ctx context.Context, opts Options) (*manifest.Manifest, error) {
	checkDeps := d.CheckDependencies
	if checkDeps == nil {
		checkDeps = appliance.CheckDependencies
	}
	if err := checkDeps(); err != nil {
		return nil, err
	}
	if err := d.Input.Precheck(ctx); err != nil {
		return nil, fmt.Errorf("input precheck: %w", err)
	}

	src, disks, err := d.Input.Source(ctx, opts.BandwidthLimitBps)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	if opts.PrintSource {
		fmt.Fprint(d.stdout(), renderSource(src, disks))
		return nil, nil
	}

	if err := validateDisks(disks); err != nil {
		return nil, err
	}
	rebuilt, warnings, err := model.NewSource(*src)
	if err != nil {
		return nil, err
	}
	src = rebuilt
	for _, w := range warnings {
		d.Logger.Warn(w)
	}

	applyOverrides(src, opts)

	if opts.InPlace {
		return nil, d.runInPlace(ctx, opts, src, disks)
	}

	// §8 boundary case: "--compressed with -of raw fails before any
	// subprocess is launched." The full per-overlay cascade in §4.8 also
	// enforces this, but an explicit --output-format=raw lets the failure
	// surface before the first qemu-img invocation (overlay creation).
	if opts.Compressed && opts.OutputFormat != "" {
		f, ok := formatresolve.ParseFormat(opts.OutputFormat)
		if !ok {
			return nil, fmt.Errorf("unsupported --output-format %q", opts.OutputFormat)
		}
		if err := formatresolve.ValidateCompression(f, true); err != nil {
			return nil, err
		}
	}

	return d.runCopy(ctx, opts, src, disks, warnings)
}

func validateDisks(disks []model.SourceDisk) error {
	seen := make(map[int]bool, len(disks))
	for _, dk := range disks {
		if dk.URI == "" {
			return fmt.Errorf("disk %d: uri must not be empty", dk.ID)
		}
		if seen[dk.ID] {
			return fmt.Errorf("duplicate disk id %d", dk.ID)
		}
		seen[dk.ID] = true
	}
	return nil
}

func applyOverrides(src *model.Source, opts Options) {
	if opts.Rename != "" {
		src.OriginalName = src.Name
		src.Name = opts.Rename
	}
	for i := range src.NICs {
		if mapped, ok := opts.NetworkMap[src.NICs[i].Network]; ok {
			src.NICs[i].Network = mapped
		}
	}
}

func renderSource(src *model.Source, disks []model.SourceDisk) string {
	var b []byte
	line := func(format string, args ...interface{}) {
		b = append(b, []byte(fmt.Sprintf(format, args...))...)
	}
	line("name: %s\n", src.Name)
	if src.OriginalName != "" {
		line("original_name: %s\n", src.OriginalName)
	}
	line("hypervisor: %s\n", src.Hypervisor)
	line("memory_kib: %d\n", src.MemoryKiB)
	line("vcpus: %d\n", src.VCPUs)
	line("firmware: %s\n", src.Firmware)
	line("video: %s\n", src.Video)
	for _, n := range src.NICs {
		line("nic: mac=%s network=%s model=%s\n", n.MACAddress, n.Network, n.Model)
	}
	for _, dk := range disks {
		line("disk: id=%d uri=%s format=%s controller=%s\n", dk.ID, dk.URI, dk.DeclaredFormat, dk.Controller)
	}
	return string(b)
}

// requestedFromSource builds the in-place mode's RequestedCapabilities
// from the source's current configuration (§3): the first disk's
// controller, the first NIC's model, and the source's video adapter.
func requestedFromSource(src *model.Source, disks []model.SourceDisk) model.RequestedCapabilities {
	req := model.RequestedCapabilities{}
	if len(disks) > 0 {
		c := disks[0].Controller
		req.BlockBus = &c
	}
	if len(src.NICs) > 0 && src.NICs[0].Model != "" {
		m := src.NICs[0].Model
		req.NetBus = &m
	}
	v := src.Video
	req.Video = &v
	return req
}

func (d *Driver) gatherMountStats(a appliance.Appliance, insp *model.Inspect) ([]model.MountpointStats, error) {
	root, err := a.RootPath()
	if err != nil {
		return nil, err
	}
	mounts := make([]model.MountpointStats, 0, len(insp.Mounts))
	for _, mnt := range insp.Mounts {
		st, err := a.StatVFS(filepath.Join(root, mnt.MountPath))
		if err != nil {
			return nil, fmt.Errorf("statvfs %s: %w", mnt.MountPath, err)
		}
		st.Device = mnt.Device
		st.FSType = mnt.FSType
		st.MountPath = mnt.MountPath
		mounts = append(mounts, st)
	}
	return mounts, nil
}

// runInPlace implements §8 scenario 5: the appliance mutates the source
// disks directly, no overlays, no host free-space check, no estimate, no
// target layout, no copy, no metadata.
func (d *Driver) runInPlace(ctx context.Context, opts Options, src *model.Source, disks []model.SourceDisk) error {
	mountDir, err := os.MkdirTemp(opts.tempDir(), "hyperv2kvm-mount-")
	if err != nil {
		return fmt.Errorf("create mount directory: %w", err)
	}
	defer os.RemoveAll(mountDir)

	a := d.applianceFor(mountDir, true)
	a.SetDecryptionKeys(opts.DecryptionKeys)
	for _, dk := range disks {
		if err := a.AddDrive(dk.URI); err != nil {
			return err
		}
	}
	if err := a.Launch(ctx); err != nil {
		return err
	}
	if err := a.Mount(ctx); err != nil {
		return err
	}
	defer a.Shutdown(ctx)

	insp, err := a.Inspect(ctx)
	if err != nil {
		return err
	}

	mounts, err := d.gatherMountStats(a, insp)
	if err != nil {
		return err
	}
	if err := estimator.CheckGuestFreeSpace(mounts, insp.Type == "windows"); err != nil {
		return err
	}

	module, err := d.Convert.Select(insp)
	if err != nil {
		return err
	}
	requested := requestedFromSource(src, disks)
	// In-place mode never reaches an output adapter, so there is nothing
	// for the conversion module's OutputView to consult; a nil interface
	// value is safe because neither built-in module calls a method on it.
	if _, err := module.Convert(ctx, a, insp, disks, nil, requested, opts.StaticIPs); err != nil {
		return fmt.Errorf("conversion module: %w", err)
	}

	for _, w := range a.Fstrim(ctx, insp.Mounts) {
		d.Logger.Warn(w)
	}
	return nil
}

// runCopy implements the main §2/§4.3-§4.10 path, branching into
// estimate-only mode (§4.10, §8 scenario 6) after the space estimator runs.
func (d *Driver) runCopy(ctx context.Context, opts Options, src *model.Source, disks []model.SourceDisk, warnings []string) (*manifest.Manifest, error) {
	if err := appliance.CheckHostTempSpace(opts.tempDir(), appliance.MinTempFreeBytes); err != nil {
		return nil, err
	}

	guard := copyengine.NewCleanupGuard()
	defer guard.Close()

	overlays := make([]*model.Overlay, 0, len(disks))
	for i, dk := range disks {
		size, err := d.Overlays.ProbeVirtualSize(ctx, dk.URI)
		if err != nil {
			return nil, fmt.Errorf("probe disk %d size: %w", dk.ID, err)
		}
		if size == 0 {
			return nil, fmt.Errorf("disk %d (%s) has zero virtual size; if this is fetched over "+
				"ssh-block, the remote device may not report its size", dk.ID, dk.URI)
		}
		deviceName := model.DeviceNameForIndex(i)
		path := filepath.Join(opts.tempDir(), "overlay-"+deviceName+".qcow2")
		guard.Register(path)
		ov, err := d.Overlays.CreateOverlay(ctx, dk, path, deviceName, size)
		if err != nil {
			return nil, fmt.Errorf("create overlay for disk %d: %w", dk.ID, err)
		}
		overlays = append(overlays, ov)
	}

	mountDir, err := os.MkdirTemp(opts.tempDir(), "hyperv2kvm-mount-")
	if err != nil {
		return nil, fmt.Errorf("create mount directory: %w", err)
	}
	defer os.RemoveAll(mountDir)

	a := d.applianceFor(mountDir, true)
	a.SetDecryptionKeys(opts.DecryptionKeys)
	for _, ov := range overlays {
		if err := a.AddDrive(ov.Path); err != nil {
			return nil, err
		}
	}
	if err := a.Launch(ctx); err != nil {
		return nil, err
	}
	if err := a.Mount(ctx); err != nil {
		return nil, err
	}

	insp, err := a.Inspect(ctx)
	if err != nil {
		a.Shutdown(ctx)
		return nil, err
	}

	mounts, err := d.gatherMountStats(a, insp)
	if err != nil {
		a.Shutdown(ctx)
		return nil, err
	}
	if err := estimator.CheckGuestFreeSpace(mounts, insp.Type == "windows"); err != nil {
		a.Shutdown(ctx)
		return nil, err
	}

	estimator.Estimate(mounts, overlays)

	if opts.PrintEstimate {
		a.Shutdown(ctx)
		printEstimate(d.stdout(), overlays, opts.MachineReadable)
		return nil, nil
	}

	if err := d.Output.Precheck(ctx); err != nil {
		a.Shutdown(ctx)
		return nil, fmt.Errorf("output precheck: %w", err)
	}

	module, err := d.Convert.Select(insp)
	if err != nil {
		a.Shutdown(ctx)
		return nil, err
	}
	granted, err := module.Convert(ctx, a, insp, disks, d.Output, model.RequestedCapabilities{}, opts.StaticIPs)
	if err != nil {
		a.Shutdown(ctx)
		return nil, fmt.Errorf("conversion module: %w", err)
	}

	for _, w := range a.Fstrim(ctx, insp.Mounts) {
		warnings = append(warnings, w)
		d.Logger.Warn(w)
	}

	if err := a.Shutdown(ctx); err != nil {
		return nil, fmt.Errorf("shutdown appliance: %w", err)
	}

	buses := planner.AssignBuses(overlays, src.Removables, granted.BlockBus)
	fw, fwNote, err := planner.ResolveFirmware(src.Firmware, insp.Firmware, outputFirmwareView{d.Output})
	if err != nil {
		return nil, err
	}
	if fwNote != "" {
		d.Logger.Info(fwNote)
	}

	formats := make(map[string]string, len(overlays))
	for _, ov := range overlays {
		f, err := formatresolve.Resolve(ov, d.Output.OverrideOutputFormat, opts.OutputFormat)
		if err != nil {
			return nil, err
		}
		if err := formatresolve.ValidateCompression(f, opts.Compressed); err != nil {
			return nil, err
		}
		formats[ov.DeviceName] = string(f)
	}

	refs, err := d.Output.PrepareTargets(ctx, src.Name, overlays, formats, granted)
	if err != nil {
		return nil, fmt.Errorf("prepare targets: %w", err)
	}
	if len(refs) != len(overlays) {
		// §9 open question, decided: a length mismatch is a programming
		// error in the output adapter, not a recoverable condition.
		panic(fmt.Sprintf("pipeline: prepare_targets returned %d targets for %d overlays", len(refs), len(overlays)))
	}

	targets := make([]model.TargetDisk, len(overlays))
	for i, ov := range overlays {
		targets[i] = model.TargetDisk{File: refs[i], Format: formats[ov.DeviceName], Overlay: ov}
	}

	engine := copyengine.NewEngine(d.Overlays, guard, opts.Compressed, opts.Preallocation)
	if d.ProgressFactory != nil {
		engine = engine.WithProgress(d.ProgressFactory)
	}
	if err := engine.CopyAll(ctx, targets, d.Output); err != nil {
		return nil, err
	}

	firmwareHint := model.FirmwareBIOS
	if fw.UEFI {
		firmwareHint = model.FirmwareUEFI
	}

	b := manifest.NewBuilder(d.ToolName).
		WithSource(src).
		WithVM(src, firmwareHint, insp.Type, insp.Distro).
		WithCapabilities(granted).
		WithInspection(insp).
		Tag("run_id", uuid.New().String())

	for _, n := range src.NICs {
		b.AddNIC(manifest.NIC{MACAddress: n.MACAddress, Network: n.Network, Model: n.Model})
	}
	for _, w := range warnings {
		b.AddWarning("pipeline", w)
	}
	if fwNote != "" {
		b.AddNote(fwNote)
	}
	for i, ov := range overlays {
		b.AddDisk(manifest.Disk{
			ID:             ov.DeviceName,
			SourceFormat:   ov.Source.DeclaredFormat,
			TargetFormat:   formats[ov.DeviceName],
			LocalPath:      targets[i].File.Path,
			URI:            targets[i].File.URI,
			Bus:            buses.Bus.String(),
			VirtualBytes:   ov.VirtualSize,
			EstimatedBytes: ov.Stats.EstimatedSize,
			ActualBytes:    ov.Stats.ActualSize,
			BootOrderHint:  i,
		})
	}

	mf, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}

	if err := d.Output.CreateMetadata(ctx, src, targets, buses, granted, insp, fw); err != nil {
		return nil, fmt.Errorf("create metadata: %w", err)
	}
	guard.Disarm()

	return mf, nil
}
