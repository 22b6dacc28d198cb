// SPDX-License-Identifier: LGPL-3.0-or-later

package pipeline

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperv2kvm/internal/appliance"
	"hyperv2kvm/internal/convert"
	"hyperv2kvm/internal/copyengine"
	"hyperv2kvm/internal/model"
)

type nullLogger struct{}

func (nullLogger) Debug(string, ...interface{}) {}
func (nullLogger) Info(string, ...interface{})  {}
func (nullLogger) Warn(string, ...interface{})  {}
func (nullLogger) Error(string, ...interface{}) {}

type fakeInput struct {
	source *model.Source
	disks  []model.SourceDisk
}

func (f *fakeInput) Precheck(context.Context) error { return nil }
func (f *fakeInput) AsOptions() string               { return "fake-input" }
func (f *fakeInput) Source(context.Context, int64) (*model.Source, []model.SourceDisk, error) {
	src := *f.source
	return &src, f.disks, nil
}

type fakeOutput struct {
	created    []model.TargetDisk
	metaCalled bool
}

func (f *fakeOutput) Precheck(context.Context) error { return nil }
func (f *fakeOutput) AsOptions() string               { return "fake-output" }
func (f *fakeOutput) SupportedFirmware() []model.FirmwareHint {
	return []model.FirmwareHint{model.FirmwareBIOS, model.FirmwareUEFI}
}
func (f *fakeOutput) CheckTargetFirmware(model.TargetFirmware) error         { return nil }
func (f *fakeOutput) OverrideOutputFormat(*model.Overlay) (string, bool)     { return "", false }
func (f *fakeOutput) PrepareTargets(ctx context.Context, name string, overlays []*model.Overlay, formats map[string]string, caps model.GrantedCapabilities) ([]model.TargetFileRef, error) {
	refs := make([]model.TargetFileRef, len(overlays))
	for i, ov := range overlays {
		refs[i] = model.TargetFileRef{Path: "/tmp/hyperv2kvm-test-target-" + ov.DeviceName}
	}
	return refs, nil
}
func (f *fakeOutput) CreateDestination(ctx context.Context, target model.TargetDisk, opts copyengine.CreateOptions) error {
	f.created = append(f.created, target)
	return nil
}
func (f *fakeOutput) TransferFormat(target model.TargetDisk) string { return target.Format }
func (f *fakeOutput) DiskCopied(context.Context, model.TargetDisk, int, int) error { return nil }
func (f *fakeOutput) CreateMetadata(ctx context.Context, source *model.Source, targets []model.TargetDisk, buses model.TargetBusAssignment, caps model.GrantedCapabilities, insp *model.Inspect, fw model.TargetFirmware) error {
	f.metaCalled = true
	return nil
}

type fakeAppliance struct {
	root string
	insp *model.Inspect
}

func (f *fakeAppliance) AddDrive(string) error               { return nil }
func (f *fakeAppliance) SetDecryptionKeys(map[string]string) {}
func (f *fakeAppliance) Launch(context.Context) error         { return nil }
func (f *fakeAppliance) Mount(context.Context) error          { return nil }
func (f *fakeAppliance) Inspect(context.Context) (*model.Inspect, error) {
	return f.insp, nil
}
func (f *fakeAppliance) StatVFS(string) (model.MountpointStats, error) {
	return model.MountpointStats{
		BlockSize:   4096,
		Blocks:      524288, // 2 GiB filesystem
		BlocksFree:  262144, // 1 GiB free
		BlocksAvail: 262144,
		Files:       0, // exercises the "files == 0 skips inode check" boundary case
		FilesFree:   0,
	}, nil
}
func (f *fakeAppliance) RootPath() (string, error) { return f.root, nil }
func (f *fakeAppliance) Fstrim(context.Context, []model.MountedFilesystem) []string {
	return nil
}
func (f *fakeAppliance) Shutdown(context.Context) error { return nil }

type fakeOverlayManager struct {
	createCalls int
}

func (f *fakeOverlayManager) ProbeVirtualSize(context.Context, string) (int64, error) {
	return 1 << 31, nil // 2 GiB
}
func (f *fakeOverlayManager) CreateOverlay(ctx context.Context, src model.SourceDisk, overlayPath, deviceName string, virtualSize int64) (*model.Overlay, error) {
	f.createCalls++
	return model.NewOverlay(src, overlayPath, deviceName, virtualSize)
}
func (f *fakeOverlayManager) VerifyHasBackingFile(context.Context, string) error { return nil }
func (f *fakeOverlayManager) Convert(context.Context, string, string, string, bool) error {
	return nil
}

type fakeModule struct{}

func (fakeModule) Convert(ctx context.Context, a appliance.Appliance, insp *model.Inspect, disks []model.SourceDisk, output convert.OutputView, requested model.RequestedCapabilities, staticIPs []string) (model.GrantedCapabilities, error) {
	return model.GrantedCapabilities{
		BlockBus: model.ControllerVirtioSCSI,
		NetBus:   "virtio",
		Video:    model.VideoVirtio,
	}, nil
}

func vm1Source() *model.Source {
	return &model.Source{
		Name:       "vm1",
		Hypervisor: model.HypervisorKVM,
		MemoryKiB:  1 << 20, // 1 GiB
		VCPUs:      1,
		Video:      model.VideoNone,
		Firmware:   model.FirmwareBIOS,
	}
}

func vm1Disks() []model.SourceDisk {
	return []model.SourceDisk{
		{ID: 0, URI: "/fake/vm1-disk0.img", DeclaredFormat: "raw", Controller: model.ControllerIDE},
	}
}

// TestRun_SingleRawDiskLinuxProducesManifest mirrors §8 scenario 1: a
// single 2 GiB raw disk, ext4 root using 1 GiB, no topology. The estimate
// should land at ~1 GiB and a manifest is emitted.
func TestRun_SingleRawDiskLinuxProducesManifest(t *testing.T) {
	reg := convert.NewRegistry()
	reg.Register("linux", "rhel", fakeModule{})

	insp := &model.Inspect{
		Type:   "linux",
		Distro: "rhel",
		Mounts: []model.MountedFilesystem{
			{Device: "/dev/sda1", MountPath: "/", FSType: "ext4"},
		},
	}

	root := t.TempDir()
	out := &fakeOutput{}
	overlays := &fakeOverlayManager{}
	d := &Driver{
		Input:    &fakeInput{source: vm1Source(), disks: vm1Disks()},
		Output:   out,
		Overlays: overlays,
		Convert:  reg,
		Logger:            nullLogger{},
		ToolName:          "hyperv2kvm-test",
		CheckDependencies: func() error { return nil },
		NewAppliance: func(mountDir string, readWrite bool) appliance.Appliance {
			return &fakeAppliance{root: root, insp: insp}
		},
	}

	mf, err := d.Run(context.Background(), Options{TempDir: t.TempDir()})
	require.NoError(t, err)
	require.NotNil(t, mf)

	assert.Equal(t, "vm1", mf.Source.Name)
	assert.True(t, out.metaCalled)
	require.Len(t, mf.Disks, 1)
	assert.Equal(t, "raw", mf.Disks[0].TargetFormat)
	require.NotNil(t, mf.Disks[0].EstimatedBytes)
	assert.Equal(t, int64(1<<30), *mf.Disks[0].EstimatedBytes) // ~1 GiB per the scenario
	assert.Equal(t, 1, overlays.createCalls)
}

// TestRun_InPlaceSkipsOverlaysAndMetadata mirrors §8 scenario 5.
func TestRun_InPlaceSkipsOverlaysAndMetadata(t *testing.T) {
	reg := convert.NewRegistry()
	reg.Register("linux", "rhel", fakeModule{})

	insp := &model.Inspect{
		Type:   "linux",
		Distro: "rhel",
		Mounts: []model.MountedFilesystem{
			{Device: "/dev/sda1", MountPath: "/", FSType: "ext4"},
		},
	}

	root := t.TempDir()
	overlays := &fakeOverlayManager{}
	d := &Driver{
		Input:    &fakeInput{source: vm1Source(), disks: vm1Disks()},
		Overlays: overlays,
		Convert:  reg,
		Logger:            nullLogger{},
		ToolName:          "hyperv2kvm-test",
		CheckDependencies: func() error { return nil },
		NewAppliance: func(mountDir string, readWrite bool) appliance.Appliance {
			return &fakeAppliance{root: root, insp: insp}
		},
	}

	mf, err := d.Run(context.Background(), Options{InPlace: true, TempDir: t.TempDir()})
	require.NoError(t, err)
	assert.Nil(t, mf)
	assert.Equal(t, 0, overlays.createCalls) // in-place never creates overlays
}

// TestRun_CompressedWithRawFailsBeforeOverlayCreation mirrors §8 scenario 3
// and the boundary case "--compressed with -of raw fails before any
// subprocess is launched".
func TestRun_CompressedWithRawFailsBeforeOverlayCreation(t *testing.T) {
	reg := convert.NewRegistry()
	overlays := &fakeOverlayManager{}
	d := &Driver{
		Input:    &fakeInput{source: vm1Source(), disks: vm1Disks()},
		Output:   &fakeOutput{},
		Overlays: overlays,
		Convert:  reg,
		Logger:            nullLogger{},
		ToolName:          "hyperv2kvm-test",
		CheckDependencies: func() error { return nil },
	}

	_, err := d.Run(context.Background(), Options{
		Compressed:   true,
		OutputFormat: "raw",
		TempDir:      t.TempDir(),
	})
	require.Error(t, err)
	assert.Equal(t, 0, overlays.createCalls)
}

// TestRun_PrintSourceIsIdempotent exercises the "running --print-source
// twice yields byte-identical output" round-trip property (§8).
func TestRun_PrintSourceIsIdempotent(t *testing.T) {
	d := &Driver{
		Input:             &fakeInput{source: vm1Source(), disks: vm1Disks()},
		Logger:            nullLogger{},
		CheckDependencies: func() error { return nil },
	}

	var first, second bytes.Buffer
	d.Stdout = &first
	_, err := d.Run(context.Background(), Options{PrintSource: true})
	require.NoError(t, err)

	d.Stdout = &second
	_, err = d.Run(context.Background(), Options{PrintSource: true})
	require.NoError(t, err)

	assert.Equal(t, first.String(), second.String())
	assert.NotEmpty(t, first.String())
}
