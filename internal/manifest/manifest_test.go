// SPDX-License-Identifier: LGPL-3.0-or-later

package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperv2kvm/internal/model"
)

func mustSource(t *testing.T) *model.Source {
	t.Helper()
	src, _, err := model.NewSource(model.Source{Name: "vm1", MemoryKiB: 1024 * 1024, VCPUs: 2})
	require.NoError(t, err)
	return src
}

func TestBuilder_RequiresAtLeastOneDisk(t *testing.T) {
	b := NewBuilder("hyperv2kvm-test").WithSource(mustSource(t))
	_, err := b.Build()
	require.Error(t, err)
}

func TestBuilder_RejectsInvalidAndDuplicateDiskIDs(t *testing.T) {
	b := NewBuilder("hyperv2kvm-test").WithSource(mustSource(t))
	b.AddDisk(Disk{ID: "bad id!", TargetFormat: "raw", Bus: "sda"})
	_, err := b.Build()
	require.Error(t, err)

	b2 := NewBuilder("hyperv2kvm-test").WithSource(mustSource(t))
	b2.AddDisk(Disk{ID: "sda", TargetFormat: "raw", Bus: "sda"})
	b2.AddDisk(Disk{ID: "sda", TargetFormat: "raw", Bus: "sdb"})
	_, err = b2.Build()
	require.Error(t, err)
}

func TestBuilder_BuildsValidManifest(t *testing.T) {
	src := mustSource(t)
	m, err := NewBuilder("hyperv2kvm-test").
		WithSource(src).
		WithVM(src, model.FirmwareUEFI, "linux", "rhel9").
		WithCapabilities(model.GrantedCapabilities{BlockBus: model.ControllerVirtioSCSI, NetBus: "virtio", Video: model.VideoVirtio}).
		AddDisk(Disk{ID: "sda", TargetFormat: "qcow2", Bus: "sda", VirtualBytes: 2 << 30}).
		AddWarning("estimate", "disk sda had no declared format override").
		Build()
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, m.ManifestVersion)
	assert.Equal(t, "uefi", m.VM.Firmware)
	assert.Equal(t, "virtio-scsi", m.Capabilities.BlockBus)
	assert.Len(t, m.Warnings, 1)
}

func TestJSONYAMLRoundTrip(t *testing.T) {
	src := mustSource(t)
	m, err := NewBuilder("hyperv2kvm-test").
		WithSource(src).
		WithVM(src, model.FirmwareBIOS, "linux", "").
		AddDisk(Disk{ID: "sda", TargetFormat: "raw", Bus: "sda", VirtualBytes: 1 << 30}).
		Build()
	require.NoError(t, err)

	jsonBytes, err := ToJSON(m)
	require.NoError(t, err)
	fromJSON, err := FromJSON(jsonBytes)
	require.NoError(t, err)
	assert.Equal(t, m.Source.Name, fromJSON.Source.Name)

	yamlBytes, err := ToYAML(m)
	require.NoError(t, err)
	fromYAML, err := FromYAML(yamlBytes)
	require.NoError(t, err)
	assert.Equal(t, m.Disks[0].ID, fromYAML.Disks[0].ID)
}
