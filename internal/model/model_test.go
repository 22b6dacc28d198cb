// SPDX-License-Identifier: LGPL-3.0-or-later

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSource_Invariants(t *testing.T) {
	_, _, err := NewSource(Source{Name: "", MemoryKiB: 1024, VCPUs: 1})
	require.Error(t, err, "empty name must be rejected")

	_, _, err = NewSource(Source{Name: "vm1", MemoryKiB: 0, VCPUs: 1})
	require.Error(t, err, "zero memory must be rejected")

	_, _, err = NewSource(Source{Name: "vm1", MemoryKiB: 1024, VCPUs: 0})
	require.Error(t, err, "zero vcpu must be rejected")

	src, warnings, err := NewSource(Source{
		Name:      "vm1",
		MemoryKiB: 1024 * 1024,
		VCPUs:     4,
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "vm1", src.Name)
}

func TestNewSource_WarnsOnOtherHypervisor(t *testing.T) {
	_, warnings, err := NewSource(Source{
		Name:       "vm1",
		MemoryKiB:  1024,
		VCPUs:      1,
		Hypervisor: OtherHypervisor("acme-hv"),
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "acme-hv")
}

func TestNewSource_WarnsOnTopologyMismatch(t *testing.T) {
	_, warnings, err := NewSource(Source{
		Name:      "vm1",
		MemoryKiB: 1024,
		VCPUs:     4,
		Topology:  &CPUTopology{Sockets: 1, Cores: 1, Threads: 1},
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)

	_, warnings, err = NewSource(Source{
		Name:      "vm1",
		MemoryKiB: 1024,
		VCPUs:     4,
		Topology:  &CPUTopology{Sockets: 2, Cores: 2, Threads: 1},
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestNewSource_RejectsInvalidTopology(t *testing.T) {
	_, _, err := NewSource(Source{
		Name:      "vm1",
		MemoryKiB: 1024,
		VCPUs:     1,
		Topology:  &CPUTopology{Sockets: 0, Cores: 1, Threads: 1},
	})
	require.Error(t, err)
}

func TestDeviceNameForIndex_Bijection(t *testing.T) {
	cases := map[int]string{
		0:   "sda",
		1:   "sdb",
		25:  "sdz",
		26:  "sdaa",
		27:  "sdab",
		51:  "sdaz",
		52:  "sdba",
		701: "sdzz",
		702: "sdaaa",
	}
	for i, want := range cases {
		assert.Equal(t, want, DeviceNameForIndex(i), "index %d", i)
	}
}

func TestDeviceNameForIndex_NoCollisions(t *testing.T) {
	seen := make(map[string]int)
	for i := 0; i < 1000; i++ {
		name := DeviceNameForIndex(i)
		if prev, ok := seen[name]; ok {
			t.Fatalf("collision: index %d and %d both produced %q", prev, i, name)
		}
		seen[name] = i
	}
}

func TestNewOverlay_RejectsZeroVirtualSize(t *testing.T) {
	_, err := NewOverlay(SourceDisk{ID: 0, URI: "nbd://host/disk"}, "/tmp/o.qcow2", "sda", 0)
	require.Error(t, err)
}

func TestNewOverlay_Valid(t *testing.T) {
	ov, err := NewOverlay(SourceDisk{ID: 0, URI: "nbd://host/disk"}, "/tmp/o.qcow2", "sda", 2<<30)
	require.NoError(t, err)
	assert.Equal(t, int64(2<<30), ov.VirtualSize)
	assert.Nil(t, ov.Stats.EstimatedSize)
	assert.Nil(t, ov.Stats.ActualSize)
}
