// SPDX-License-Identifier: LGPL-3.0-or-later

package estimator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hyperv2kvm/internal/model"
)

func mustOverlay(t *testing.T, virtualSize int64) *model.Overlay {
	t.Helper()
	ov, err := model.NewOverlay(model.SourceDisk{ID: 0, URI: "nbd://x"}, "/tmp/o.qcow2", "sda", virtualSize)
	require.NoError(t, err)
	return ov
}

// Scenario 1 from §8: single raw disk, ext4 root using 1 GiB of a 2 GiB disk.
func TestEstimate_Scenario1SingleDisk(t *testing.T) {
	const gib = 1 << 30
	ov := mustOverlay(t, 2*gib)
	mounts := []model.MountpointStats{
		{MountPath: "/", FSType: "ext4", BlockSize: 4096, Blocks: (2 * gib) / 4096, BlocksFree: gib / 4096, Files: 1000, FilesFree: 900},
	}

	Estimate(mounts, []*model.Overlay{ov})

	require.NotNil(t, ov.Stats.EstimatedSize)
	// fs_total == src_total here, so ratio == 1, and the estimate is
	// virtual_size - free_bytes == ~1 GiB.
	assert.InDelta(t, gib, *ov.Stats.EstimatedSize, float64(4096))
}

func TestEstimate_SrcTotalZero_NoOp(t *testing.T) {
	ov := &model.Overlay{VirtualSize: 0}
	mounts := []model.MountpointStats{{FSType: "ext4", BlockSize: 4096, Blocks: 100, BlocksFree: 50}}

	Estimate(mounts, []*model.Overlay{ov})

	assert.Nil(t, ov.Stats.EstimatedSize)
}

func TestEstimate_NTFSNeverCounted(t *testing.T) {
	const gib = 1 << 30
	ov := mustOverlay(t, gib)
	mounts := []model.MountpointStats{
		{MountPath: "/", FSType: "ntfs", BlockSize: 4096, Blocks: gib / 4096, BlocksFree: gib / 4096},
	}

	Estimate(mounts, []*model.Overlay{ov})

	require.NotNil(t, ov.Stats.EstimatedSize)
	assert.Equal(t, int64(gib), *ov.Stats.EstimatedSize, "ntfs contributes zero free-space saving")
}

func TestEstimate_NeverExceedsVirtualSizeOrUndershootsZero(t *testing.T) {
	const blockSize = 4096
	overlays := []*model.Overlay{
		mustOverlay(t, 1<<30),
		mustOverlay(t, 3<<30),
		mustOverlay(t, 10<<30),
	}
	mounts := []model.MountpointStats{
		{MountPath: "/", FSType: "ext4", BlockSize: blockSize, Blocks: (14 << 30) / blockSize, BlocksFree: (9 << 30) / blockSize, Files: 1, FilesFree: 1000},
		{MountPath: "/boot", FSType: "xfs", BlockSize: blockSize, Blocks: (1 << 20) / blockSize, BlocksFree: (1 << 19) / blockSize},
	}

	Estimate(mounts, overlays)

	var sum int64
	for _, ov := range overlays {
		require.NotNil(t, ov.Stats.EstimatedSize)
		assert.LessOrEqual(t, *ov.Stats.EstimatedSize, ov.VirtualSize)
		assert.GreaterOrEqual(t, *ov.Stats.EstimatedSize, int64(0))
		sum += *ov.Stats.EstimatedSize
	}

	var srcTotal int64
	for _, ov := range overlays {
		srcTotal += ov.VirtualSize
	}
	assert.LessOrEqual(t, sum, srcTotal)
}

func TestEstimate_StableUnderOverlayPermutation(t *testing.T) {
	const blockSize = 4096
	mounts := []model.MountpointStats{
		{MountPath: "/", FSType: "ext4", BlockSize: blockSize, Blocks: (8 << 30) / blockSize, BlocksFree: (3 << 30) / blockSize},
	}

	a := []*model.Overlay{mustOverlay(t, 2<<30), mustOverlay(t, 5<<30)}
	b := []*model.Overlay{a[1], a[0]} // same overlays, reversed order

	aCopy := []*model.Overlay{
		cloneOverlay(t, a[0]),
		cloneOverlay(t, a[1]),
	}
	bCopy := []*model.Overlay{
		cloneOverlay(t, b[0]),
		cloneOverlay(t, b[1]),
	}

	Estimate(mounts, aCopy)
	Estimate(mounts, bCopy)

	assert.Equal(t, *aCopy[0].Stats.EstimatedSize, *bCopy[1].Stats.EstimatedSize)
	assert.Equal(t, *aCopy[1].Stats.EstimatedSize, *bCopy[0].Stats.EstimatedSize)
}

func cloneOverlay(t *testing.T, ov *model.Overlay) *model.Overlay {
	t.Helper()
	clone, err := model.NewOverlay(ov.Source, ov.Path, ov.DeviceName, ov.VirtualSize)
	require.NoError(t, err)
	return clone
}

func TestCheckGuestFreeSpace(t *testing.T) {
	const mib = 1 << 20
	ok := []model.MountpointStats{
		{MountPath: "/boot", BlockSize: 1, BlocksFree: 60 * mib},
		{MountPath: "/", BlockSize: 1, BlocksFree: 60 * mib, Files: 0},
	}
	require.NoError(t, CheckGuestFreeSpace(ok, false))

	tooLittleBoot := []model.MountpointStats{
		{MountPath: "/boot", BlockSize: 1, BlocksFree: 10 * mib},
	}
	require.Error(t, CheckGuestFreeSpace(tooLittleBoot, false))

	rootNoBootLinux := []model.MountpointStats{
		{MountPath: "/", BlockSize: 1, BlocksFree: 60 * mib},
	}
	require.Error(t, CheckGuestFreeSpace(rootNoBootLinux, false), "root alone on linux needs 100 MiB")

	rootNoBootWindows := []model.MountpointStats{
		{MountPath: "/", BlockSize: 1, BlocksFree: 60 * mib},
	}
	require.NoError(t, CheckGuestFreeSpace(rootNoBootWindows, true), "root alone on windows only needs 50 MiB")

	tooFewInodes := []model.MountpointStats{
		{MountPath: "/data", BlockSize: 1, BlocksFree: 60 * mib, Files: 1000, FilesFree: 10},
	}
	require.Error(t, CheckGuestFreeSpace(tooFewInodes, false))

	zeroFilesSkipsInodeCheck := []model.MountpointStats{
		{MountPath: "/data", BlockSize: 1, BlocksFree: 60 * mib, Files: 0, FilesFree: 0},
	}
	require.NoError(t, CheckGuestFreeSpace(zeroFilesSkipsInodeCheck, false))
}
